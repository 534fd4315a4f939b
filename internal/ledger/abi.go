package ledger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ProductRegistryABI is the ABI of the deployed product registry contract.
const ProductRegistryABI = `[
	{"inputs":[{"internalType":"string","name":"productId","type":"string"},{"internalType":"string","name":"fileHash","type":"string"}],"name":"storeProductHash","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"string","name":"productId","type":"string"}],"name":"getProductHash","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"productId","type":"string"}],"name":"getProductInfo","outputs":[{"internalType":"string","name":"fileHash","type":"string"},{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"productId","type":"string"}],"name":"productExists","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"string","name":"productId","type":"string"},{"indexed":false,"internalType":"string","name":"fileHash","type":"string"},{"indexed":true,"internalType":"address","name":"owner","type":"address"}],"name":"ProductStored","type":"event"}
]`

const (
	methodStore   = "storeProductHash"
	methodGetHash = "getProductHash"
	methodGetInfo = "getProductInfo"
	methodExists  = "productExists"
	eventStored   = "ProductStored"
)

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
	parsedErr  error
)

// registryABI returns the parsed contract ABI.
func registryABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABI, parsedErr = abi.JSON(strings.NewReader(ProductRegistryABI))
		if parsedErr != nil {
			parsedErr = fmt.Errorf("failed to parse product registry ABI: %w", parsedErr)
		}
	})
	return parsedABI, parsedErr
}
