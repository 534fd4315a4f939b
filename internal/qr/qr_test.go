package qr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contract = "0x1234567890abcdef1234567890ABCDEF12345678"

func TestGenerateAndParse(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	data, err := Generate("BATCH-42", contract, map[string]string{
		"manufacturer": "Acme",
		"productName":  "Widgets",
		"productId":    "override-attempt",
	}, now)
	require.NoError(t, err)

	var raw map[string]string
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	assert.Equal(t, "BATCH-42", raw["productId"], "meta never overrides fixed fields")
	assert.Equal(t, "2024-03-01T11:30:00Z", raw["timestamp"])
	assert.Equal(t, "2.0", raw["version"])
	assert.Equal(t, "ScanChain-BNB", raw["platform"])
	assert.Equal(t, "Acme", raw["manufacturer"])

	p, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "BATCH-42", p.ProductID)
	assert.Equal(t, contract, p.ContractAddress)
	assert.Equal(t, map[string]string{"manufacturer": "Acme", "productName": "Widgets"}, p.Extra)

	meta := MetadataFor(p)
	assert.Equal(t, Metadata{
		ProductID:       "BATCH-42",
		ContractAddress: contract,
		Manufacturer:    "Acme",
		ProductName:     "Widgets",
		CreatedAt:       "2024-03-01T11:30:00Z",
		QRCodeVersion:   "1.0",
		Platform:        "ScanChain BNB",
	}, meta)
}

func TestGenerate_RejectsBadAddress(t *testing.T) {
	_, err := Generate("BATCH-1", "0x123", nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Generate("", contract, nil, time.Now())
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", "https://example.com/p/1", ErrInvalidPayload},
		{"array", `["productId"]`, ErrInvalidPayload},
		{"missing product", `{"contractAddress":"` + contract + `"}`, ErrMissingField},
		{"missing contract", `{"productId":"P1"}`, ErrMissingField},
		{"numeric product", `{"productId":7,"contractAddress":"` + contract + `"}`, ErrMissingField},
		{"short address", `{"productId":"P1","contractAddress":"0xabc"}`, ErrInvalidAddress},
		{"no prefix", `{"productId":"P1","contractAddress":"1234567890abcdef1234567890abcdef12345678"}`, ErrInvalidAddress},
		{"non hex", `{"productId":"P1","contractAddress":"0xZZ34567890abcdef1234567890abcdef12345678"}`, ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_IgnoresNonStringExtras(t *testing.T) {
	p, err := Parse(`  {"productId":"P1","contractAddress":"` + contract + `","count":3,"lot":"A"}  `)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lot": "A"}, p.Extra)
}

func TestVerificationURL(t *testing.T) {
	assert.Equal(t, "https://scanchain.app/verify?productId=BATCH-1", VerificationURL("", "BATCH-1"))
	assert.Equal(t, "http://localhost:3000/verify?productId=a%20b%26c%2Fd%2Be",
		VerificationURL("http://localhost:3000/", "a b&c/d+e"))
}
