// Package qr builds and reads the JSON payloads printed as QR codes on
// product packaging. Rendering the image is left to the client.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	// PayloadVersion is written into every generated payload.
	PayloadVersion = "2.0"
	// Platform identifies payloads produced by this service.
	Platform = "ScanChain-BNB"
	// DefaultBaseURL is used by VerificationURL when no base is given.
	DefaultBaseURL = "https://scanchain.app"

	metadataVersion  = "1.0"
	metadataPlatform = "ScanChain BNB"
)

var (
	ErrInvalidPayload = errors.New("invalid QR code data")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidAddress = errors.New("invalid contract address format")
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

var reserved = map[string]bool{
	"productId": true, "contractAddress": true, "timestamp": true, "version": true, "platform": true,
}

// Payload is the decoded content of a QR code. Extra holds any additional
// string fields carried next to the fixed ones.
type Payload struct {
	ProductID       string
	ContractAddress string
	Timestamp       string
	Version         string
	Platform        string
	Extra           map[string]string
}

// Metadata is the display summary of a payload.
type Metadata struct {
	ProductID       string `json:"productId"`
	ContractAddress string `json:"contractAddress"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	ProductName     string `json:"productName,omitempty"`
	CreatedAt       string `json:"createdAt"`
	QRCodeVersion   string `json:"qrCodeVersion"`
	Platform        string `json:"platform"`
}

// MarshalJSON flattens Extra into the top-level object.
func (p Payload) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(p.Extra)+5)
	for k, v := range p.Extra {
		if !reserved[k] {
			m[k] = v
		}
	}
	m["productId"] = p.ProductID
	m["contractAddress"] = p.ContractAddress
	m["timestamp"] = p.Timestamp
	m["version"] = p.Version
	m["platform"] = p.Platform
	return json.Marshal(m)
}

// UnmarshalJSON reads the fixed fields and keeps string extras.
// Non-string extras are dropped.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	str := func(k string) string {
		s, _ := raw[k].(string)
		return s
	}
	*p = Payload{
		ProductID:       str("productId"),
		ContractAddress: str("contractAddress"),
		Timestamp:       str("timestamp"),
		Version:         str("version"),
		Platform:        str("platform"),
	}
	for k, v := range raw {
		s, ok := v.(string)
		if reserved[k] || !ok {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		p.Extra[k] = s
	}
	return nil
}

// Generate returns the JSON payload for productID. Keys in meta never
// override the fixed fields.
func Generate(productID, contractAddress string, meta map[string]string, now time.Time) (string, error) {
	p := Payload{
		ProductID:       productID,
		ContractAddress: contractAddress,
		Timestamp:       now.UTC().Format(time.RFC3339),
		Version:         PayloadVersion,
		Platform:        Platform,
		Extra:           meta,
	}
	if err := Validate(p); err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR payload: %w", err)
	}
	return string(data), nil
}

// Parse decodes and validates a scanned payload.
func Parse(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := Validate(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks the required fields.
func Validate(p Payload) error {
	if p.ProductID == "" {
		return fmt.Errorf("%w: productId", ErrMissingField)
	}
	if p.ContractAddress == "" {
		return fmt.Errorf("%w: contractAddress", ErrMissingField)
	}
	if !addressPattern.MatchString(p.ContractAddress) {
		return ErrInvalidAddress
	}
	return nil
}

// VerificationURL links to the public verification page for productID.
func VerificationURL(baseURL, productID string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/verify?productId=" + strings.ReplaceAll(url.QueryEscape(productID), "+", "%20")
}

// MetadataFor summarizes p for display.
func MetadataFor(p Payload) Metadata {
	return Metadata{
		ProductID:       p.ProductID,
		ContractAddress: p.ContractAddress,
		Manufacturer:    p.Extra["manufacturer"],
		ProductName:     p.Extra["productName"],
		CreatedAt:       p.Timestamp,
		QRCodeVersion:   metadataVersion,
		Platform:        metadataPlatform,
	}
}
