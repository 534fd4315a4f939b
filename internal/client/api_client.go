package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout covers a full store pipeline including confirmation.
const DefaultTimeout = 6 * time.Minute

// APIError is a failed API call. Uncertain is set when the server accepted
// an upload but could not confirm the ledger write.
type APIError struct {
	StatusCode int
	Message    string
	Uncertain  bool
	TxHash     string
	Locator    string
}

func (e *APIError) Error() string {
	if e.Uncertain {
		return fmt.Sprintf("API error (%d): %s (tx %s)", e.StatusCode, e.Message, e.TxHash)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// APIClient talks to the ScanChain HTTP API with a bearer session token.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL. token may be empty for public routes.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// SetToken replaces the session token.
func (c *APIClient) SetToken(token string) {
	c.token = token
}

// Token returns the current session token.
func (c *APIClient) Token() string {
	return c.token
}

// SetTimeout overrides the per-request timeout.
func (c *APIClient) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// BaseURL returns the API base URL.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// do performs a JSON request and decodes the response into out.
func (c *APIClient) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *APIClient) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Success   *bool  `json:"success"`
		Error     string `json:"error"`
		Uncertain bool   `json:"uncertain"`
		TxHash    string `json:"txHash"`
		Locator   string `json:"storageLocator"`
	}
	decoded := json.Unmarshal(respBody, &envelope) == nil

	if resp.StatusCode >= 400 || (decoded && envelope.Success != nil && !*envelope.Success) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decoded {
			if envelope.Error != "" {
				apiErr.Message = envelope.Error
			}
			apiErr.Uncertain = envelope.Uncertain
			apiErr.TxHash = envelope.TxHash
			apiErr.Locator = envelope.Locator
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Health retrieves server health. No token is needed.
func (c *APIClient) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates and stores the returned token on the client.
func (c *APIClient) Login(email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// DemoLogin signs in as the demo account for role and stores the token.
func (c *APIClient) DemoLogin(role string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(http.MethodPost, "/api/auth/demo/"+url.PathEscape(role), nil, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Register creates an account.
func (c *APIClient) Register(req *RegisterRequest) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Logout ends the current session.
func (c *APIClient) Logout() error {
	if err := c.do(http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Upload stores a document as a new product.
func (c *APIClient) Upload(req *UploadRequest) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"productId", req.ProductID},
		{"manufacturerName", req.ManufacturerName},
		{"batchName", req.BatchName},
		{"productType", req.ProductType},
		{"description", req.Description},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.FileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.send(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify re-checks productID against the document at locator. An empty
// locator uses the document recorded for the batch.
func (c *APIClient) Verify(productID, locator string) (*VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(http.MethodPost, "/api/verify", map[string]string{
		"productId": productID,
		"locator":   locator,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan records a supplier scan of a QR payload.
func (c *APIClient) Scan(qrData, supplierName, supplierLocation string) (*ScanResponse, error) {
	var resp ScanResponse
	err := c.do(http.MethodPost, "/api/scan", map[string]string{
		"qrData":           qrData,
		"supplierName":     supplierName,
		"supplierLocation": supplierLocation,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Product retrieves the ledger record for productID.
func (c *APIClient) Product(productID string) (*ProductResponse, error) {
	var resp ProductResponse
	if err := c.do(http.MethodGet, "/api/product/"+url.PathEscape(productID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Batch retrieves the registry record for batchID.
func (c *APIClient) Batch(batchID string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.do(http.MethodGet, "/api/batch/"+url.PathEscape(batchID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search finds products matching query under criteria (empty means all).
func (c *APIClient) Search(query, criteria string) (*SearchResponse, error) {
	params := url.Values{"q": {query}}
	if criteria != "" {
		params.Set("criteria", criteria)
	}
	var resp SearchResponse
	if err := c.do(http.MethodGet, "/api/products/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Network retrieves ledger network information.
func (c *APIClient) Network() (*NetworkInfo, error) {
	var resp struct {
		Network NetworkInfo `json:"network"`
	}
	if err := c.do(http.MethodGet, "/api/network", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Network, nil
}

// QRParse asks the server to validate a QR payload and check its product.
func (c *APIClient) QRParse(qrData string) (*QRParseResponse, error) {
	var resp QRParseResponse
	if err := c.do(http.MethodPost, "/api/qr/parse", map[string]string{"qrData": qrData}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
