package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scanchain/scanchain/internal/client"
)

// session is the login state kept between CLI invocations.
type session struct {
	Endpoint  string    `json:"endpoint"`
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// sessionPath is overridden in tests.
var sessionPath = func() string {
	return filepath.Join(dataDir(), "session.json")
}

func loadSession() (*session, error) {
	data, err := os.ReadFile(sessionPath())
	if err != nil {
		return nil, err
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file: %w", err)
	}
	return &s, nil
}

func saveSession(s *session) error {
	path := sessionPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func clearSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetClient builds an API client for the current endpoint, carrying the
// saved session token when it was issued by the same endpoint.
func GetClient() *client.APIClient {
	endpoint := GetAPIEndpoint()
	token := ""
	if s, err := loadSession(); err == nil && s.Endpoint == endpoint {
		token = s.Token
	}
	return client.NewAPIClient(endpoint, token)
}

// requireSession returns a client or an error telling the user to log in.
func requireSession() (*client.APIClient, error) {
	c := GetClient()
	if c.Token() == "" {
		return nil, fmt.Errorf("not logged in to %s (run: scanchain login)", GetAPIEndpoint())
	}
	return c, nil
}

// describeError turns API errors into a one-line message, with a hint for
// expired sessions.
func describeError(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case 401, 403:
		if apiErr.Message == "Invalid or expired token" || apiErr.Message == "Access token required" {
			return fmt.Errorf("%s (run: scanchain login)", apiErr.Message)
		}
	}
	return errors.New(apiErr.Message)
}
