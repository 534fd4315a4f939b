// Package auth manages user accounts, password login and JWT sessions.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/pkg/types"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user with this email or username already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotFound           = errors.New("user not found")
)

const (
	prefixUser      = "user/"
	prefixUserEmail = "user-email/"
	prefixUserName  = "user-name/"
	prefixSession   = "session/"

	minPasswordLength = 6
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// User is a registered account. PasswordHash never leaves the package in
// API responses; use Sanitized.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Role         types.Role `json:"role"`
	FullName     string     `json:"fullName"`
	CompanyName  string     `json:"companyName,omitempty"`
	Verified     bool       `json:"verified"`
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin"`
}

// Sanitized returns a copy without the password hash.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// Identity returns the principal used by the verification pipeline.
func (u User) Identity() types.Identity {
	return types.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Session is a login. The token itself is not stored, only its digest.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	TokenHash   string     `json:"tokenHash"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	Active      bool       `json:"active"`
	LoggedOutAt *time.Time `json:"loggedOutAt,omitempty"`
}

// RegisterInput is the data accepted by Register.
type RegisterInput struct {
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Password    string     `json:"password"`
	Role        types.Role `json:"role"`
	FullName    string     `json:"fullName"`
	CompanyName string     `json:"companyName"`
	Verified    bool       `json:"-"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Config configures the auth service.
type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// DefaultConfig returns 24h tokens and bcrypt cost 12.
func DefaultConfig() Config {
	return Config{TokenTTL: 24 * time.Hour, BcryptCost: 12}
}

// Service handles accounts and sessions.
type Service struct {
	kv     registry.KV
	tokens *TokenIssuer
	cost   int
	now    func() time.Time

	// dummyHash is compared against when the email is unknown so both
	// failures take the same time.
	dummyHash []byte
}

// NewService creates the service over kv.
func NewService(kv registry.KV, cfg Config) (*Service, error) {
	tokens, err := NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = 12
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return &Service{kv: kv, tokens: tokens, cost: cost, now: time.Now, dummyHash: dummy}, nil
}

// Register creates an account. Email and username are unique ignoring case.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Role == "" {
		in.Role = types.RoleUser
	}

	switch {
	case in.Username == "":
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	case !emailPattern.MatchString(in.Email):
		return User{}, fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	case len(in.Password) < minPasswordLength:
		return User{}, fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, minPasswordLength)
	case !in.Role.IsValid():
		return User{}, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: string(hash),
		Role:         in.Role,
		FullName:     in.FullName,
		CompanyName:  in.CompanyName,
		Verified:     in.Verified,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}

	emailKey := prefixUserEmail + strings.ToLower(user.Email)
	nameKey := prefixUserName + strings.ToLower(user.Username)
	err = s.kv.Update(func(txn registry.Txn) error {
		for _, key := range []string{emailKey, nameKey} {
			if _, err := txn.Get(key); err == nil {
				return ErrUserExists
			} else if !errors.Is(err, registry.ErrKeyNotFound) {
				return err
			}
		}
		if err := putJSON(txn, prefixUser+user.ID, user); err != nil {
			return err
		}
		if err := txn.Set(emailKey, []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set(nameKey, []byte(user.ID))
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("failed to save user: %w", err)
	}

	logging.InfoContext(ctx, "user registered", "user_id", user.ID, "role", string(user.Role), logging.Component("auth"))
	logging.Audit(logging.AuditEvent{Operation: "user_registered", Actor: user.Email, Target: user.ID, Result: "success"})
	return user.Sanitized(), nil
}

// Login checks the password and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userByEmail(strings.TrimSpace(email))
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.auditLogin(email, "", "failure")
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil || !user.IsActive {
		s.auditLogin(email, user.ID, "failure")
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	session := Session{ID: uuid.NewString(), UserID: user.ID, CreatedAt: now, Active: true}
	token, expires, err := s.tokens.Issue(user, session.ID, now)
	if err != nil {
		return nil, err
	}
	session.TokenHash = hashing.Sum([]byte(token)).String()
	session.ExpiresAt = expires

	err = s.kv.Update(func(txn registry.Txn) error {
		var current User
		if err := getJSON(txn, prefixUser+user.ID, &current); err != nil {
			return err
		}
		current.LastLogin = &now
		user = &current
		if err := putJSON(txn, prefixUser+user.ID, current); err != nil {
			return err
		}
		return putJSON(txn, prefixSession+session.ID, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s.auditLogin(email, user.ID, "success")
	return &LoginResult{User: user.Sanitized(), Token: token, ExpiresAt: expires}, nil
}

func (s *Service) auditLogin(email, userID, result string) {
	logging.Audit(logging.AuditEvent{Operation: "user_login", Actor: email, Target: userID, Result: result})
}

// VerifyToken validates token and its session and returns the claims and current user.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Claims, User, error) {
	claims, err := s.tokens.Parse(token, s.now())
	if err != nil {
		return nil, User{}, err
	}

	var session Session
	if err := s.getJSON(prefixSession+claims.ID, &session); err != nil {
		return nil, User{}, ErrInvalidToken
	}
	if !session.Active || session.UserID != claims.UserID || session.TokenHash != hashing.Sum([]byte(token)).String() {
		return nil, User{}, ErrInvalidToken
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, User{}, ErrSessionExpired
	}

	user, err := s.Profile(claims.UserID)
	if err != nil || !user.IsActive {
		return nil, User{}, ErrInvalidToken
	}
	return claims, user, nil
}

// Logout deactivates the session behind token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token, s.now())
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil
		}
		return err
	}

	now := s.now().UTC()
	err = s.kv.Update(func(txn registry.Txn) error {
		var session Session
		if err := getJSON(txn, prefixSession+claims.ID, &session); err != nil {
			return err
		}
		session.Active = false
		session.LoggedOutAt = &now
		return putJSON(txn, prefixSession+session.ID, session)
	})
	if errors.Is(err, registry.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	logging.InfoContext(ctx, "user logged out", "user_id", claims.UserID, logging.Component("auth"))
	return nil
}

// Profile returns the sanitized user.
func (s *Service) Profile(userID string) (User, error) {
	var user User
	if err := s.getJSON(prefixUser+userID, &user); err != nil {
		if errors.Is(err, registry.ErrKeyNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user.Sanitized(), nil
}

// UpdateProfile changes the display fields of a user. Nil leaves a field unchanged.
func (s *Service) UpdateProfile(userID string, fullName, companyName *string) (User, error) {
	var updated User
	err := s.kv.Update(func(txn registry.Txn) error {
		if err := getJSON(txn, prefixUser+userID, &updated); err != nil {
			return err
		}
		if fullName != nil {
			updated.FullName = *fullName
		}
		if companyName != nil {
			updated.CompanyName = *companyName
		}
		return putJSON(txn, prefixUser+userID, updated)
	})
	if errors.Is(err, registry.ErrKeyNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return updated.Sanitized(), nil
}

func (s *Service) userByEmail(email string) (*User, error) {
	id, err := s.kv.Get(prefixUserEmail + strings.ToLower(email))
	if errors.Is(err, registry.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var user User
	if err := s.getJSON(prefixUser+string(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) getJSON(key string, v any) error {
	data, err := s.kv.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func putJSON(txn registry.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn registry.Txn, key string, v any) error {
	data, err := txn.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
