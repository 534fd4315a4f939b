package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/scanchain/scanchain/internal/auth"
	"github.com/scanchain/scanchain/pkg/types"
)

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by the login endpoints.
type AuthResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    auth.User `json:"user"`
	Token   string    `json:"token,omitempty"`
}

// handleRegister handles POST /api/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := s.readJSON(r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.auth.Register(r.Context(), in)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
		return
	case errors.Is(err, auth.ErrUserExists):
		s.writeError(w, http.StatusConflict, "User with this email or username already exists")
		return
	case err != nil:
		s.internalError(w, "registration failed", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "User registered successfully",
		User:    user.Sanitized(),
	})
}

// handleLogin handles POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	result, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		s.internalError(w, "login failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Login successful",
		User:    result.User.Sanitized(),
		Token:   result.Token,
	})
}

// handleDemoLogin handles POST /api/auth/demo/{role}
func (s *Server) handleDemoLogin(w http.ResponseWriter, r *http.Request) {
	role := types.Role(r.PathValue("role"))
	result, err := s.auth.DemoLogin(r.Context(), role)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "Demo login failed")
		return
	}

	s.writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Demo " + string(role) + " login successful",
		User:    result.User.Sanitized(),
		Token:   result.Token,
	})
}

// handleLogout handles POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(CtxTokenKey).(string)
	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.internalError(w, "logout failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logout successful",
	})
}

// handleGetProfile handles GET /api/auth/profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	stats, err := s.auth.Stats(user.ID)
	if err != nil {
		s.internalError(w, "failed to load user stats", err)
		return
	}
	hashes, err := s.auth.Hashes(user.ID)
	if err != nil {
		s.internalError(w, "failed to load hash associations", err)
		return
	}
	if hashes == nil {
		hashes = []auth.HashAssociation{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": struct {
			auth.User
			Stats            auth.Stats             `json:"stats"`
			BlockchainHashes []auth.HashAssociation `json:"blockchainHashes"`
		}{user.Sanitized(), stats, hashes},
	})
}

// UpdateProfileRequest is the body of PUT /api/auth/profile. Absent fields
// are left unchanged.
type UpdateProfileRequest struct {
	FullName    *string `json:"fullName"`
	CompanyName *string `json:"companyName"`
}

// handleUpdateProfile handles PUT /api/auth/profile
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())

	var req UpdateProfileRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := s.auth.UpdateProfile(user.ID, req.FullName, req.CompanyName)
	if errors.Is(err, auth.ErrInvalidInput) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "failed to update profile", err)
		return
	}

	s.writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Profile updated successfully",
		User:    updated.Sanitized(),
	})
}

// handleVerifySession handles GET /api/auth/verify
func (s *Server) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	s.writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Token is valid",
		User:    user.Sanitized(),
	})
}

// handleHashes handles GET /api/auth/hashes
func (s *Server) handleHashes(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	hashes, err := s.auth.Hashes(user.ID)
	if err != nil {
		s.internalError(w, "failed to load hash associations", err)
		return
	}
	if hashes == nil {
		hashes = []auth.HashAssociation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"hashes":  hashes,
	})
}

// handleStats handles GET /api/auth/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	stats, err := s.auth.Stats(user.ID)
	if err != nil {
		s.internalError(w, "failed to load user stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}
