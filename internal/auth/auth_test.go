package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/ledger"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/verification"
	"github.com/scanchain/scanchain/pkg/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	svc, err := NewService(registry.NewMemoryKV(), Config{
		JWTSecret:  "test-secret-do-not-use",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	c := &clock{t: time.Now().Truncate(time.Second)}
	svc.now = c.now
	return svc, c
}

func validInput() RegisterInput {
	return RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "secret1",
		Role:     types.RoleManufacturer,
		FullName: "Alice",
	}
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(registry.NewMemoryKV(), Config{})
	assert.Error(t, err, "empty secret must be rejected")

	_, err = NewService(registry.NewMemoryKV(), Config{JWTSecret: "s", BcryptCost: 99})
	assert.Error(t, err)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"missing username", func(in *RegisterInput) { in.Username = "  " }},
		{"bad email", func(in *RegisterInput) { in.Email = "alice@example" }},
		{"email with space", func(in *RegisterInput) { in.Email = "al ice@example.com" }},
		{"short password", func(in *RegisterInput) { in.Password = "12345" }},
		{"unknown role", func(in *RegisterInput) { in.Role = "overlord" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := validInput()
	in.Role = ""
	user, err := svc.Register(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, types.RoleUser, user.Role, "empty role defaults to user")
	assert.Empty(t, user.PasswordHash)
	assert.True(t, user.IsActive)
	assert.False(t, user.Verified)

	dup := validInput()
	dup.Email = "ALICE@example.com"
	dup.Username = "other"
	_, err = svc.Register(ctx, dup)
	assert.ErrorIs(t, err, ErrUserExists, "email is unique ignoring case")

	dup = validInput()
	dup.Email = "other@example.com"
	dup.Username = "Alice"
	_, err = svc.Register(ctx, dup)
	assert.ErrorIs(t, err, ErrUserExists, "username is unique ignoring case")
}

func TestLoginAndVerifyToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email looks like a bad password")

	res, err := svc.Login(ctx, " Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Empty(t, res.User.PasswordHash)
	require.NotNil(t, res.User.LastLogin)

	claims, user, err := svc.VerifyToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserID)
	assert.Equal(t, types.RoleManufacturer, claims.Role)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, types.Identity{UserID: registered.ID, Email: "alice@example.com", Role: types.RoleManufacturer}, user.Identity())
}

func TestVerifyToken_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	res, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, _, err := svc.VerifyToken(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("tampered signature", func(t *testing.T) {
		_, _, err := svc.VerifyToken(ctx, res.Token[:len(res.Token)-2]+"xx")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokenIssuer("another-secret", time.Hour)
		require.NoError(t, err)
		u := &User{ID: res.User.ID, Email: res.User.Email, Role: res.User.Role}
		forged, _, err := other.Issue(u, "session", svc.now())
		require.NoError(t, err)
		_, _, err = svc.VerifyToken(ctx, forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "session",
				Issuer:    tokenIssuer,
				ExpiresAt: jwt.NewNumericDate(svc.now().Add(time.Hour)),
			},
			UserID: res.User.ID,
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, _, err = svc.VerifyToken(ctx, unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("valid signature without session", func(t *testing.T) {
		u := &User{ID: res.User.ID, Email: res.User.Email, Role: res.User.Role}
		orphan, _, err := svc.tokens.Issue(u, "no-such-session", svc.now())
		require.NoError(t, err)
		_, _, err = svc.VerifyToken(ctx, orphan)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifyToken_Expired(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)
	res, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	c.advance(59 * time.Minute)
	_, _, err = svc.VerifyToken(ctx, res.Token)
	require.NoError(t, err)

	c.advance(2 * time.Minute)
	_, _, err = svc.VerifyToken(ctx, res.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)

	assert.NoError(t, svc.Logout(ctx, res.Token), "logging out an expired session is a no-op")
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	first, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, first.Token))
	_, _, err = svc.VerifyToken(ctx, first.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = svc.VerifyToken(ctx, second.Token)
	assert.NoError(t, err, "other sessions stay open")

	assert.NoError(t, svc.Logout(ctx, first.Token), "logout is idempotent")
	assert.ErrorIs(t, svc.Logout(ctx, "junk"), ErrInvalidToken)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	company := "Acme"
	updated, err := svc.UpdateProfile(user.ID, nil, &company)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FullName)
	assert.Equal(t, "Acme", updated.CompanyName)
	assert.Empty(t, updated.PasswordHash)

	// The hash survives a profile update.
	_, err = svc.Login(ctx, "alice@example.com", "secret1")
	assert.NoError(t, err)

	_, err = svc.UpdateProfile("missing", &company, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Profile("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandle_AssociatesHash(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()
	user, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	stats, err := svc.Stats(user.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalHashes)
	assert.Nil(t, stats.LastUpload)

	digest := hashing.Sum([]byte("hello world"))
	for i, id := range []string{"BATCH-1", "BATCH-2"} {
		err := svc.Handle(ctx, verification.Notification{
			ProductID:  id,
			Digest:     digest,
			Receipt:    ledger.Receipt{TxHash: "0xabc", BlockNumber: uint64(100 + i)},
			Uploader:   user.Identity(),
			StoredAt:   c.now().Add(time.Duration(i) * time.Minute),
			Attributes: map[string]string{"batchName": "Widgets " + id},
		})
		require.NoError(t, err)
	}

	// Anonymous uploads are not associated with anyone.
	require.NoError(t, svc.Handle(ctx, verification.Notification{ProductID: "ANON", Digest: digest}))

	hashes, err := svc.Hashes(user.ID)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, "BATCH-1", hashes[0].BatchID)
	assert.Equal(t, digest.String(), hashes[0].FileHash)
	assert.Equal(t, uint64(101), hashes[1].BlockNumber)
	assert.Equal(t, "Widgets BATCH-2", hashes[1].ProductName)

	stats, err = svc.Stats(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalHashes)
	require.NotNil(t, stats.LastUpload)
	assert.True(t, stats.LastUpload.Equal(hashes[1].CreatedAt))
	assert.Equal(t, "manufacturer", stats.Role)

	err = svc.Handle(ctx, verification.Notification{ProductID: "X", Uploader: types.Identity{UserID: "ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDemoUsers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureDemoUsers(ctx))
	require.NoError(t, svc.EnsureDemoUsers(ctx), "seeding twice is harmless")

	res, err := svc.DemoLogin(ctx, types.RoleManufacturer)
	require.NoError(t, err)
	assert.Equal(t, "manufacturer@techcorp.com", res.User.Email)
	assert.Equal(t, "TechCorp Industries", res.User.CompanyName)
	assert.True(t, res.User.Verified)

	res, err = svc.DemoLogin(ctx, types.RoleSupplier)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.User.Username, "logistics"))

	_, err = svc.DemoLogin(ctx, types.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
