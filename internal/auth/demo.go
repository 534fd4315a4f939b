package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/pkg/types"
)

// DemoPassword is the password of every seeded demo account.
const DemoPassword = "demo123"

var demoUsers = map[types.Role]RegisterInput{
	types.RoleManufacturer: {
		Email:       "manufacturer@techcorp.com",
		Username:    "techcorp_mfg",
		Password:    DemoPassword,
		Role:        types.RoleManufacturer,
		FullName:    "TechCorp Manufacturing",
		CompanyName: "TechCorp Industries",
		Verified:    true,
	},
	types.RoleSupplier: {
		Email:       "supplier@logistics.com",
		Username:    "logistics_supplier",
		Password:    DemoPassword,
		Role:        types.RoleSupplier,
		FullName:    "Global Logistics Supplier",
		CompanyName: "Global Logistics Inc",
		Verified:    true,
	},
}

// EnsureDemoUsers creates the demo manufacturer and supplier accounts if missing.
func (s *Service) EnsureDemoUsers(ctx context.Context) error {
	for _, role := range []types.Role{types.RoleManufacturer, types.RoleSupplier} {
		_, err := s.Register(ctx, demoUsers[role])
		if err != nil && !errors.Is(err, ErrUserExists) {
			return fmt.Errorf("failed to seed demo %s: %w", role, err)
		}
	}
	logging.Warn("demo accounts enabled", logging.Component("auth"))
	return nil
}

// DemoLogin logs in as the demo account for role.
func (s *Service) DemoLogin(ctx context.Context, role types.Role) (*LoginResult, error) {
	in, ok := demoUsers[role]
	if !ok {
		return nil, fmt.Errorf("%w: no demo account for role %q", ErrInvalidInput, role)
	}
	return s.Login(ctx, in.Email, in.Password)
}
