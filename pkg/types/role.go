package types

// Role defines what an account may do
type Role string

const (
	// RoleManufacturer uploads documents and owns batches
	RoleManufacturer Role = "manufacturer"
	// RoleSupplier scans QR codes along the supply chain
	RoleSupplier Role = "supplier"
	// RoleAdmin can read every user's data
	RoleAdmin Role = "admin"
	// RoleUser is the default role for self-registered accounts
	RoleUser Role = "user"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleManufacturer, RoleSupplier, RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// CanUpload reports whether the role may store documents on the ledger.
func (r Role) CanUpload() bool {
	return r == RoleManufacturer || r == RoleAdmin
}
