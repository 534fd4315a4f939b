package logging

// AuditEvent represents an authenticity-relevant operation that should be kept in the log trail
type AuditEvent struct {
	Operation string // e.g. "product_stored", "product_verified", "user_login"
	Actor     string // user ID, email or wallet address
	Target    string // product ID, batch ID or user ID
	Result    string // "success", "failure", "authentic", "tampered"
	Details   string
}

// Audit logs an operation with structured fields.
// Audit events are logged at Info level with an "audit" attribute
// to distinguish them from regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"details", event.Details,
	)
}
