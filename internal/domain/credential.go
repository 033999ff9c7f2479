package domain

import (
	"time"
)

// Credential is a tenant-owned secret for one connector type. The secret
// is stored encrypted; only an adapter invocation receives the decrypted
// handle, and only for its own duration.
type Credential struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ConnectorType   string    `json:"connector_type"`
	EncryptedSecret []byte    `json:"-"`
	Scopes          []string  `json:"scopes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the structural invariants of a credential.
func (c Credential) Validate() error {
	if c.TenantID == "" {
		return NewValidationError("tenant_id", "tenant id is required")
	}
	if c.ConnectorType == "" {
		return NewValidationError("connector_type", "connector type is required")
	}
	if len(c.EncryptedSecret) == 0 {
		return NewValidationError("secret", "secret is required")
	}
	return nil
}
