package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent token lifecycle actions to be logged.
const (
	AuditActionLogin        = "LOGIN"
	AuditActionTokenRefresh = "TOKEN_REFRESH"
	AuditActionTokenReuse   = "TOKEN_REUSE"
	AuditActionLogout       = "LOGOUT"
	AuditActionLogoutAll    = "LOGOUT_ALL"
	AuditActionAdminAccess  = "ADMIN_ACCESS"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
