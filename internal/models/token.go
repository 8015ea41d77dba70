package models

import "time"

// RefreshRecord represents a persisted refresh token. Only the SHA-256 hash of the raw
// token is stored.
type RefreshRecord struct {
	TokenHash  string     `db:"token_hash" json:"-"`
	OwnerID    string     `db:"user_id" json:"user_id"`
	RotationID string     `db:"rotation_id" json:"rotation_id"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress  string     `db:"ip_address" json:"ip_address"`
	UserAgent  string     `db:"user_agent" json:"user_agent"`
}

// TokenPair is the result of a single issuance.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	RotationID       string
	IssuedAt         time.Time
	RefreshExpiresAt time.Time
}
