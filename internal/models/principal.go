package models

// Principal identifies the authenticated subject carried inside access tokens.
type Principal struct {
	ID      string `db:"id" json:"id"`
	Email   string `db:"email" json:"email"`
	IsAdmin bool   `db:"is_admin" json:"is_admin"`
}
