package auth

import "time"

type Role string

const (
	RoleParticipant Role = "participant"
	RoleAuthority   Role = "authority"
)

// Caller is the identity carried by a verified token. Addresses are opaque
// strings shared with the ledger.
type Caller struct {
	Address string
	Role    Role
}

// TokenRequest asks for a token bound to Address. Passphrase is only
// consulted for the authority address.
type TokenRequest struct {
	Address    string `json:"address"`
	Role       Role   `json:"role"`
	Passphrase string `json:"passphrase"`
}

// TokenResult is returned after a token has been issued.
type TokenResult struct {
	Token     string
	Caller    Caller
	ExpiresAt time.Time
}
