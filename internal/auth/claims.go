package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Mobile is the canonical E.164 number and doubles as the signaling identity.
// Tokens are issued only to verified accounts; Verified is carried so the gate can
// refuse tokens minted before verification was enforced.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Mobile    string    `json:"mobile"`
	Verified  bool      `json:"verified"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
