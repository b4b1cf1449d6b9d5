package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Identity is what a verified signaling connection is bound to for its lifetime.
type Identity struct {
	UserID string
	Mobile string
	Role   string
}

// Gate verifies the session token presented when a signaling connection opens.
type Gate struct {
	m     *Manager
	clock func() time.Time
}

func NewGate(m *Manager) *Gate {
	return &Gate{m: m, clock: time.Now}
}

// VerifyConnection accepts only unexpired access tokens of verified accounts.
// Every failure wraps ErrUnauthenticated.
func (g *Gate) VerifyConnection(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims, err := g.m.Verify(token, TokenTypeAccess, g.clock())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !claims.Verified {
		return Identity{}, fmt.Errorf("%w: account not verified", ErrUnauthenticated)
	}
	return Identity{UserID: claims.UserID, Mobile: claims.Mobile, Role: claims.Role}, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, falling back to
// the token query parameter (browsers cannot set headers on a websocket handshake).
func TokenFromRequest(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
