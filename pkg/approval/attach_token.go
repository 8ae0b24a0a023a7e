package approval

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// attachClaims authenticates a frontend's event-stream attach -- the bearer
// token a CLI, daemon event stream, Telegram or Discord bridge presents when
// it connects to receive RequestApproval calls (§6).
type attachClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Frontend  string `json:"frontend"` // "cli", "daemon", "telegram", "discord"
}

// IssueAttachToken mints a short-lived bearer token authorizing frontend to
// attach to sessionID's approval stream, signed with secret (HS256 -- the
// daemon and its frontends share a process-local secret, there is no
// cross-service trust boundary here).
func IssueAttachToken(secret []byte, sessionID, frontend string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := attachClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SessionID: sessionID,
		Frontend:  frontend,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("approval: sign attach token: %w", err)
	}
	return signed, nil
}

// ParseAttachToken validates tokenStr and returns the session/frontend it
// authorizes.
func ParseAttachToken(secret []byte, tokenStr string) (sessionID, frontend string, err error) {
	token, err := jwt.ParseWithClaims(tokenStr, &attachClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("approval: invalid attach token: %w", err)
	}
	claims, ok := token.Claims.(*attachClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("approval: invalid attach token claims")
	}
	return claims.SessionID, claims.Frontend, nil
}
