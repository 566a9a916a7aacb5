package orchestration

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// DelegationClaims is the JWT payload embedded in a Grant's token: who the
// delegation chain acts for, which run carries it, and the effective scope
// set. A downstream service can verify the token without a repository
// round-trip.
type DelegationClaims struct {
	PrincipalID string   `json:"principal_id"`
	RunID       string   `json:"run_id,omitempty"`
	Scopes      []string `json:"scopes"`
	jwt.RegisteredClaims
}

// MintDelegationToken signs a delegation token for a grant.
func MintDelegationToken(secret []byte, principalID, runID string, scopes []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.InvalidInput("secret", "delegation token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := DelegationClaims{
		PrincipalID: principalID,
		RunID:       runID,
		Scopes:      scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyDelegationToken parses and verifies a delegation token, returning
// its claims.
func VerifyDelegationToken(secret []byte, token string) (*DelegationClaims, error) {
	claims := &DelegationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected_signing_method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, errors.Unauthorized("invalid_delegation_token")
	}
	if !parsed.Valid {
		return nil, errors.Unauthorized("invalid_delegation_token")
	}
	return claims, nil
}
