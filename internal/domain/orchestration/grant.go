package orchestration

import (
	"sort"
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	pkguuid "github.com/agentkernel/agentkernel/internal/pkg/uuid"
)

// Grant is a DelegationGrant: a token-backed capability set carried by a
// Run. Child grants must be a scope subset of their parent
// (SPEC_FULL.md §3, invariant 5 in §8).
type Grant struct {
	id              string
	principalID     string
	effectiveScopes map[string]bool
	runID           string
	token           string
	createdAt       time.Time
}

// NewRootGrant creates a grant with no parent (the caller authenticated
// directly, e.g. a tenant user starting a top-level run).
func NewRootGrant(principalID, token string, scopes []string) (*Grant, error) {
	if principalID == "" {
		return nil, errors.InvalidInput("principal_id", "principal_id is required")
	}

	return &Grant{
		id:              pkguuid.New(),
		principalID:     principalID,
		effectiveScopes: toSet(scopes),
		token:           token,
		createdAt:       time.Now(),
	}, nil
}

// MintChild mints a child grant whose effective_scopes are the
// intersection of the requested subset and this grant's own scopes —
// enforcing effective_scopes ⊆ parent.effective_scopes unconditionally,
// and rejecting the request outright if the caller asked for scopes this
// grant does not hold (scope_not_subset, SPEC_FULL.md §8 scenario 5).
func (g *Grant) MintChild(requestedScopes []string, childToken, runID string) (*Grant, error) {
	for _, s := range requestedScopes {
		if !g.effectiveScopes[s] {
			return nil, errors.Unauthorized("scope_not_subset")
		}
	}

	return &Grant{
		id:              pkguuid.New(),
		principalID:     g.principalID,
		effectiveScopes: toSet(requestedScopes),
		runID:           runID,
		token:           childToken,
		createdAt:       time.Now(),
	}, nil
}

func (g *Grant) ID() string          { return g.id }
func (g *Grant) PrincipalID() string { return g.principalID }
func (g *Grant) RunID() string       { return g.runID }
func (g *Grant) Token() string       { return g.token }
func (g *Grant) CreatedAt() time.Time { return g.createdAt }

// EffectiveScopes returns a stable-ordered copy of the scope set.
func (g *Grant) EffectiveScopes() []string {
	out := make([]string, 0, len(g.effectiveScopes))
	for s := range g.effectiveScopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HasScope reports whether a given scope is held.
func (g *Grant) HasScope(scope string) bool {
	return g.effectiveScopes[scope]
}

// IsSubsetOf reports whether this grant's scopes are entirely contained in
// other's scopes — the property checked by invariant 5 in SPEC_FULL.md §8.
func (g *Grant) IsSubsetOf(other *Grant) bool {
	for s := range g.effectiveScopes {
		if !other.effectiveScopes[s] {
			return false
		}
	}
	return true
}

func toSet(scopes []string) map[string]bool {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

// ReconstructGrant rebuilds a Grant from persisted data.
func ReconstructGrant(id, principalID, runID, token string, scopes []string, createdAt time.Time) *Grant {
	return &Grant{
		id:              id,
		principalID:     principalID,
		effectiveScopes: toSet(scopes),
		runID:           runID,
		token:           token,
		createdAt:       createdAt,
	}
}
