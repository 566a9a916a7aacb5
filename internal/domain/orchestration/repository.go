package orchestration

import "context"

// GroupRepository persists OrchestrationGroups and their Members.
type GroupRepository interface {
	Save(ctx context.Context, g *Group) error
	FindByID(ctx context.Context, id string) (*Group, error)
	Update(ctx context.Context, g *Group) error

	AddMember(ctx context.Context, m Member) error
	Members(ctx context.Context, groupID string) ([]Member, error)
	UpdateMemberStatus(ctx context.Context, groupID, runID string, status MemberStatus) error

	// FindOpenWithExpiredTimeout supports the cron-driven safety-net sweep
	// described in SPEC_FULL.md §10 — groups whose timeout_s elapsed but
	// whose join was never re-invoked to observe it.
	FindOpenWithExpiredTimeout(ctx context.Context, asOf int64) ([]*Group, error)
}

// GrantRepository persists DelegationGrants.
type GrantRepository interface {
	Save(ctx context.Context, g *Grant) error
	FindByID(ctx context.Context, id string) (*Grant, error)
	FindByRunID(ctx context.Context, runID string) (*Grant, error)
}
