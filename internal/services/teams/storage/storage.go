// Package storage defines the persistence boundary for the teams service.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a write conflicts with a uniqueness constraint.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrConflict indicates a transaction lost a write race and can be retried.
	ErrConflict = errors.New("record conflict")
)

// UserRecord stores one player identity with its cancellation history.
//
// Profile fields beyond ban state are owned by the profile collaborator; this
// service only ever mutates CancellationCount and BanUntil.
type UserRecord struct {
	ID                string
	Nickname          string
	SkillLevel        string
	PreferredRegion   string
	CancellationCount int
	BanUntil          *time.Time
	CreatedAt         time.Time
}

// TeamRecord stores one time-boxed activity with a fixed capacity.
type TeamRecord struct {
	ID              string
	Name            string
	OrganizerID     string
	LocationCity    string
	LocationVenue   string
	LocationAddress string
	StartTime       time.Time
	EndTime         time.Time
	MaxParticipants int
	ActivityType    string
	Description     string
	CreatedAt       time.Time
}

// MembershipRecord stores one (team, user) roster row. Unique per pair.
type MembershipRecord struct {
	ID         string
	TeamID     string
	UserID     string
	IsWaitlist bool
	JoinedAt   time.Time
}

// MessageRecord stores one team board message.
type MessageRecord struct {
	ID        string
	TeamID    string
	UserID    string
	Body      string
	IsPublic  bool
	CreatedAt time.Time
}

// CancellationRecord stores one late-cancellation audit row. Append-only.
type CancellationRecord struct {
	ID               string
	UserID           string
	TeamID           string
	CancelledAt      time.Time
	HoursBeforeEvent float64
}

// TeamFilter narrows upcoming-team listings.
type TeamFilter struct {
	City     string
	Venue    string
	Activity string
}

// TeamSummary pairs a team with its current roster counts.
type TeamSummary struct {
	Team          TeamRecord
	ActiveCount   int
	WaitlistCount int
}

// RosterTx is the transactional view of one team's roster used for admission
// decisions. All reads observe the same snapshot the writes commit against;
// no other transaction can touch the team's rows in between.
type RosterTx interface {
	Team(ctx context.Context) (TeamRecord, error)
	Memberships(ctx context.Context) ([]MembershipRecord, error)
	User(ctx context.Context, userID string) (UserRecord, error)
	InsertMembership(ctx context.Context, membership MembershipRecord) error
	PromoteMembership(ctx context.Context, membershipID string) error
	DeleteMembership(ctx context.Context, membershipID string) error
	ApplyPenalty(ctx context.Context, userID string, cancellationCount int, banUntil time.Time) error
	InsertCancellation(ctx context.Context, cancellation CancellationRecord) error
}

// RosterStore runs one serializable transaction against a single team's roster.
type RosterStore interface {
	// UpdateRoster invokes fn inside a write transaction scoped to the team.
	// A ErrConflict return means the transaction lost a write race and the
	// whole read-decide-write sequence should be retried from scratch.
	UpdateRoster(ctx context.Context, teamID string, fn func(tx RosterTx) error) error
}

// TeamStore persists team lifecycle state.
type TeamStore interface {
	// CreateTeamWithOrganizer inserts the team and its organizer membership
	// atomically.
	CreateTeamWithOrganizer(ctx context.Context, team TeamRecord, organizer MembershipRecord) error
	GetTeam(ctx context.Context, teamID string) (TeamRecord, error)
	ListUpcomingTeams(ctx context.Context, now time.Time, filter TeamFilter) ([]TeamSummary, error)
	ListMembershipsByTeam(ctx context.Context, teamID string) ([]MembershipRecord, error)
	ListExpiredTeams(ctx context.Context, now time.Time) ([]TeamRecord, error)
	// DeleteTeamCascade removes the team, its memberships and its messages as
	// one atomic unit. Cancellation audit rows are kept.
	DeleteTeamCascade(ctx context.Context, teamID string) error
}

// UserStore persists player records.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (UserRecord, error)
	PutUser(ctx context.Context, user UserRecord) error
}

// MessageStore persists team board messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, message MessageRecord) error
	ListMessages(ctx context.Context, teamID string, public bool) ([]MessageRecord, error)
}

// Store aggregates every persistence concern of the teams service.
type Store interface {
	RosterStore
	TeamStore
	UserStore
	MessageStore
}
