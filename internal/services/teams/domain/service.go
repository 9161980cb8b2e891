package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thomas0321/badminton-app/internal/platform/id"
	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

// Clock supplies the current instant. Injected so policy windows are testable
// without waiting for real time to pass.
type Clock func() time.Time

// txRetryDelay spaces conflict retries so the competing writer has time to
// commit before the next attempt. Grows linearly with the attempt number.
const txRetryDelay = 25 * time.Millisecond

// Service orchestrates team lifecycle and admission decisions.
//
// Every join and leave runs as one serializable transaction scoped to the
// target team: read the team, roster and acting user, decide, write, commit.
// A transaction that loses a write race is retried from scratch up to
// Limits.TxAttempts times before ErrConflict reaches the caller.
type Service struct {
	store  storage.Store
	limits Limits
	clock  Clock
	newID  func() (string, error)
}

// NewService constructs the teams domain service.
func NewService(store storage.Store, limits Limits, clock Clock, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:  store,
		limits: limits.withDefaults(),
		clock:  clock,
		newID:  newID,
	}
}

// Limits exposes the active policy parameters.
func (s *Service) Limits() Limits {
	return s.limits
}

// JoinResult reports how a join request was admitted.
type JoinResult struct {
	Waitlisted bool
	Membership storage.MembershipRecord
}

// LeaveResult reports the effect of a leave request.
type LeaveResult struct {
	PenaltyApplied   bool
	HoursBeforeEvent float64
	PromotedUserID   string
}

// Join admits, waitlists or rejects one join request.
func (s *Service) Join(ctx context.Context, teamID, userID string) (JoinResult, error) {
	teamID = strings.TrimSpace(teamID)
	userID = strings.TrimSpace(userID)
	if teamID == "" || userID == "" {
		return JoinResult{}, ErrNotFound
	}
	if s == nil || s.store == nil {
		return JoinResult{}, fmt.Errorf("store is not configured")
	}

	var result JoinResult
	for attempt := 0; attempt < s.limits.TxAttempts; attempt++ {
		err := s.store.UpdateRoster(ctx, teamID, func(tx storage.RosterTx) error {
			now := s.clock().UTC()

			team, err := tx.Team(ctx)
			if err != nil {
				return err
			}
			if !team.EndTime.After(now) {
				// An ended team is already reapable; admissions treat it as gone.
				return storage.ErrNotFound
			}
			user, err := tx.User(ctx, userID)
			if err != nil {
				return err
			}
			roster, err := tx.Memberships(ctx)
			if err != nil {
				return err
			}

			outcome, err := DecideJoin(team, roster, user, now, s.limits)
			if err != nil {
				return err
			}

			membershipID, err := s.newID()
			if err != nil {
				return fmt.Errorf("generate membership id: %w", err)
			}
			membership := storage.MembershipRecord{
				ID:         membershipID,
				TeamID:     teamID,
				UserID:     userID,
				IsWaitlist: outcome.Waitlisted,
				JoinedAt:   now,
			}
			if err := tx.InsertMembership(ctx, membership); err != nil {
				if errors.Is(err, storage.ErrAlreadyExists) {
					return ErrAlreadyMember
				}
				return err
			}
			result = JoinResult{Waitlisted: outcome.Waitlisted, Membership: membership}
			return nil
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, storage.ErrConflict) {
			time.Sleep(time.Duration(attempt+1) * txRetryDelay)
			continue
		}
		return JoinResult{}, mapStorageError(err)
	}
	return JoinResult{}, ErrConflict
}

// Leave removes one membership, applying the late-cancellation penalty and
// promoting the earliest waitlisted member when an active slot frees.
func (s *Service) Leave(ctx context.Context, teamID, userID string) (LeaveResult, error) {
	teamID = strings.TrimSpace(teamID)
	userID = strings.TrimSpace(userID)
	if teamID == "" || userID == "" {
		return LeaveResult{}, ErrNotFound
	}
	if s == nil || s.store == nil {
		return LeaveResult{}, fmt.Errorf("store is not configured")
	}

	var result LeaveResult
	for attempt := 0; attempt < s.limits.TxAttempts; attempt++ {
		err := s.store.UpdateRoster(ctx, teamID, func(tx storage.RosterTx) error {
			now := s.clock().UTC()

			team, err := tx.Team(ctx)
			if err != nil {
				return err
			}
			if !team.EndTime.After(now) {
				return storage.ErrNotFound
			}
			roster, err := tx.Memberships(ctx)
			if err != nil {
				return err
			}

			outcome, err := DecideLeave(team, roster, userID, now, s.limits)
			if err != nil {
				return err
			}

			if outcome.PenaltyApplied {
				user, err := tx.User(ctx, userID)
				if err != nil {
					return err
				}
				count, banUntil := NextBan(user, now, s.limits)
				if err := tx.ApplyPenalty(ctx, userID, count, banUntil); err != nil {
					return err
				}
				cancellationID, err := s.newID()
				if err != nil {
					return fmt.Errorf("generate cancellation id: %w", err)
				}
				if err := tx.InsertCancellation(ctx, storage.CancellationRecord{
					ID:               cancellationID,
					UserID:           userID,
					TeamID:           teamID,
					CancelledAt:      now,
					HoursBeforeEvent: outcome.HoursBeforeEvent,
				}); err != nil {
					return err
				}
			}

			if err := tx.DeleteMembership(ctx, outcome.Membership.ID); err != nil {
				return err
			}

			promotedUserID := ""
			if outcome.PromoteMembershipID != "" {
				if err := tx.PromoteMembership(ctx, outcome.PromoteMembershipID); err != nil {
					return err
				}
				for _, membership := range roster {
					if membership.ID == outcome.PromoteMembershipID {
						promotedUserID = membership.UserID
						break
					}
				}
			}

			result = LeaveResult{
				PenaltyApplied:   outcome.PenaltyApplied,
				HoursBeforeEvent: outcome.HoursBeforeEvent,
				PromotedUserID:   promotedUserID,
			}
			return nil
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, storage.ErrConflict) {
			time.Sleep(time.Duration(attempt+1) * txRetryDelay)
			continue
		}
		return LeaveResult{}, mapStorageError(err)
	}
	return LeaveResult{}, ErrConflict
}

// CreateTeamInput carries organizer-supplied team metadata.
type CreateTeamInput struct {
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
}

// CreateTeam creates a team and enrolls its organizer as the first active
// member. Banned organizers are rejected; the participant cap is clamped to
// the configured ceiling.
func (s *Service) CreateTeam(ctx context.Context, input CreateTeamInput) (storage.TeamRecord, error) {
	if s == nil || s.store == nil {
		return storage.TeamRecord{}, fmt.Errorf("store is not configured")
	}
	input.Name = strings.TrimSpace(input.Name)
	input.OrganizerID = strings.TrimSpace(input.OrganizerID)
	if input.Name == "" {
		return storage.TeamRecord{}, fmt.Errorf("%w: name is required", ErrInvalidTeam)
	}
	if input.OrganizerID == "" {
		return storage.TeamRecord{}, fmt.Errorf("%w: organizer is required", ErrInvalidTeam)
	}
	if !input.StartTime.Before(input.EndTime) {
		return storage.TeamRecord{}, fmt.Errorf("%w: start time must precede end time", ErrInvalidTeam)
	}

	now := s.clock().UTC()
	organizer, err := s.store.GetUser(ctx, input.OrganizerID)
	if err != nil {
		return storage.TeamRecord{}, mapStorageError(err)
	}
	if organizer.BanUntil != nil && organizer.BanUntil.After(now) {
		return storage.TeamRecord{}, ErrForbidden
	}

	maxParticipants := input.MaxParticipants
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	if maxParticipants > s.limits.MaxParticipantsCeiling {
		maxParticipants = s.limits.MaxParticipantsCeiling
	}

	teamID, err := s.newID()
	if err != nil {
		return storage.TeamRecord{}, fmt.Errorf("generate team id: %w", err)
	}
	membershipID, err := s.newID()
	if err != nil {
		return storage.TeamRecord{}, fmt.Errorf("generate membership id: %w", err)
	}

	team := storage.TeamRecord{
		ID:              teamID,
		Name:            input.Name,
		OrganizerID:     input.OrganizerID,
		LocationCity:    strings.TrimSpace(input.LocationCity),
		LocationVenue:   strings.TrimSpace(input.LocationVenue),
		LocationAddress: strings.TrimSpace(input.LocationAddress),
		StartTime:       input.StartTime.UTC(),
		EndTime:         input.EndTime.UTC(),
		MaxParticipants: maxParticipants,
		ActivityType:    strings.TrimSpace(input.ActivityType),
		Description:     strings.TrimSpace(input.Description),
		CreatedAt:       now,
	}
	if err := s.store.CreateTeamWithOrganizer(ctx, team, storage.MembershipRecord{
		ID:       membershipID,
		TeamID:   teamID,
		UserID:   input.OrganizerID,
		JoinedAt: now,
	}); err != nil {
		return storage.TeamRecord{}, mapStorageError(err)
	}
	return team, nil
}

// ListTeams lists upcoming teams matching the filter.
func (s *Service) ListTeams(ctx context.Context, filter storage.TeamFilter) ([]storage.TeamSummary, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	return s.store.ListUpcomingTeams(ctx, s.clock().UTC(), filter)
}

// TeamDetail is one team with its roster split into active and waitlisted
// members, the waitlist in promotion order.
type TeamDetail struct {
	Team     storage.TeamRecord
	Members  []storage.MembershipRecord
	Waitlist []storage.MembershipRecord
}

// GetTeamDetail loads one team with its current roster.
func (s *Service) GetTeamDetail(ctx context.Context, teamID string) (TeamDetail, error) {
	if s == nil || s.store == nil {
		return TeamDetail{}, fmt.Errorf("store is not configured")
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return TeamDetail{}, mapStorageError(err)
	}
	roster, err := s.store.ListMembershipsByTeam(ctx, teamID)
	if err != nil {
		return TeamDetail{}, mapStorageError(err)
	}
	detail := TeamDetail{Team: team}
	for _, membership := range roster {
		if membership.IsWaitlist {
			detail.Waitlist = append(detail.Waitlist, membership)
		} else {
			detail.Members = append(detail.Members, membership)
		}
	}
	return detail, nil
}

// PostMessage appends one message to a team's board.
func (s *Service) PostMessage(ctx context.Context, teamID, userID, body string, public bool) (storage.MessageRecord, error) {
	if s == nil || s.store == nil {
		return storage.MessageRecord{}, fmt.Errorf("store is not configured")
	}
	teamID = strings.TrimSpace(teamID)
	userID = strings.TrimSpace(userID)
	body = strings.TrimSpace(body)
	if body == "" {
		return storage.MessageRecord{}, fmt.Errorf("%w: message body is required", ErrInvalidTeam)
	}
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return storage.MessageRecord{}, mapStorageError(err)
	}

	messageID, err := s.newID()
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("generate message id: %w", err)
	}
	message := storage.MessageRecord{
		ID:        messageID,
		TeamID:    teamID,
		UserID:    userID,
		Body:      body,
		IsPublic:  public,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return storage.MessageRecord{}, mapStorageError(err)
	}
	return message, nil
}

// ListMessages lists one team's board messages, newest first.
func (s *Service) ListMessages(ctx context.Context, teamID string, public bool) ([]storage.MessageRecord, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, mapStorageError(err)
	}
	return s.store.ListMessages(ctx, teamID, public)
}

// GetUser loads one player record with its ban state.
func (s *Service) GetUser(ctx context.Context, userID string) (storage.UserRecord, error) {
	if s == nil || s.store == nil {
		return storage.UserRecord{}, fmt.Errorf("store is not configured")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return storage.UserRecord{}, mapStorageError(err)
	}
	return user, nil
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
