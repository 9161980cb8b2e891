// Package domain implements the capacity, waitlist and cancellation policy
// for teams, plus the transactional orchestration around it.
package domain

import (
	"errors"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

var (
	// ErrForbidden indicates the acting user is currently banned.
	ErrForbidden = errors.New("user is banned")
	// ErrTooLate indicates the join request is inside the cutoff window.
	ErrTooLate = errors.New("too close to start time")
	// ErrAlreadyMember indicates the user already holds a membership for the team.
	ErrAlreadyMember = errors.New("already a member")
	// ErrNotMember indicates the user holds no membership for the team.
	ErrNotMember = errors.New("not a member")
	// ErrNotFound indicates the team or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the transactional retry budget was exhausted.
	ErrConflict = errors.New("roster conflict")
	// ErrInvalidTeam indicates team creation input failed validation.
	ErrInvalidTeam = errors.New("invalid team")
)

// JoinOutcome describes the mutation a join decision produced.
type JoinOutcome struct {
	// Waitlisted is true when the team is full and the new membership goes to
	// the waitlist instead of an active slot.
	Waitlisted bool
}

// LeaveOutcome describes the mutations a leave decision produced.
type LeaveOutcome struct {
	// Membership is the roster row to delete.
	Membership storage.MembershipRecord
	// HoursBeforeEvent is the signed distance from now to the team start.
	HoursBeforeEvent float64
	// PenaltyApplied is true when the departure is a late cancellation of an
	// active slot and the user must be penalized.
	PenaltyApplied bool
	// PromoteMembershipID names the waitlisted row to flip into the freed
	// active slot, or is empty when no promotion happens.
	PromoteMembershipID string
}

// DecideJoin classifies a join request against a consistent roster snapshot.
//
// It performs no I/O; callers must produce the snapshot and apply the outcome
// inside one transaction.
func DecideJoin(team storage.TeamRecord, roster []storage.MembershipRecord, user storage.UserRecord, now time.Time, limits Limits) (JoinOutcome, error) {
	limits = limits.withDefaults()

	if user.BanUntil != nil && user.BanUntil.After(now) {
		return JoinOutcome{}, ErrForbidden
	}
	if team.StartTime.Sub(now) < limits.JoinCutoff {
		return JoinOutcome{}, ErrTooLate
	}

	activeCount := 0
	for _, membership := range roster {
		if membership.UserID == user.ID {
			return JoinOutcome{}, ErrAlreadyMember
		}
		if !membership.IsWaitlist {
			activeCount++
		}
	}

	return JoinOutcome{Waitlisted: activeCount >= team.MaxParticipants}, nil
}

// DecideLeave classifies a leave request against a consistent roster snapshot.
//
// Leaving an active slot closer than the late-cancel window to the start time
// is a late cancellation: the user is penalized and the earliest waitlisted
// member takes the freed slot. Waitlisted departures are never penalized and
// never trigger promotion.
func DecideLeave(team storage.TeamRecord, roster []storage.MembershipRecord, userID string, now time.Time, limits Limits) (LeaveOutcome, error) {
	limits = limits.withDefaults()

	var leaving *storage.MembershipRecord
	for i := range roster {
		if roster[i].UserID == userID {
			leaving = &roster[i]
			break
		}
	}
	if leaving == nil {
		return LeaveOutcome{}, ErrNotMember
	}

	outcome := LeaveOutcome{
		Membership:       *leaving,
		HoursBeforeEvent: team.StartTime.Sub(now).Hours(),
	}
	if !leaving.IsWaitlist && team.StartTime.Sub(now) < limits.LateCancelWindow {
		outcome.PenaltyApplied = true
	}

	if !leaving.IsWaitlist {
		// The roster snapshot is ordered by joined_at then id, so the first
		// waitlisted row is the promotion candidate. Exactly one slot frees,
		// so exactly one row is promoted.
		for _, membership := range roster {
			if membership.IsWaitlist {
				outcome.PromoteMembershipID = membership.ID
				break
			}
		}
	}

	return outcome, nil
}

// NextBan computes the penalty transition for a user: the cancellation count
// grows by one and the ban clock restarts from now. A ban already in progress
// is overwritten, not stacked.
func NextBan(user storage.UserRecord, now time.Time, limits Limits) (cancellationCount int, banUntil time.Time) {
	limits = limits.withDefaults()
	return user.CancellationCount + 1, now.Add(limits.BanDuration)
}
