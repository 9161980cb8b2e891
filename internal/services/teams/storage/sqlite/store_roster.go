package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

// UpdateRoster runs fn inside one write transaction scoped to a single team.
//
// The transaction acquires the write lock at BEGIN, so every read fn performs
// observes state no concurrent admission decision can invalidate. When a
// competing writer holds the lock past the busy timeout the whole call fails
// with storage.ErrConflict and the caller retries from scratch.
func (s *Store) UpdateRoster(ctx context.Context, teamID string, fn func(tx storage.RosterTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return fmt.Errorf("team id is required")
	}
	if fn == nil {
		return fmt.Errorf("roster update function is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		if isBusyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("begin roster update: %w", err)
	}

	if err := fn(&rosterTx{tx: tx, teamID: teamID}); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback roster update: %v", err, rollbackErr)
		}
		if isBusyError(err) {
			return storage.ErrConflict
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("commit roster update: %w", err)
	}
	return nil
}

// rosterTx implements storage.RosterTx over one open SQLite transaction.
type rosterTx struct {
	tx     *sql.Tx
	teamID string
}

func (r *rosterTx) Team(ctx context.Context) (storage.TeamRecord, error) {
	return getTeamExec(ctx, r.tx, r.teamID)
}

func (r *rosterTx) Memberships(ctx context.Context) ([]storage.MembershipRecord, error) {
	return listMembershipsExec(ctx, r.tx, r.teamID)
}

func (r *rosterTx) User(ctx context.Context, userID string) (storage.UserRecord, error) {
	return getUserExec(ctx, r.tx, userID)
}

func (r *rosterTx) InsertMembership(ctx context.Context, membership storage.MembershipRecord) error {
	if membership.TeamID != r.teamID {
		return fmt.Errorf("membership team %q is outside this transaction", membership.TeamID)
	}
	return insertMembershipExec(ctx, r.tx, membership)
}

func (r *rosterTx) PromoteMembership(ctx context.Context, membershipID string) error {
	membershipID = strings.TrimSpace(membershipID)
	if membershipID == "" {
		return fmt.Errorf("membership id is required")
	}
	result, err := r.tx.ExecContext(ctx,
		"UPDATE team_members SET is_waitlist = 0 WHERE id = ? AND team_id = ?",
		membershipID, r.teamID)
	if err != nil {
		return fmt.Errorf("promote membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("promote membership: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *rosterTx) DeleteMembership(ctx context.Context, membershipID string) error {
	membershipID = strings.TrimSpace(membershipID)
	if membershipID == "" {
		return fmt.Errorf("membership id is required")
	}
	result, err := r.tx.ExecContext(ctx,
		"DELETE FROM team_members WHERE id = ? AND team_id = ?",
		membershipID, r.teamID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *rosterTx) ApplyPenalty(ctx context.Context, userID string, cancellationCount int, banUntil time.Time) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	result, err := r.tx.ExecContext(ctx,
		"UPDATE users SET cancellation_count = ?, ban_until = ? WHERE id = ?",
		cancellationCount, toMillis(banUntil), userID)
	if err != nil {
		return fmt.Errorf("apply penalty: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply penalty: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *rosterTx) InsertCancellation(ctx context.Context, cancellation storage.CancellationRecord) error {
	if strings.TrimSpace(cancellation.ID) == "" {
		return fmt.Errorf("cancellation id is required")
	}
	_, err := r.tx.ExecContext(ctx, `
INSERT INTO cancellations (id, user_id, team_id, cancelled_at, hours_before_event)
VALUES (?, ?, ?, ?, ?)
`, cancellation.ID, cancellation.UserID, cancellation.TeamID,
		toMillis(cancellation.CancelledAt), cancellation.HoursBeforeEvent)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert cancellation: %w", err)
	}
	return nil
}
