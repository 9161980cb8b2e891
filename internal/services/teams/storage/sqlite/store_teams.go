package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

// CreateTeamWithOrganizer inserts the team and enrolls its organizer as the
// first active member in one transaction.
func (s *Store) CreateTeamWithOrganizer(ctx context.Context, team storage.TeamRecord, organizer storage.MembershipRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(team.ID) == "" {
		return fmt.Errorf("team id is required")
	}
	if organizer.TeamID != team.ID {
		return fmt.Errorf("organizer membership must reference the created team")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin team create: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback team create: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO teams (id, name, organizer_id, location_city, location_venue, location_address,
                   start_time, end_time, max_participants, activity_type, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, team.ID, team.Name, team.OrganizerID, team.LocationCity, team.LocationVenue, team.LocationAddress,
		toMillis(team.StartTime), toMillis(team.EndTime), team.MaxParticipants,
		team.ActivityType, team.Description, toMillis(team.CreatedAt)); err != nil {
		if isUniqueConstraintError(err) {
			return rollbackWith(storage.ErrAlreadyExists)
		}
		return rollbackWith(fmt.Errorf("insert team: %w", err))
	}

	if err := insertMembershipExec(ctx, tx, organizer); err != nil {
		return rollbackWith(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit team create: %w", err)
	}
	return nil
}

// GetTeam loads one team record.
func (s *Store) GetTeam(ctx context.Context, teamID string) (storage.TeamRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TeamRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TeamRecord{}, fmt.Errorf("storage is not configured")
	}
	return getTeamExec(ctx, s.sqlDB, teamID)
}

func getTeamExec(ctx context.Context, q querier, teamID string) (storage.TeamRecord, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return storage.TeamRecord{}, fmt.Errorf("team id is required")
	}
	row := q.QueryRowContext(ctx, `
SELECT id, name, organizer_id, location_city, location_venue, location_address,
       start_time, end_time, max_participants, activity_type, description, created_at
FROM teams
WHERE id = ?
`, teamID)
	return scanTeam(row.Scan)
}

func scanTeam(scan func(dest ...any) error) (storage.TeamRecord, error) {
	var record storage.TeamRecord
	var startTime, endTime, createdAt int64
	err := scan(&record.ID, &record.Name, &record.OrganizerID,
		&record.LocationCity, &record.LocationVenue, &record.LocationAddress,
		&startTime, &endTime, &record.MaxParticipants,
		&record.ActivityType, &record.Description, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TeamRecord{}, storage.ErrNotFound
		}
		return storage.TeamRecord{}, fmt.Errorf("scan team: %w", err)
	}
	record.StartTime = fromMillis(startTime)
	record.EndTime = fromMillis(endTime)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// ListUpcomingTeams lists teams that have not started yet, earliest first,
// with active and waitlist counts.
func (s *Store) ListUpcomingTeams(ctx context.Context, now time.Time, filter storage.TeamFilter) ([]storage.TeamSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `
SELECT t.id, t.name, t.organizer_id, t.location_city, t.location_venue, t.location_address,
       t.start_time, t.end_time, t.max_participants, t.activity_type, t.description, t.created_at,
       (SELECT COUNT(1) FROM team_members m WHERE m.team_id = t.id AND m.is_waitlist = 0),
       (SELECT COUNT(1) FROM team_members m WHERE m.team_id = t.id AND m.is_waitlist = 1)
FROM teams t
WHERE t.start_time > ?
`
	args := []any{toMillis(now)}
	if city := strings.TrimSpace(filter.City); city != "" {
		query += " AND t.location_city LIKE ?"
		args = append(args, "%"+city+"%")
	}
	if venue := strings.TrimSpace(filter.Venue); venue != "" {
		query += " AND t.location_venue LIKE ?"
		args = append(args, "%"+venue+"%")
	}
	if activity := strings.TrimSpace(filter.Activity); activity != "" {
		query += " AND t.activity_type LIKE ?"
		args = append(args, "%"+activity+"%")
	}
	query += " ORDER BY t.start_time ASC, t.id ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list upcoming teams: %w", err)
	}
	defer rows.Close()

	var summaries []storage.TeamSummary
	for rows.Next() {
		var summary storage.TeamSummary
		var startTime, endTime, createdAt int64
		if err := rows.Scan(&summary.Team.ID, &summary.Team.Name, &summary.Team.OrganizerID,
			&summary.Team.LocationCity, &summary.Team.LocationVenue, &summary.Team.LocationAddress,
			&startTime, &endTime, &summary.Team.MaxParticipants,
			&summary.Team.ActivityType, &summary.Team.Description, &createdAt,
			&summary.ActiveCount, &summary.WaitlistCount); err != nil {
			return nil, fmt.Errorf("scan team summary: %w", err)
		}
		summary.Team.StartTime = fromMillis(startTime)
		summary.Team.EndTime = fromMillis(endTime)
		summary.Team.CreatedAt = fromMillis(createdAt)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list upcoming teams: %w", err)
	}
	return summaries, nil
}

// ListMembershipsByTeam lists one team's roster in promotion order.
func (s *Store) ListMembershipsByTeam(ctx context.Context, teamID string) ([]storage.MembershipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return listMembershipsExec(ctx, s.sqlDB, teamID)
}

// ListExpiredTeams lists teams whose end time has passed, oldest first.
func (s *Store) ListExpiredTeams(ctx context.Context, now time.Time) ([]storage.TeamRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, organizer_id, location_city, location_venue, location_address,
       start_time, end_time, max_participants, activity_type, description, created_at
FROM teams
WHERE end_time < ?
ORDER BY end_time ASC, id ASC
`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list expired teams: %w", err)
	}
	defer rows.Close()

	var teams []storage.TeamRecord
	for rows.Next() {
		record, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, err
		}
		teams = append(teams, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired teams: %w", err)
	}
	return teams, nil
}

// DeleteTeamCascade removes one team with its memberships and messages in a
// single transaction. Running it again for the same team is a no-op.
func (s *Store) DeleteTeamCascade(ctx context.Context, teamID string) error {
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

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin team delete: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback team delete: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM team_messages WHERE team_id = ?", teamID); err != nil {
		return rollbackWith(fmt.Errorf("delete team messages: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM team_members WHERE team_id = ?", teamID); err != nil {
		return rollbackWith(fmt.Errorf("delete team members: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM teams WHERE id = ?", teamID); err != nil {
		return rollbackWith(fmt.Errorf("delete team: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit team delete: %w", err)
	}
	return nil
}

func listMembershipsExec(ctx context.Context, q querier, teamID string) ([]storage.MembershipRecord, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, fmt.Errorf("team id is required")
	}
	rows, err := q.QueryContext(ctx, `
SELECT id, team_id, user_id, is_waitlist, joined_at
FROM team_members
WHERE team_id = ?
ORDER BY joined_at ASC, id ASC
`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []storage.MembershipRecord
	for rows.Next() {
		var record storage.MembershipRecord
		var joinedAt int64
		if err := rows.Scan(&record.ID, &record.TeamID, &record.UserID, &record.IsWaitlist, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		record.JoinedAt = fromMillis(joinedAt)
		memberships = append(memberships, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}

func insertMembershipExec(ctx context.Context, q querier, membership storage.MembershipRecord) error {
	if strings.TrimSpace(membership.ID) == "" {
		return fmt.Errorf("membership id is required")
	}
	_, err := q.ExecContext(ctx, `
INSERT INTO team_members (id, team_id, user_id, is_waitlist, joined_at)
VALUES (?, ?, ?, ?, ?)
`, membership.ID, membership.TeamID, membership.UserID, membership.IsWaitlist, toMillis(membership.JoinedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}
