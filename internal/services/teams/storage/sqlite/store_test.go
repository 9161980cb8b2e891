package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/domain"
	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "teams.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func seedUser(t *testing.T, store *Store, userID string) {
	t.Helper()

	err := store.PutUser(context.Background(), storage.UserRecord{
		ID:        userID,
		Nickname:  userID,
		CreatedAt: baseTime,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", userID, err)
	}
}

func seedTeam(t *testing.T, store *Store, teamID string, start time.Time, max int) storage.TeamRecord {
	t.Helper()

	seedUser(t, store, "user-org")
	team := storage.TeamRecord{
		ID:              teamID,
		Name:            "test team " + teamID,
		OrganizerID:     "user-org",
		LocationCity:    "Taipei",
		LocationVenue:   "Daan Sports Center",
		StartTime:       start,
		EndTime:         start.Add(2 * time.Hour),
		MaxParticipants: max,
		ActivityType:    "badminton",
		CreatedAt:       baseTime,
	}
	err := store.CreateTeamWithOrganizer(context.Background(), team, storage.MembershipRecord{
		ID:       teamID + "-m-org",
		TeamID:   teamID,
		UserID:   "user-org",
		JoinedAt: baseTime,
	})
	if err != nil {
		t.Fatalf("seed team %s: %v", teamID, err)
	}
	return team
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	var busyTimeout int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busyTimeout)
	}

	var journalMode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}
}

func TestPutGetUser(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	banUntil := baseTime.Add(7 * 24 * time.Hour)
	user := storage.UserRecord{
		ID:                "user-1",
		Nickname:          "smasher",
		SkillLevel:        "intermediate",
		PreferredRegion:   "Taipei",
		CancellationCount: 2,
		BanUntil:          &banUntil,
		CreatedAt:         baseTime,
	}
	if err := store.PutUser(ctx, user); err != nil {
		t.Fatalf("put user: %v", err)
	}

	got, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Nickname != user.Nickname || got.CancellationCount != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.BanUntil == nil || !got.BanUntil.Equal(banUntil) {
		t.Fatalf("ban until = %v, want %v", got.BanUntil, banUntil)
	}

	// Upsert clears the ban.
	user.BanUntil = nil
	user.Nickname = "renamed"
	if err := store.PutUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}
	got, err = store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get updated user: %v", err)
	}
	if got.BanUntil != nil || got.Nickname != "renamed" {
		t.Fatalf("got %+v", got)
	}

	if _, err := store.GetUser(ctx, "user-9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing user error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestCreateTeamEnrollsOrganizer(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	team := seedTeam(t, store, "team-1", baseTime.Add(48*time.Hour), 4)

	got, err := store.GetTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if !got.StartTime.Equal(team.StartTime) || got.MaxParticipants != 4 {
		t.Fatalf("got %+v", got)
	}

	roster, err := store.ListMembershipsByTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "user-org" || roster[0].IsWaitlist {
		t.Fatalf("roster = %+v", roster)
	}
}

func TestListUpcomingTeams(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	seedTeam(t, store, "team-past", baseTime.Add(-48*time.Hour), 4)
	seedTeam(t, store, "team-soon", baseTime.Add(24*time.Hour), 4)
	seedTeam(t, store, "team-later", baseTime.Add(72*time.Hour), 4)

	summaries, err := store.ListUpcomingTeams(ctx, baseTime, storage.TeamFilter{})
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("upcoming teams = %d, want 2", len(summaries))
	}
	if summaries[0].Team.ID != "team-soon" || summaries[1].Team.ID != "team-later" {
		t.Fatalf("order = %s, %s", summaries[0].Team.ID, summaries[1].Team.ID)
	}
	if summaries[0].ActiveCount != 1 || summaries[0].WaitlistCount != 0 {
		t.Fatalf("counts = %d/%d, want 1/0", summaries[0].ActiveCount, summaries[0].WaitlistCount)
	}

	filtered, err := store.ListUpcomingTeams(ctx, baseTime, storage.TeamFilter{City: "taipei"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("city filter matched %d, want 2 (case-insensitive substring)", len(filtered))
	}

	none, err := store.ListUpcomingTeams(ctx, baseTime, storage.TeamFilter{City: "Kaohsiung"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("city filter matched %d, want 0", len(none))
	}
}

func TestUpdateRosterInsertAndUniqueness(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(48*time.Hour), 4)
	seedUser(t, store, "user-1")

	join := func(membershipID, userID string, waitlist bool, joinedAt time.Time) error {
		return store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
			return tx.InsertMembership(ctx, storage.MembershipRecord{
				ID:         membershipID,
				TeamID:     "team-1",
				UserID:     userID,
				IsWaitlist: waitlist,
				JoinedAt:   joinedAt,
			})
		})
	}

	if err := join("m-1", "user-1", false, baseTime); err != nil {
		t.Fatalf("insert membership: %v", err)
	}
	if err := join("m-dup", "user-1", true, baseTime); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate membership error = %v, want %v", err, storage.ErrAlreadyExists)
	}
}

func TestUpdateRosterUnknownTeam(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	err := store.UpdateRoster(ctx, "team-missing", func(tx storage.RosterTx) error {
		_, err := tx.Team(ctx)
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown team error = %v, want %v", err, storage.ErrNotFound)
	}
}

// Drives the admission service against the real store from many goroutines
// at once. Every join must land and the active roster must never exceed the
// team capacity, however the writes interleave.
func TestConcurrentJoinsHonorCapacity(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", time.Now().UTC().Add(72*time.Hour), 4)

	const joiners = 12
	for i := 1; i <= joiners; i++ {
		seedUser(t, store, fmt.Sprintf("user-%02d", i))
	}

	// A generous retry budget: contention here is expected, not a failure.
	service := domain.NewService(store, domain.Limits{TxAttempts: 50}, nil, nil)

	results := make([]domain.JoinResult, joiners)
	errs := make([]error, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.Join(ctx, "team-1", fmt.Sprintf("user-%02d", i+1))
		}(i)
	}
	wg.Wait()

	waitlisted := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("join %d: %v", i+1, err)
		}
		if results[i].Waitlisted {
			waitlisted++
		}
	}

	roster, err := store.ListMembershipsByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("list roster: %v", err)
	}
	if len(roster) != joiners+1 {
		t.Fatalf("roster size = %d, want %d", len(roster), joiners+1)
	}
	active := 0
	for _, membership := range roster {
		if !membership.IsWaitlist {
			active++
		}
	}
	// The organizer holds one of the four active slots.
	if active != 4 {
		t.Fatalf("active members = %d, want 4", active)
	}
	if waitlisted != joiners-3 {
		t.Fatalf("waitlisted joins = %d, want %d", waitlisted, joiners-3)
	}
}

func TestRosterOrderingAndPromotion(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(48*time.Hour), 2)
	for _, userID := range []string{"user-2", "user-3", "user-4"} {
		seedUser(t, store, userID)
	}

	memberships := []storage.MembershipRecord{
		{ID: "m-b", TeamID: "team-1", UserID: "user-2", IsWaitlist: true, JoinedAt: baseTime.Add(time.Minute)},
		{ID: "m-a", TeamID: "team-1", UserID: "user-3", IsWaitlist: true, JoinedAt: baseTime.Add(time.Minute)},
		{ID: "m-c", TeamID: "team-1", UserID: "user-4", IsWaitlist: true, JoinedAt: baseTime.Add(2 * time.Minute)},
	}
	err := store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		for _, membership := range memberships {
			if err := tx.InsertMembership(ctx, membership); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed roster: %v", err)
	}

	var roster []storage.MembershipRecord
	err = store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		var err error
		roster, err = tx.Memberships(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	wantOrder := []string{"team-1-m-org", "m-a", "m-b", "m-c"}
	if len(roster) != len(wantOrder) {
		t.Fatalf("roster size = %d, want %d", len(roster), len(wantOrder))
	}
	for i, want := range wantOrder {
		if roster[i].ID != want {
			t.Fatalf("roster[%d] = %s, want %s (joined_at then id)", i, roster[i].ID, want)
		}
	}

	err = store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		return tx.PromoteMembership(ctx, "m-a")
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	after, err := store.ListMembershipsByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("list roster: %v", err)
	}
	for _, membership := range after {
		if membership.ID == "m-a" && membership.IsWaitlist {
			t.Fatal("m-a still waitlisted after promotion")
		}
	}

	err = store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		return tx.PromoteMembership(ctx, "m-missing")
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("promote missing error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPenaltyAndCancellationPersist(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(5*time.Hour), 2)
	if err := store.PutUser(ctx, storage.UserRecord{ID: "user-1", Nickname: "n", CreatedAt: baseTime}); err != nil {
		t.Fatalf("put user: %v", err)
	}

	banUntil := baseTime.Add(7 * 24 * time.Hour)
	err := store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		if err := tx.ApplyPenalty(ctx, "user-1", 1, banUntil); err != nil {
			return err
		}
		return tx.InsertCancellation(ctx, storage.CancellationRecord{
			ID:               "c-1",
			UserID:           "user-1",
			TeamID:           "team-1",
			CancelledAt:      baseTime,
			HoursBeforeEvent: 5,
		})
	})
	if err != nil {
		t.Fatalf("apply penalty: %v", err)
	}

	user, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.CancellationCount != 1 {
		t.Fatalf("cancellation count = %d, want 1", user.CancellationCount)
	}
	if user.BanUntil == nil || !user.BanUntil.Equal(banUntil) {
		t.Fatalf("ban until = %v, want %v", user.BanUntil, banUntil)
	}
}

func TestUpdateRosterRollsBackOnError(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(48*time.Hour), 4)
	seedUser(t, store, "user-1")

	wantErr := errors.New("decision failed")
	err := store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		if err := tx.InsertMembership(ctx, storage.MembershipRecord{
			ID:       "m-1",
			TeamID:   "team-1",
			UserID:   "user-1",
			JoinedAt: baseTime,
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}

	roster, err := store.ListMembershipsByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("list roster: %v", err)
	}
	for _, membership := range roster {
		if membership.ID == "m-1" {
			t.Fatal("membership survived a rolled back transaction")
		}
	}
}

func TestDeleteTeamCascade(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(-48*time.Hour), 4)
	seedUser(t, store, "user-1")

	if err := store.InsertMessage(ctx, storage.MessageRecord{
		ID:        "msg-1",
		TeamID:    "team-1",
		UserID:    "user-org",
		Body:      "see you there",
		IsPublic:  true,
		CreatedAt: baseTime,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	err := store.UpdateRoster(ctx, "team-1", func(tx storage.RosterTx) error {
		return tx.InsertCancellation(ctx, storage.CancellationRecord{
			ID:          "c-1",
			UserID:      "user-1",
			TeamID:      "team-1",
			CancelledAt: baseTime,
		})
	})
	if err != nil {
		t.Fatalf("insert cancellation: %v", err)
	}

	if err := store.DeleteTeamCascade(ctx, "team-1"); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}
	if _, err := store.GetTeam(ctx, "team-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get deleted team error = %v, want %v", err, storage.ErrNotFound)
	}
	roster, err := store.ListMembershipsByTeam(ctx, "team-1")
	if err != nil {
		t.Fatalf("list roster: %v", err)
	}
	if len(roster) != 0 {
		t.Fatalf("memberships left = %d, want 0", len(roster))
	}
	messages, err := store.ListMessages(ctx, "team-1", true)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages left = %d, want 0", len(messages))
	}

	// Deleting again is a no-op, not an error.
	if err := store.DeleteTeamCascade(ctx, "team-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListExpiredTeams(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-over", baseTime.Add(-48*time.Hour), 4)
	seedTeam(t, store, "team-live", baseTime.Add(24*time.Hour), 4)

	expired, err := store.ListExpiredTeams(ctx, baseTime)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "team-over" {
		t.Fatalf("expired = %+v", expired)
	}
}

func TestListMessagesVisibility(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	seedTeam(t, store, "team-1", baseTime.Add(48*time.Hour), 4)
	seedUser(t, store, "user-1")

	messages := []storage.MessageRecord{
		{ID: "msg-1", TeamID: "team-1", UserID: "user-1", Body: "first", IsPublic: true, CreatedAt: baseTime},
		{ID: "msg-2", TeamID: "team-1", UserID: "user-1", Body: "second", IsPublic: true, CreatedAt: baseTime.Add(time.Minute)},
		{ID: "msg-3", TeamID: "team-1", UserID: "user-1", Body: "members only", IsPublic: false, CreatedAt: baseTime.Add(2 * time.Minute)},
	}
	for _, message := range messages {
		if err := store.InsertMessage(ctx, message); err != nil {
			t.Fatalf("insert %s: %v", message.ID, err)
		}
	}

	public, err := store.ListMessages(ctx, "team-1", true)
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(public) != 2 || public[0].ID != "msg-2" || public[1].ID != "msg-1" {
		t.Fatalf("public messages = %+v, want newest first", public)
	}

	private, err := store.ListMessages(ctx, "team-1", false)
	if err != nil {
		t.Fatalf("list private: %v", err)
	}
	if len(private) != 1 || private[0].ID != "msg-3" {
		t.Fatalf("private messages = %+v", private)
	}
}
