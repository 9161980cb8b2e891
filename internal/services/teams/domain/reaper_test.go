package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReapExpiredDeletesEndedTeams(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	expired := testTeam(-48*time.Hour, 4)
	store.teams[expired.ID] = expired
	gone := storage.TeamRecord{
		ID:        "team-2",
		Name:      "last week",
		StartTime: testNow.Add(-8 * 24 * time.Hour),
		EndTime:   testNow.Add(-8*24*time.Hour + 2*time.Hour),
	}
	store.teams[gone.ID] = gone
	live := storage.TeamRecord{
		ID:        "team-3",
		Name:      "tomorrow",
		StartTime: testNow.Add(24 * time.Hour),
		EndTime:   testNow.Add(26 * time.Hour),
	}
	store.teams[live.ID] = live
	store.memberships["m-1"] = member("m-1", "user-1", false, testNow.Add(-72*time.Hour))
	store.messages = append(store.messages, storage.MessageRecord{ID: "msg-1", TeamID: "team-1", UserID: "user-1", Body: "gg"})
	store.cancellations = append(store.cancellations, storage.CancellationRecord{ID: "c-1", UserID: "user-1", TeamID: "team-1"})

	reaper := NewReaper(store, func() time.Time { return testNow }, discardLogger(), time.Minute)

	reaped, err := reaper.ReapExpired(context.Background(), testNow)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if reaped != 2 {
		t.Fatalf("reaped = %d, want 2", reaped)
	}
	if _, ok := store.teams["team-3"]; !ok {
		t.Fatal("live team was deleted")
	}
	if len(store.memberships) != 0 {
		t.Fatalf("memberships left = %d, want 0", len(store.memberships))
	}
	if len(store.messages) != 0 {
		t.Fatalf("messages left = %d, want 0", len(store.messages))
	}
	// Audit history survives the team it refers to.
	if len(store.cancellations) != 1 {
		t.Fatalf("cancellations left = %d, want 1", len(store.cancellations))
	}
}

func TestReapExpiredIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	expired := testTeam(-48*time.Hour, 4)
	store.teams[expired.ID] = expired
	reaper := NewReaper(store, func() time.Time { return testNow }, discardLogger(), time.Minute)
	ctx := context.Background()

	if _, err := reaper.ReapExpired(ctx, testNow); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	reaped, err := reaper.ReapExpired(ctx, testNow)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("second sweep reaped = %d, want 0", reaped)
	}
}

// flakyTeamStore fails deletes for one team id.
type flakyTeamStore struct {
	*fakeStore
	failID string
}

func (f *flakyTeamStore) DeleteTeamCascade(ctx context.Context, teamID string) error {
	if teamID == f.failID {
		return fmt.Errorf("disk on fire")
	}
	return f.fakeStore.DeleteTeamCascade(ctx, teamID)
}

func TestReapExpiredSkipsFailingTeam(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("team-%d", i)
		store.teams[id] = storage.TeamRecord{
			ID:        id,
			StartTime: testNow.Add(-48 * time.Hour),
			EndTime:   testNow.Add(-46 * time.Hour),
		}
	}
	reaper := NewReaper(&flakyTeamStore{fakeStore: store, failID: "team-2"}, func() time.Time { return testNow }, discardLogger(), time.Minute)

	reaped, err := reaper.ReapExpired(context.Background(), testNow)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 2 {
		t.Fatalf("reaped = %d, want 2", reaped)
	}
	if _, ok := store.teams["team-2"]; !ok {
		t.Fatal("failing team should remain for the next sweep")
	}
}
