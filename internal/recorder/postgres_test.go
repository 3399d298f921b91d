package recorder_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/recorder"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func TestPostgresRecorder_RoundTrip(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS transcripts`); err != nil {
		t.Fatalf("drop: %v", err)
	}

	r, err := recorder.NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(r.Close)

	if err := recorder.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	base := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	first := recorder.NewEvent("g1", "alice", "what the", nil, base)
	second := recorder.NewEvent("g1", "alice", "fuck", []string{"what the fuck"}, base.Add(time.Second))
	other := recorder.NewEvent("g2", "bob", "bomb", []string{"bomb"}, base)
	for _, ev := range []recorder.Event{first, second, other, second} {
		if err := r.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := r.Recent(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d events, want 2 (duplicate ID ignored)", len(got))
	}
	if got[0].ID != second.ID || got[0].MatchedTriggers[0] != "what the fuck" {
		t.Errorf("newest = %+v", got[0])
	}
	if len(got[1].MatchedTriggers) != 0 {
		t.Errorf("unmatched event triggers = %v", got[1].MatchedTriggers)
	}
}
