package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/voxtide/voxtide/pkg/transcript"
	"github.com/voxtide/voxtide/pkg/transcript/postgres"
)

// testStore connects to the database given by VOXTIDE_TEST_POSTGRES_DSN, or
// skips the test when the variable is unset.
func testStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("VOXTIDE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXTIDE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	sessionID := "test-" + time.Now().UTC().Format("20060102T150405.000")

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := store.Append(ctx, sessionID,
		transcript.Entry{Role: transcript.RoleUser, Text: "hi", Timestamp: now},
		transcript.Entry{Role: transcript.RoleAssistant, Text: "", Timestamp: now},
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Recent(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Role != transcript.RoleUser || got[0].Text != "hi" {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Role != transcript.RoleAssistant || got[1].Text != "" {
		t.Errorf("second entry = %+v (empty assistant text must round-trip)", got[1])
	}
}

func TestRecent_Limit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	sessionID := "test-limit-" + time.Now().UTC().Format("20060102T150405.000")

	for i := range 5 {
		err := store.Append(ctx, sessionID, transcript.Entry{
			Role:      transcript.RoleUser,
			Text:      string(rune('a' + i)),
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := store.Recent(ctx, sessionID, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	// The limit keeps the newest rows; the returned slice still reads
	// chronologically.
	if got[0].Text != "c" || got[1].Text != "d" || got[2].Text != "e" {
		t.Errorf("entries = %q %q %q, want c d e", got[0].Text, got[1].Text, got[2].Text)
	}
}

func TestAppend_Empty(t *testing.T) {
	store := testStore(t)
	if err := store.Append(context.Background(), "s"); err != nil {
		t.Errorf("empty Append: %v", err)
	}
}
