package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/transcript/pgstore"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the archive table and returns a freshly migrated store.
func newTestStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcript_entries"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	s, err := pgstore.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func sampleEntries() []transcript.Entry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return []transcript.Entry{
		{ID: "e1", SessionID: "s1", Role: transcript.RoleUser, Text: "Hola amigo", Translation: "Hello friend", CreatedAt: now},
		{ID: "e2", SessionID: "s1", Role: transcript.RoleModel, Text: "Good morning", CreatedAt: now},
		{ID: "e3", Role: transcript.RoleUser, Text: "dictated note", IsDictation: true, CreatedAt: now},
	}
}

func TestWriteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	in := sampleEntries()

	if err := s.WriteEntries(ctx, in); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	// Rewriting the same batch must not duplicate rows.
	if err := s.WriteEntries(ctx, in); err != nil {
		t.Fatalf("WriteEntries (again): %v", err)
	}

	got, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List(s1) = %d entries; want 2", len(got))
	}
	if got[0].ID != "e1" || got[0].Translation != "Hello friend" || got[1].Role != transcript.RoleModel {
		t.Errorf("List(s1) = %+v; want e1 (translated), e2 (model)", got)
	}
	if !got[0].CreatedAt.Equal(in[0].CreatedAt) {
		t.Errorf("CreatedAt = %v; want %v", got[0].CreatedAt, in[0].CreatedAt)
	}

	loose, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List(\"\"): %v", err)
	}
	if len(loose) != 1 || !loose[0].IsDictation {
		t.Errorf("List(\"\") = %+v; want the dictation entry", loose)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.WriteEntries(ctx, sampleEntries()); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	tests := []struct {
		name  string
		query string
		opts  pgstore.SearchOpts
		want  int
	}{
		{"matches translation", "friend", pgstore.SearchOpts{}, 1},
		{"matches text", "morning", pgstore.SearchOpts{}, 1},
		{"role filter", "morning", pgstore.SearchOpts{Role: transcript.RoleUser}, 0},
		{"session filter", "note", pgstore.SearchOpts{SessionID: "s1"}, 0},
		{"limit", "hola", pgstore.SearchOpts{Limit: 1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Search(ctx, tc.query, tc.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("Search(%q) = %d entries; want %d", tc.query, len(got), tc.want)
			}
		})
	}
}

func TestArchiverIntoPostgres(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := transcript.NewLog()
	a := transcript.NewArchiver(l, s, time.Hour)
	for _, e := range sampleEntries() {
		l.Append(e)
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("List(s1) = %d; want 2", len(got))
	}
}
