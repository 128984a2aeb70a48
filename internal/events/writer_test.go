package events_test

import (
	"context"
	"database/sql"
	"testing"

	"mootcourt/internal/db"
	"mootcourt/internal/events"
	"mootcourt/internal/migrate"
	"mootcourt/internal/repo"
)

func newTestDB(t *testing.T) (*sql.DB, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn, repo.Repo{DB: conn}
}

func append5(t *testing.T, conn *sql.DB, w events.Writer, sessionID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 5; i++ {
		seq, err := w.Append(ctx, tx, sessionID, "session.note", "clerk", events.EventPayload{"n": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != int64(i+1) {
			t.Fatalf("append %d: seq %d", i, seq)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestAppendPrunesPastKeep(t *testing.T) {
	conn, r := newTestDB(t)
	w := events.Writer{Repo: r, Keep: 3}
	ctx := context.Background()
	append5(t, conn, w, "trial-1")

	// seq keeps counting past the prune line
	latest, err := r.LatestEventSeq(ctx, "trial-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 5 {
		t.Fatalf("latest seq: %d", latest)
	}

	// only the newest Keep rows survive
	evts, err := r.EventsSince(ctx, "trial-1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 3 || evts[0].Seq != 3 || evts[2].Seq != 5 {
		t.Fatalf("retained window: %+v", evts)
	}

	// survivors still page with a client cursor
	evts, err = r.EventsSince(ctx, "trial-1", 4, 100)
	if err != nil {
		t.Fatalf("events after cursor: %v", err)
	}
	if len(evts) != 1 || evts[0].Seq != 5 {
		t.Fatalf("cursor page: %+v", evts)
	}
}

func TestAppendRetentionIsPerSession(t *testing.T) {
	conn, r := newTestDB(t)
	w := events.Writer{Repo: r, Keep: 3}
	ctx := context.Background()
	append5(t, conn, w, "trial-1")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := w.Append(ctx, tx, "trial-2", "session.note", "clerk", nil); err != nil {
		t.Fatalf("append other session: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	evts, err := r.EventsSince(ctx, "trial-1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("another session's append changed retention: %d", len(evts))
	}
}

func TestAppendWithoutKeepRetainsAll(t *testing.T) {
	conn, r := newTestDB(t)
	w := events.Writer{Repo: r}
	ctx := context.Background()
	append5(t, conn, w, "trial-1")

	evts, err := r.EventsSince(ctx, "trial-1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 5 || evts[0].Seq != 1 {
		t.Fatalf("expected full log, got %+v", evts)
	}
}
