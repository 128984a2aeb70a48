package repo

import (
	"context"
	"database/sql"

	"mootcourt/internal/domain"
)

func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(session_id,seq,type,actor_id,payload_json,ts) VALUES (?,?,?,?,?,?)`,
		e.SessionID, e.Seq, e.Type, nullable(e.ActorID), e.Payload, e.TS)
	return err
}

// NextEventSeq reserves the next cursor position for a session. Callers
// hold the write transaction so two appends cannot race.
func (r Repo) NextEventSeq(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM events WHERE session_id=?`, sessionID).Scan(&seq)
	return seq, err
}

func (r Repo) LatestEventSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM events WHERE session_id=?`, sessionID).Scan(&seq)
	return seq, err
}

// EventsSince returns events with seq strictly greater than cursor, in
// ascending order. Cursor 0 reads the retained log from the start.
func (r Repo) EventsSince(ctx context.Context, sessionID string, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,seq,type,COALESCE(actor_id,'') AS actor_id,payload_json,ts FROM events WHERE session_id=? AND seq>? ORDER BY seq LIMIT ?`,
		sessionID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Type, &e.ActorID, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// GlobalEvent pairs an event with its table rowid. Seq only orders within
// a session; the rowid gives the dispatcher a cross-session cursor.
type GlobalEvent struct {
	RowID int64
	Event domain.Event
}

// EventsAfterRowID walks the whole log across sessions, oldest first.
func (r Repo) EventsAfterRowID(ctx context.Context, cursor int64, limit int) ([]GlobalEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT rowid,session_id,seq,type,COALESCE(actor_id,'') AS actor_id,payload_json,ts FROM events WHERE rowid>? ORDER BY rowid LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []GlobalEvent
	for rows.Next() {
		var g GlobalEvent
		if err := rows.Scan(&g.RowID, &g.Event.SessionID, &g.Event.Seq, &g.Event.Type, &g.Event.ActorID, &g.Event.Payload, &g.Event.TS); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventRowID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid),0) FROM events`).Scan(&id)
	return id, err
}

// PruneEvents drops the oldest rows past the retention cap. Readers that
// fell behind the prune line see a gap in seq, which clients treat as a
// resync signal.
func (r Repo) PruneEvents(ctx context.Context, tx *sql.Tx, sessionID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id=? AND seq <= (SELECT COALESCE(MAX(seq),0) FROM events WHERE session_id=?) - ?`,
		sessionID, sessionID, keep)
	return err
}
