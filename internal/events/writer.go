package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mootcourt/internal/domain"
	"mootcourt/internal/repo"
)

// Writer appends to the per-session event log through the repo layer.
// Keep caps retention: appends past it prune the oldest rows.
type Writer struct {
	Repo repo.Repo
	Keep int
	Now  func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction and returns its
// cursor position. Seq is monotonic per session; the caller's transaction
// serializes concurrent appends.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, sessionID, evtType, actorID string, payload EventPayload) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	seq, err := w.Repo.NextEventSeq(ctx, tx, sessionID)
	if err != nil {
		return 0, err
	}
	evt := domain.Event{
		Seq:       seq,
		SessionID: sessionID,
		Type:      evtType,
		ActorID:   actorID,
		Payload:   string(data),
		TS:        now().UTC().Format(time.RFC3339),
	}
	if err := w.Repo.InsertEventTx(ctx, tx, evt); err != nil {
		return 0, err
	}
	if err := w.Repo.PruneEvents(ctx, tx, sessionID, w.Keep); err != nil {
		return 0, err
	}
	return seq, nil
}
