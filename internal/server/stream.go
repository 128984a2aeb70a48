package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"mootcourt/internal/config"
	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
	"mootcourt/internal/repo"
)

// registerEventStream serves a long-lived NDJSON stream of one session's
// log. The loop re-polls the cursor on a fixed interval and ends itself
// on the wall-clock or event ceiling; clients reconnect with the last
// seq they saw.
func registerEventStream(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stream-session-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events/stream",
		Summary:     "Follow the session event log (NDJSON)",
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Cursor    int64  `query:"cursor"`
	}) (*huma.StreamResponse, error) {
		if _, err := requireUse(ctx); err != nil {
			return nil, handleError(err)
		}
		sessionID := input.SessionID
		cursor := input.Cursor
		interval := time.Duration(e.Config.StreamPollIntervalMs()) * time.Millisecond
		lifetime := time.Duration(e.Config.StreamMaxLifetimeSec()) * time.Second
		maxEvents := e.Config.StreamMaxEvents()

		return &huma.StreamResponse{
			Body: func(hctx huma.Context) {
				hctx.SetHeader("Content-Type", "application/x-ndjson")
				writer := hctx.BodyWriter()
				flusher, _ := writer.(http.Flusher)
				enc := json.NewEncoder(writer)
				deadline := time.After(lifetime)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				sent := 0
				for {
					evts, err := e.EventsSince(hctx.Context(), sessionID, cursor, 100)
					if err != nil {
						return
					}
					for _, evt := range evts {
						if err := enc.Encode(evt); err != nil {
							return
						}
						cursor = evt.Seq
						sent++
						if sent >= maxEvents {
							return
						}
					}
					if flusher != nil {
						flusher.Flush()
					}
					select {
					case <-hctx.Context().Done():
						return
					case <-deadline:
						return
					case <-ticker.C:
					}
				}
			},
		}, nil
	})
}

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.Webhook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.engine.Repo.EventsAfterRowID(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		log.Printf("webhook: fetch events failed: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Event.Type) {
			d.setCursor(idx, evt.RowID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.RowID)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventRowID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	Seq       int64           `json:"seq"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id,omitempty"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt repo.GlobalEvent) error {
	data, err := buildWebhookBody(evt.Event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mootcourt-Event", evt.Event.Type)
	req.Header.Set("X-Mootcourt-Delivery", fmt.Sprintf("%d", evt.RowID))
	req.Header.Set("X-Mootcourt-Session", evt.Event.SessionID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Mootcourt-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

func buildWebhookBody(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	return json.Marshal(webhookEvent{
		Seq:       evt.Seq,
		SessionID: evt.SessionID,
		Type:      evt.Type,
		ActorID:   evt.ActorID,
		TS:        evt.TS,
		Payload:   payload,
	})
}
