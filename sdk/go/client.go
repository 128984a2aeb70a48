package mootcourtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Mootcourt HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Dialogue represents the API dialogue model (partial).
type Dialogue struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Visibility string `json:"visibility"`
	OwnerID    string `json:"owner_id"`
	Version    int    `json:"version"`
}

// Execution is the live pointer of a session playthrough.
type Execution struct {
	ID            string  `json:"id"`
	SessionID     string  `json:"session_id"`
	DialogueID    string  `json:"dialogue_id"`
	State         string  `json:"state"`
	CurrentNodeID *string `json:"current_node_id,omitempty"`
}

// Decision records one played response.
type Decision struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	RoleID      string `json:"role_id"`
	ResponseID  string `json:"response_id"`
	ScoreDelta  int    `json:"score_delta"`
	CreatedAt   string `json:"created_at"`
}

// Participant binds a user to a role.
type Participant struct {
	SessionID string `json:"session_id"`
	RoleID    string `json:"role_id"`
	UserID    string `json:"user_id"`
	ClaimedAt string `json:"claimed_at"`
}

// Event is a session log entry.
type Event struct {
	Seq       int64           `json:"seq"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload_json"`
	TS        string          `json:"ts"`
}

// SubmitResult pairs the recorded decision with the execution after the
// pointer moved.
type SubmitResult struct {
	Decision  Decision  `json:"decision"`
	Execution Execution `json:"execution"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateDialogue creates a draft dialogue.
func (c *Client) CreateDialogue(ctx context.Context, name, description string) (Dialogue, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
	}
	var resp Dialogue
	err := c.do(ctx, http.MethodPost, "v0/dialogues", body, &resp)
	return resp, err
}

// ActivateDialogue validates and activates a dialogue.
func (c *Client) ActivateDialogue(ctx context.Context, id string) (Dialogue, error) {
	var resp struct {
		Dialogue Dialogue `json:"dialogue"`
	}
	endpoint := fmt.Sprintf("v0/dialogues/%s/activate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Dialogue, err
}

// StartSession opens a session's execution on a dialogue.
func (c *Client) StartSession(ctx context.Context, sessionID, dialogueID string) (Execution, error) {
	body := map[string]any{"dialogue_id": dialogueID}
	var resp Execution
	endpoint := fmt.Sprintf("v0/sessions/%s/start", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ClaimRole claims a role in a session for the authenticated user.
func (c *Client) ClaimRole(ctx context.Context, sessionID, roleID string) (Participant, error) {
	body := map[string]any{"role_id": roleID}
	var resp Participant
	endpoint := fmt.Sprintf("v0/sessions/%s/roles/claim", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReleaseRole releases a role the authenticated user holds.
func (c *Client) ReleaseRole(ctx context.Context, sessionID, roleID string) error {
	body := map[string]any{"role_id": roleID}
	endpoint := fmt.Sprintf("v0/sessions/%s/roles/release", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// SubmitDecision plays a response in a session.
func (c *Client) SubmitDecision(ctx context.Context, sessionID, responseID, roleID string) (SubmitResult, error) {
	body := map[string]any{
		"response_id": responseID,
		"role_id":     roleID,
	}
	var resp SubmitResult
	endpoint := fmt.Sprintf("v0/sessions/%s/decisions", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns session events with seq strictly greater than cursor.
func (c *Client) Events(ctx context.Context, sessionID string, cursor int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/sessions/%s/events?cursor=%d", url.PathEscape(sessionID), cursor)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// FollowEvents polls the event log and invokes fn for each new event,
// advancing the cursor, until ctx is cancelled or fn returns an error.
func (c *Client) FollowEvents(ctx context.Context, sessionID string, cursor int64, interval time.Duration, fn func(Event) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		evts, err := c.Events(ctx, sessionID, cursor, 100)
		if err != nil {
			return err
		}
		for _, evt := range evts {
			if err := fn(evt); err != nil {
				return err
			}
			cursor = evt.Seq
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
