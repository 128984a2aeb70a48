package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"mootcourt/internal/config"
	"mootcourt/internal/db"
	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
	"mootcourt/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("courtroom-1"))
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func devToken(t *testing.T, srv *testServer, userID string, scopes ...string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": userID,
		"scopes":  scopes,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestAuthGating(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/dialogues", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("unauthenticated code %q", code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dialogues", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("bad token code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty dev login status %d: %s", res.StatusCode, string(data))
	}
}

func TestScopeEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	useOnly := devToken(t, srv, "spectator", "use")
	editor := devToken(t, srv, "author", "edit")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues", map[string]any{
		"name": "Mock trial",
	}, useOnly)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("use-only create status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("use-only create code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues", map[string]any{
		"name": "Mock trial",
	}, editor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Dialogue
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal dialogue: %v", err)
	}
	if created.State != domain.DialogueDraft || created.OwnerID != "author" {
		t.Fatalf("created dialogue: %+v", created)
	}

	// editing another author's dialogue requires manage
	otherEditor := devToken(t, srv, "rival", "edit")
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/dialogues/"+created.ID, map[string]any{
		"name": "Stolen",
	}, otherEditor)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner edit status %d: %s", res.StatusCode, string(data))
	}

	manager := devToken(t, srv, "admin", "manage")
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/dialogues/"+created.ID, map[string]any{
		"name": "Renamed",
	}, manager)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("manage edit status %d: %s", res.StatusCode, string(data))
	}

	// archive is manage-only
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues/"+created.ID+"/archive", nil, editor)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("editor archive status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dialogues/does-not-exist", nil, editor)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing dialogue status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("missing dialogue code %q", code)
	}
}

// apiGraph holds the ids of a dialogue built over the API.
type apiGraph struct {
	DialogueID string
	StartID    string
	DecisionID string
	BranchID   string
	FinalID    string
	ToDecision string
	Ruling     string
}

func buildAPIGraph(t *testing.T, srv *testServer, editor map[string]string) apiGraph {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues", map[string]any{
		"name": "Objection hearing",
	}, editor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create dialogue status %d: %s", res.StatusCode, string(data))
	}
	var d domain.Dialogue
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatal(err)
	}

	addNode := func(body map[string]any) string {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues/"+d.ID+"/nodes", body, editor)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add node status %d: %s", res.StatusCode, string(data))
		}
		var n domain.Node
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatal(err)
		}
		return n.ID
	}
	addResponse := func(body map[string]any) string {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues/"+d.ID+"/responses", body, editor)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add response status %d: %s", res.StatusCode, string(data))
		}
		var re domain.Response
		if err := json.Unmarshal(data, &re); err != nil {
			t.Fatal(err)
		}
		return re.ID
	}

	g := apiGraph{DialogueID: d.ID}
	g.StartID = addNode(map[string]any{"kind": "start", "title": "Court is in session"})
	g.DecisionID = addNode(map[string]any{"kind": "decision", "title": "Rule on the objection", "speaking_role_id": "judge"})
	g.BranchID = addNode(map[string]any{"kind": "development", "title": "Sustained"})
	g.FinalID = addNode(map[string]any{"kind": "final", "title": "Adjourned"})
	g.ToDecision = addResponse(map[string]any{"source_id": g.StartID, "target_id": g.DecisionID, "label": "Proceed"})
	g.Ruling = addResponse(map[string]any{"source_id": g.DecisionID, "target_id": g.BranchID, "label": "Sustain", "score_delta": 5})
	addResponse(map[string]any{"source_id": g.BranchID, "target_id": g.FinalID, "label": "Close"})

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/dialogues/"+d.ID+"/activate", nil, editor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate status %d: %s", res.StatusCode, string(data))
	}
	return g
}

func TestActivateInvalidGraph(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	editor := devToken(t, srv, "author", "edit")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dialogues", map[string]any{
		"name": "Empty",
	}, editor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var d domain.Dialogue
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/dialogues/"+d.ID+"/activate", nil, editor)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("activate empty status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "graph_invalid" {
		t.Fatalf("activate empty code %q", code)
	}
}

func TestSessionPlayOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	editor := devToken(t, srv, "author", "edit")
	player := devToken(t, srv, "player", "use")
	bench := devToken(t, srv, "bench", "manage")
	g := buildAPIGraph(t, srv, editor)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/start", map[string]any{
		"dialogue_id": g.DialogueID,
	}, player)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var ex domain.SessionExecution
	if err := json.Unmarshal(data, &ex); err != nil {
		t.Fatal(err)
	}
	if ex.CurrentNodeID == nil || *ex.CurrentNodeID != g.StartID {
		t.Fatalf("start pointer: %+v", ex)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/roles/claim", map[string]any{
		"role_id": "prosecutor",
	}, player)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/decisions", map[string]any{
		"response_id": g.ToDecision, "role_id": "prosecutor",
	}, player)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit proceed status %d: %s", res.StatusCode, string(data))
	}

	// the judge decision is gated against the prosecutor
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/decisions", map[string]any{
		"response_id": g.Ruling, "role_id": "prosecutor",
	}, player)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("gated submit status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_your_turn" {
		t.Fatalf("gated submit code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/roles/claim", map[string]any{
		"role_id": "judge",
	}, player)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim judge status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/decisions", map[string]any{
		"response_id": g.Ruling, "role_id": "judge",
	}, player)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit ruling status %d: %s", res.StatusCode, string(data))
	}
	var played struct {
		Decision  domain.Decision         `json:"decision"`
		Execution domain.SessionExecution `json:"execution"`
	}
	if err := json.Unmarshal(data, &played); err != nil {
		t.Fatal(err)
	}
	if played.Decision.ScoreDelta != 5 || *played.Execution.CurrentNodeID != g.BranchID {
		t.Fatalf("played: %+v", played)
	}

	// an edge the pointer already moved past is not an edge of the
	// current node
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/decisions", map[string]any{
		"response_id": g.ToDecision, "role_id": "prosecutor",
	}, player)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("stale submit status %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("stale submit code %q", code)
	}

	// lifecycle is bench territory
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/pause", nil, player)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("player pause status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/pause", nil, bench)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bench pause status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/resume", nil, bench)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bench resume status %d: %s", res.StatusCode, string(data))
	}

	// event log pages with a cursor
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/trial-1/events?cursor=0", nil, player)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts []domain.Event
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts) == 0 || evts[0].Seq != 1 || evts[0].Type != domain.EventSessionStarted {
		t.Fatalf("events head: %+v", evts)
	}
	cursor := evts[len(evts)-1].Seq
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/trial-1/events?cursor="+strconv.FormatInt(cursor, 10), nil, player)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events after cursor status %d", res.StatusCode)
	}
	var rest []domain.Event
	if err := json.Unmarshal(data, &rest); err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty page past cursor, got %d", len(rest))
	}

	// bench can jump the pointer; landing on the final node closes it
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/trial-1/advance", map[string]any{
		"to_node_id": g.FinalID,
	}, bench)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &ex); err != nil {
		t.Fatal(err)
	}
	if ex.State != domain.ExecutionFinished {
		t.Fatalf("expected finished execution: %+v", ex)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/trial-1", nil, player)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readout status %d: %s", res.StatusCode, string(data))
	}
	var readout engine.SessionReadout
	if err := json.Unmarshal(data, &readout); err != nil {
		t.Fatal(err)
	}
	if readout.Score != 5 {
		t.Fatalf("score: %d", readout.Score)
	}
}
