package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mootcourt/internal/config"
	"mootcourt/internal/db"
	"mootcourt/internal/domain"
	"mootcourt/internal/engine"
	"mootcourt/internal/migrate"
	"mootcourt/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("courtroom-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// trialGraph is a small playable dialogue: start leads to a judge
// decision with two scored branches that both close at a final node.
type trialGraph struct {
	Dialogue domain.Dialogue
	Start    domain.Node
	Decision domain.Node
	Sustain  domain.Node
	Overrule domain.Node
	Final    domain.Node

	ToDecision domain.Response
	ESustain   domain.Response
	EOverrule  domain.Response
}

func buildTrialGraph(t *testing.T, env testEnv) trialGraph {
	t.Helper()
	d, err := env.Engine.CreateDialogue(env.Ctx, engine.DialogueCreateOptions{Name: "Objection hearing", OwnerID: "author"})
	if err != nil {
		t.Fatalf("create dialogue: %v", err)
	}
	addNode := func(opts engine.NodeCreateOptions) domain.Node {
		t.Helper()
		opts.DialogueID = d.ID
		n, err := env.Engine.AddNode(env.Ctx, opts)
		if err != nil {
			t.Fatalf("add node %q: %v", opts.Title, err)
		}
		return n
	}
	addResponse := func(opts engine.ResponseCreateOptions) domain.Response {
		t.Helper()
		opts.DialogueID = d.ID
		re, err := env.Engine.AddResponse(env.Ctx, opts)
		if err != nil {
			t.Fatalf("add response %q: %v", opts.Label, err)
		}
		return re
	}

	g := trialGraph{Dialogue: d}
	g.Start = addNode(engine.NodeCreateOptions{Kind: domain.KindStart, Title: "Court is in session"})
	g.Decision = addNode(engine.NodeCreateOptions{Kind: domain.KindDecision, Title: "Rule on the objection", SpeakingRoleID: "judge"})
	g.Sustain = addNode(engine.NodeCreateOptions{Kind: domain.KindDevelopment, Title: "Objection sustained"})
	g.Overrule = addNode(engine.NodeCreateOptions{Kind: domain.KindDevelopment, Title: "Objection overruled"})
	g.Final = addNode(engine.NodeCreateOptions{Kind: domain.KindFinal, Title: "Adjourned"})

	g.ToDecision = addResponse(engine.ResponseCreateOptions{SourceID: g.Start.ID, TargetID: g.Decision.ID, Label: "Proceed"})
	g.ESustain = addResponse(engine.ResponseCreateOptions{SourceID: g.Decision.ID, TargetID: g.Sustain.ID, Label: "Sustained", ScoreDelta: 5})
	g.EOverrule = addResponse(engine.ResponseCreateOptions{SourceID: g.Decision.ID, TargetID: g.Overrule.ID, Label: "Overruled", ScoreDelta: -2})
	addResponse(engine.ResponseCreateOptions{SourceID: g.Sustain.ID, TargetID: g.Final.ID, Label: "Close"})
	addResponse(engine.ResponseCreateOptions{SourceID: g.Overrule.ID, TargetID: g.Final.ID, Label: "Close"})
	return g
}

func activate(t *testing.T, env testEnv, id string) {
	t.Helper()
	if _, _, err := env.Engine.ActivateDialogue(env.Ctx, id); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func claim(t *testing.T, env testEnv, sessionID, roleID, userID string) {
	t.Helper()
	if _, err := env.Engine.ClaimRole(env.Ctx, sessionID, roleID, userID); err != nil {
		t.Fatalf("claim %s as %s: %v", roleID, userID, err)
	}
}

func TestDialogueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDialogue(env.Ctx, engine.DialogueCreateOptions{Name: "Empty", OwnerID: "author"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.State != domain.DialogueDraft {
		t.Fatalf("new dialogue state %s", d.State)
	}

	// empty graph cannot activate
	_, rep, err := env.Engine.ActivateDialogue(env.Ctx, d.ID)
	var ge engine.GraphInvalidError
	if !errors.As(err, &ge) {
		t.Fatalf("expected graph invalid, got %v", err)
	}
	if rep.Valid {
		t.Fatalf("expected invalid report")
	}

	g := buildTrialGraph(t, env)
	got, rep, err := env.Engine.ActivateDialogue(env.Ctx, g.Dialogue.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got.State != domain.DialogueActive || !rep.Valid {
		t.Fatalf("activate: state=%s valid=%v", got.State, rep.Valid)
	}

	// active dialogues are locked for edits
	name := "renamed"
	_, err = env.Engine.UpdateDialogue(env.Ctx, g.Dialogue.ID, repo.DialoguePatch{Name: &name})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on active edit, got %v", err)
	}
	if _, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{DialogueID: g.Dialogue.ID, Title: "extra"}); !errors.As(err, &ce) {
		t.Fatalf("expected conflict on active node add, got %v", err)
	}

	// revert reopens editing
	got, err = env.Engine.RevertDialogue(env.Ctx, g.Dialogue.ID)
	if err != nil || got.State != domain.DialogueDraft {
		t.Fatalf("revert: %v state=%s", err, got.State)
	}
	if _, err := env.Engine.UpdateDialogue(env.Ctx, g.Dialogue.ID, repo.DialoguePatch{Name: &name}); err != nil {
		t.Fatalf("edit after revert: %v", err)
	}

	// archived is terminal for activation
	if _, err := env.Engine.ArchiveDialogue(env.Ctx, g.Dialogue.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, _, err := env.Engine.ActivateDialogue(env.Ctx, g.Dialogue.ID); !errors.As(err, &ce) {
		t.Fatalf("expected conflict activating archived, got %v", err)
	}
}

func TestDecisionTargetCoercion(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)

	// wiring a development node from a decision turns it into a
	// response-kind node speaking with the decision's role
	n, err := env.Engine.Repo.GetNode(env.Ctx, g.Sustain.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if n.Kind != domain.KindResponse {
		t.Fatalf("expected response kind, got %s", n.Kind)
	}
	if n.SpeakingRoleID == nil || *n.SpeakingRoleID != "judge" {
		t.Fatalf("expected judge role, got %v", n.SpeakingRoleID)
	}

	// removing the last inbound edge from a decision reverts the node
	if err := env.Engine.DeleteResponse(env.Ctx, g.ESustain.ID); err != nil {
		t.Fatalf("delete response: %v", err)
	}
	n, err = env.Engine.Repo.GetNode(env.Ctx, g.Sustain.ID)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if n.Kind != domain.KindDevelopment {
		t.Fatalf("expected revert to development, got %s", n.Kind)
	}
	if n.SpeakingRoleID != nil {
		t.Fatalf("expected role cleared, got %v", *n.SpeakingRoleID)
	}
}

func TestSingleOutgoingRule(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)

	_, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: g.Dialogue.ID,
		SourceID:   g.Start.ID,
		TargetID:   g.Final.ID,
		Label:      "Shortcut",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error on second outgoing, got %v", err)
	}

	// decisions have no ceiling
	if _, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: g.Dialogue.ID,
		SourceID:   g.Decision.ID,
		TargetID:   g.Final.ID,
		Label:      "Dismiss",
	}); err != nil {
		t.Fatalf("expected decision fan-out to pass: %v", err)
	}

	// final nodes are never a source
	if _, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: g.Dialogue.ID,
		SourceID:   g.Final.ID,
		TargetID:   g.Start.ID,
		Label:      "Reopen",
	}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error on final source, got %v", err)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)

	ex, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "judge-user"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if ex.State != domain.ExecutionStarted || ex.CurrentNodeID == nil || *ex.CurrentNodeID != g.Start.ID {
		t.Fatalf("start pointer: %+v", ex)
	}

	// only one live execution per session
	_, err = env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "judge-user"})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on second start, got %v", err)
	}

	claim(t, env, "trial-1", "judge", "judge-user")
	claim(t, env, "trial-1", "prosecutor", "pros-user")

	// start node carries no role: any claimed role may move
	dec, ex, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "pros-user", RoleID: "prosecutor",
	})
	if err != nil {
		t.Fatalf("submit proceed: %v", err)
	}
	if ex.State != domain.ExecutionRunning || *ex.CurrentNodeID != g.Decision.ID {
		t.Fatalf("after proceed: %+v", ex)
	}
	if dec.ScoreDelta != 0 {
		t.Fatalf("proceed score: %d", dec.ScoreDelta)
	}

	// decision node speaks with the judge role: prosecutor is gated out
	_, _, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ESustain.ID, UserID: "pros-user", RoleID: "prosecutor",
	})
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != engine.ReasonNotYourTurn {
		t.Fatalf("expected not_your_turn, got %v", err)
	}

	// claiming a role is not enough; the caller must actually hold the
	// role it submits as
	_, _, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ESustain.ID, UserID: "pros-user", RoleID: "judge",
	})
	if !errors.As(err, &fe) || fe.Reason != engine.ReasonNotYourTurn {
		t.Fatalf("expected not_your_turn for unheld role, got %v", err)
	}

	dec, ex, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ESustain.ID, UserID: "judge-user", RoleID: "judge", AnnexText: "Sustained.",
	})
	if err != nil {
		t.Fatalf("submit ruling: %v", err)
	}
	if dec.ScoreDelta != 5 || *ex.CurrentNodeID != g.Sustain.ID {
		t.Fatalf("after ruling: dec=%+v ex=%+v", dec, ex)
	}

	// the branch node closes the trial at the final node
	avail, err := env.Engine.SessionAvailability(env.Ctx, "trial-1", "judge-user")
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(avail.Responses) != 1 {
		t.Fatalf("expected one closing edge, got %d", len(avail.Responses))
	}
	_, ex, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: avail.Responses[0].Response.ID, UserID: "judge-user", RoleID: "judge",
	})
	if err != nil {
		t.Fatalf("submit close: %v", err)
	}
	if ex.State != domain.ExecutionFinished || ex.FinishedAt == nil {
		t.Fatalf("expected finished execution: %+v", ex)
	}

	readout, err := env.Engine.SessionHistory(env.Ctx, "trial-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if readout.Score != 5 {
		t.Fatalf("score: %d", readout.Score)
	}
	want := []string{g.Start.ID, g.Decision.ID, g.Sustain.ID, g.Final.ID}
	if len(readout.History) != len(want) {
		t.Fatalf("history length: %v", readout.History)
	}
	for i, id := range want {
		if readout.History[i] != id {
			t.Fatalf("history[%d]=%s want %s", i, readout.History[i], id)
		}
	}
	if len(readout.Decisions) != 3 {
		t.Fatalf("decision count: %d", len(readout.Decisions))
	}
}

func TestSubmitOffPointerResponseNotFound(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	claim(t, env, "trial-1", "judge", "u1")

	// the ruling edge hangs off the decision node while the pointer still
	// sits at start: rejected before anything lands
	dec, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ESustain.ID, UserID: "u1", RoleID: "judge",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for off-pointer edge, got %v", err)
	}
	if dec.ID != "" {
		t.Fatalf("decision recorded for off-pointer edge: %+v", dec)
	}
	readout, err := env.Engine.SessionHistory(env.Ctx, "trial-1")
	if err != nil {
		t.Fatalf("readout: %v", err)
	}
	if readout.Score != 0 || len(readout.Decisions) != 0 {
		t.Fatalf("side effects leaked: score=%d decisions=%d", readout.Score, len(readout.Decisions))
	}

	if _, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	}); err != nil {
		t.Fatalf("submit proceed: %v", err)
	}

	// replaying the start edge after the pointer moved past it is equally
	// not found
	_, _, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on replay, got %v", err)
	}
	readout, err = env.Engine.SessionHistory(env.Ctx, "trial-1")
	if err != nil {
		t.Fatalf("readout: %v", err)
	}
	if *readout.Execution.CurrentNodeID != g.Decision.ID || len(readout.Decisions) != 1 {
		t.Fatalf("replay left a mark: %+v", readout)
	}
}

func TestSubmitDanglingResponseFinishes(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDialogue(env.Ctx, engine.DialogueCreateOptions{Name: "Walkout", OwnerID: "author"})
	if err != nil {
		t.Fatal(err)
	}
	start, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{DialogueID: d.ID, Kind: domain.KindStart, Title: "Open"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{DialogueID: d.ID, Kind: domain.KindFinal, Title: "Adjourned"}); err != nil {
		t.Fatal(err)
	}
	walk, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: d.ID, SourceID: start.ID, Label: "Walk out", ScoreDelta: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	activate(t, env, d.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "s1", DialogueID: d.ID, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}
	claim(t, env, "s1", "judge", "u1")

	// an edge with no target records the decision and ends the run where
	// it stands
	dec, ex, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "s1", ResponseID: walk.ID, UserID: "u1", RoleID: "judge",
	})
	if err != nil {
		t.Fatalf("submit walk-out: %v", err)
	}
	if dec.ScoreDelta != -1 {
		t.Fatalf("walk-out score: %d", dec.ScoreDelta)
	}
	if ex.State != domain.ExecutionFinished || ex.FinishedAt == nil {
		t.Fatalf("expected finished execution: %+v", ex)
	}
	if ex.CurrentNodeID == nil || *ex.CurrentNodeID != start.ID {
		t.Fatalf("pointer should not move on a dangling edge: %v", ex.CurrentNodeID)
	}

	readout, err := env.Engine.SessionHistory(env.Ctx, "s1")
	if err != nil {
		t.Fatalf("readout: %v", err)
	}
	if readout.Score != -1 || len(readout.History) != 1 {
		t.Fatalf("readout: score=%d history=%v", readout.Score, readout.History)
	}
	evts, err := env.Engine.EventsSince(env.Ctx, "s1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) == 0 || evts[len(evts)-1].Type != domain.EventSessionFinished {
		t.Fatalf("expected session finished event last, got %+v", evts)
	}
}

func TestFinishSessionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	ex, err := env.Engine.FinishSession(env.Ctx, "trial-1", "bench")
	if err != nil || ex.State != domain.ExecutionFinished {
		t.Fatalf("finish: %v state=%s", err, ex.State)
	}
	again, err := env.Engine.FinishSession(env.Ctx, "trial-1", "bench")
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if again.ID != ex.ID || again.State != domain.ExecutionFinished {
		t.Fatalf("second finish returned %+v", again)
	}

	// the no-op must not append a second finished event
	evts, err := env.Engine.EventsSince(env.Ctx, "trial-1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	finished := 0
	for _, evt := range evts {
		if evt.Type == domain.EventSessionFinished {
			finished++
		}
	}
	if finished != 1 {
		t.Fatalf("finished event count: %d", finished)
	}

	// a session that never started is still not found
	if _, err := env.Engine.FinishSession(env.Ctx, "trial-2", "bench"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
}

func TestPauseBlocksSubmit(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	claim(t, env, "trial-1", "judge", "u1")

	ex, err := env.Engine.PauseSession(env.Ctx, "trial-1", "u1")
	if err != nil || ex.State != domain.ExecutionPaused {
		t.Fatalf("pause: %v state=%s", err, ex.State)
	}
	// pausing again is a no-op
	if ex, err = env.Engine.PauseSession(env.Ctx, "trial-1", "u1"); err != nil || ex.State != domain.ExecutionPaused {
		t.Fatalf("re-pause: %v", err)
	}

	_, _, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	})
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != engine.ReasonNotYourTurn {
		t.Fatalf("expected forbidden while paused, got %v", err)
	}

	if ex, err = env.Engine.ResumeSession(env.Ctx, "trial-1", "u1"); err != nil || ex.State != domain.ExecutionRunning {
		t.Fatalf("resume: %v state=%s", err, ex.State)
	}
	if _, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	}); err != nil {
		t.Fatalf("submit after resume: %v", err)
	}
}

func TestClaimReleaseRoles(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.ClaimRole(env.Ctx, "trial-1", "bailiff", "u1"); !errors.As(err, &ve) {
		t.Fatalf("expected unknown role error, got %v", err)
	}

	claim(t, env, "trial-1", "judge", "u1")
	// idempotent for the holder
	claim(t, env, "trial-1", "judge", "u1")

	_, err := env.Engine.ClaimRole(env.Ctx, "trial-1", "judge", "u2")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on held role, got %v", err)
	}

	err = env.Engine.ReleaseRole(env.Ctx, "trial-1", "judge", "u2", false)
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-holder release, got %v", err)
	}
	if err := env.Engine.ReleaseRole(env.Ctx, "trial-1", "judge", "u2", true); err != nil {
		t.Fatalf("forced release: %v", err)
	}
	claim(t, env, "trial-1", "judge", "u2")
}

func TestAdvanceManual(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	ex, err := env.Engine.AdvanceManual(env.Ctx, "trial-1", g.Decision.ID, "bench")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if *ex.CurrentNodeID != g.Decision.ID {
		t.Fatalf("pointer: %v", *ex.CurrentNodeID)
	}

	// jumping to a final node closes the execution
	ex, err = env.Engine.AdvanceManual(env.Ctx, "trial-1", g.Final.ID, "bench")
	if err != nil {
		t.Fatalf("advance to final: %v", err)
	}
	if ex.State != domain.ExecutionFinished {
		t.Fatalf("expected finished, got %s", ex.State)
	}
}

func TestVariableEffectsAndPreconditions(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CreateDialogue(env.Ctx, engine.DialogueCreateOptions{Name: "Evidence gate", OwnerID: "author"})
	if err != nil {
		t.Fatal(err)
	}
	start, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{
		DialogueID: d.ID, Kind: domain.KindStart, Title: "Open",
		EffectsJSON: `[{"var":"exhibits","op":"set","value":0}]`,
	})
	if err != nil {
		t.Fatal(err)
	}
	dec, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{DialogueID: d.ID, Kind: domain.KindDecision, Title: "Present"})
	if err != nil {
		t.Fatal(err)
	}
	fin, err := env.Engine.AddNode(env.Ctx, engine.NodeCreateOptions{DialogueID: d.ID, Kind: domain.KindFinal, Title: "Close"})
	if err != nil {
		t.Fatal(err)
	}
	toDec, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: d.ID, SourceID: start.ID, TargetID: dec.ID, Label: "Begin",
		EffectsJSON: `[{"var":"exhibits","op":"inc"}]`,
	})
	if err != nil {
		t.Fatal(err)
	}
	rest, err := env.Engine.AddResponse(env.Ctx, engine.ResponseCreateOptions{
		DialogueID: d.ID, SourceID: dec.ID, TargetID: fin.ID, Label: "Rest the case",
		PrecondJSON: `[{"var":"exhibits","op":"gte","value":2}]`,
	})
	if err != nil {
		t.Fatal(err)
	}
	activate(t, env, d.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "s1", DialogueID: d.ID, ActorID: "u1"}); err != nil {
		t.Fatal(err)
	}
	claim(t, env, "s1", "prosecutor", "u1")

	if _, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "s1", ResponseID: toDec.ID, UserID: "u1", RoleID: "prosecutor",
	}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// exhibits is 1, the gate wants 2
	_, _, err = env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "s1", ResponseID: rest.ID, UserID: "u1", RoleID: "prosecutor",
	})
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition failure, got %v", err)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)

	bundle, err := env.Engine.ExportDialogue(env.Ctx, g.Dialogue.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(bundle.Nodes) != 5 || len(bundle.Responses) != 5 {
		t.Fatalf("bundle shape: %d nodes %d responses", len(bundle.Nodes), len(bundle.Responses))
	}

	imported, err := env.Engine.ImportDialogue(env.Ctx, bundle, "importer")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if imported.State != domain.DialogueDraft || imported.OwnerID != "importer" {
		t.Fatalf("imported: %+v", imported)
	}
	nodes, err := env.Engine.Repo.ListNodes(env.Ctx, imported.ID)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 5 {
		t.Fatalf("imported node count: %d", len(nodes))
	}
	// ids are remapped, never reused
	for _, n := range nodes {
		if n.ID == g.Start.ID || n.ID == g.Decision.ID {
			t.Fatalf("imported node reused id %s", n.ID)
		}
	}
	// the imported copy activates on its own
	activate(t, env, imported.ID)

	// duplicate defaults the name
	dup, err := env.Engine.DuplicateDialogue(env.Ctx, g.Dialogue.ID, "", "author")
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if dup.Name != g.Dialogue.Name+" (copy)" {
		t.Fatalf("duplicate name: %q", dup.Name)
	}
}

func TestImportRejectsBrokenBundles(t *testing.T) {
	env := newTestEnv(t)
	target := "missing"
	bundle := engine.DialogueBundle{
		Name: "broken",
		Nodes: []engine.BundleNode{
			{ID: "a", Kind: domain.KindStart, Title: "A", IsInitial: true},
		},
		Responses: []engine.BundleResponse{
			{SourceID: "a", TargetID: &target, Label: "off the map"},
		},
	}
	var ve engine.ValidationError
	if _, err := env.Engine.ImportDialogue(env.Ctx, bundle, "importer"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	bundle.Responses = nil
	bundle.Nodes = append(bundle.Nodes, engine.BundleNode{ID: "a", Kind: domain.KindFinal, Title: "dup"})
	if _, err := env.Engine.ImportDialogue(env.Ctx, bundle, "importer"); !errors.As(err, &ve) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestDeleteDialogueWithLiveExecution(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := env.Engine.DeleteDialogue(env.Ctx, g.Dialogue.ID)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.FinishSession(env.Ctx, "trial-1", "u1"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := env.Engine.DeleteDialogue(env.Ctx, g.Dialogue.ID); err != nil {
		t.Fatalf("delete after finish: %v", err)
	}
	if _, err := env.Engine.Repo.GetDialogue(env.Ctx, g.Dialogue.ID); err != repo.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventCursor(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	claim(t, env, "trial-1", "judge", "u1")

	all, err := env.Engine.EventsSince(env.Ctx, "trial-1", 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) == 0 {
		t.Fatalf("expected events after start")
	}
	if all[0].Type != domain.EventSessionStarted || all[0].Seq != 1 {
		t.Fatalf("first event: %+v", all[0])
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq != all[i-1].Seq+1 {
			t.Fatalf("seq gap at %d: %d then %d", i, all[i-1].Seq, all[i].Seq)
		}
	}

	cursor := all[len(all)-1].Seq
	rest, err := env.Engine.EventsSince(env.Ctx, "trial-1", cursor, 100)
	if err != nil {
		t.Fatalf("events after cursor: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected empty page past the cursor, got %d", len(rest))
	}

	if _, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rest, err = env.Engine.EventsSince(env.Ctx, "trial-1", cursor, 100)
	if err != nil {
		t.Fatalf("events after submit: %v", err)
	}
	if len(rest) == 0 || rest[0].Seq != cursor+1 {
		t.Fatalf("cursor resume: %+v", rest)
	}
}

func TestAttachDecisionMetaOnce(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)
	activate(t, env, g.Dialogue.ID)
	if _, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	claim(t, env, "trial-1", "judge", "u1")
	dec, _, err := env.Engine.SubmitDecision(env.Ctx, engine.SubmitOptions{
		SessionID: "trial-1", ResponseID: g.ToDecision.ID, UserID: "u1", RoleID: "judge",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var ve engine.ValidationError
	if _, err := env.Engine.AttachDecisionMeta(env.Ctx, dec.ID, "not json"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := env.Engine.AttachDecisionMeta(env.Ctx, dec.ID, `{"device":"tablet"}`)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.ClientMetaJSON == nil || *got.ClientMetaJSON != `{"device":"tablet"}` {
		t.Fatalf("meta: %v", got.ClientMetaJSON)
	}

	_, err = env.Engine.AttachDecisionMeta(env.Ctx, dec.ID, `{"device":"phone"}`)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on second attach, got %v", err)
	}
}

func TestStartRequiresActiveDialogue(t *testing.T) {
	env := newTestEnv(t)
	g := buildTrialGraph(t, env)

	_, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{SessionID: "trial-1", DialogueID: g.Dialogue.ID, ActorID: "u1"})
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition failure on draft dialogue, got %v", err)
	}
}
