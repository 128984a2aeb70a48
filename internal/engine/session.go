package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"mootcourt/internal/domain"
	"mootcourt/internal/events"
	"mootcourt/internal/graph"
	"mootcourt/internal/repo"
	"mootcourt/internal/vars"
)

// StartSessionOptions are parameters for starting a playthrough.
type StartSessionOptions struct {
	SessionID  string
	DialogueID string
	ActorID    string
}

// StartSession opens the single live execution of a session. The pointer
// seeds at the initial node; with several flagged, the lowest id wins.
func (e Engine) StartSession(ctx context.Context, opts StartSessionOptions) (domain.SessionExecution, error) {
	if opts.SessionID == "" {
		return domain.SessionExecution{}, validationf("session id is required")
	}
	d, err := e.Repo.GetDialogue(ctx, opts.DialogueID)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	if d.State != domain.DialogueActive {
		return domain.SessionExecution{}, preconditionf("dialogue %s is %s, not active", d.ID, d.State)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	defer tx.Rollback()

	if live, err := e.Repo.ActiveExecutionForSession(ctx, tx, opts.SessionID); err == nil {
		return domain.SessionExecution{}, conflictf("session %s already has live execution %s", opts.SessionID, live.ID)
	} else if err != repo.ErrNotFound {
		return domain.SessionExecution{}, err
	}

	nodes, err := e.Repo.ListNodesTx(ctx, tx, d.ID)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	initial, ok := graph.InitialNode(nodes)
	if !ok {
		return domain.SessionExecution{}, preconditionf("dialogue %s has no initial node", d.ID)
	}

	bag := vars.Bag{}
	effs, err := vars.ParseEffects(initial.EffectsJSON)
	if err != nil {
		return domain.SessionExecution{}, validationf("initial node effects: %v", err)
	}
	if err := vars.Apply(effs, bag); err != nil {
		return domain.SessionExecution{}, validationf("initial node effects: %v", err)
	}
	varsJSON, err := bag.Encode()
	if err != nil {
		return domain.SessionExecution{}, err
	}
	historyJSON, err := encodeHistory([]string{initial.ID})
	if err != nil {
		return domain.SessionExecution{}, err
	}

	now := e.nowRFC3339()
	ex := domain.SessionExecution{
		ID:            newID(),
		SessionID:     opts.SessionID,
		DialogueID:    d.ID,
		State:         domain.ExecutionStarted,
		CurrentNodeID: &initial.ID,
		HistoryJSON:   historyJSON,
		VariablesJSON: varsJSON,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertExecution(ctx, tx, ex); err != nil {
		return domain.SessionExecution{}, err
	}
	if _, err := e.Events.Append(ctx, tx, ex.SessionID, domain.EventSessionStarted, opts.ActorID, events.EventPayload{
		"execution_id": ex.ID,
		"dialogue_id":  d.ID,
	}); err != nil {
		return domain.SessionExecution{}, err
	}
	if err := e.appendTransitionEvents(ctx, tx, ex.SessionID, ex.ID, opts.ActorID, nil, initial); err != nil {
		return domain.SessionExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionExecution{}, err
	}
	return ex, nil
}

func (e Engine) appendTransitionEvents(ctx context.Context, tx *sql.Tx, sessionID, executionID, actorID string, from *string, to domain.Node) error {
	payload := events.EventPayload{
		"execution_id": executionID,
		"to_node_id":   to.ID,
		"node_kind":    to.Kind,
	}
	if from != nil {
		payload["from_node_id"] = *from
	}
	if _, err := e.Events.Append(ctx, tx, sessionID, domain.EventTransition, actorID, payload); err != nil {
		return err
	}
	speaking := events.EventPayload{
		"execution_id": executionID,
		"node_id":      to.ID,
	}
	if to.SpeakingRoleID != nil {
		speaking["role_id"] = *to.SpeakingRoleID
	}
	_, err := e.Events.Append(ctx, tx, sessionID, domain.EventSpeakingState, actorID, speaking)
	return err
}

// PauseSession suspends the live execution. Pausing an already paused
// session is a no-op.
func (e Engine) PauseSession(ctx context.Context, sessionID, actorID string) (domain.SessionExecution, error) {
	return e.setExecutionState(ctx, sessionID, actorID, domain.ExecutionPaused, domain.EventSessionPaused)
}

// ResumeSession lifts a pause. Resuming a running session is a no-op.
func (e Engine) ResumeSession(ctx context.Context, sessionID, actorID string) (domain.SessionExecution, error) {
	return e.setExecutionState(ctx, sessionID, actorID, domain.ExecutionRunning, domain.EventSessionResumed)
}

func (e Engine) setExecutionState(ctx context.Context, sessionID, actorID string, state domain.ExecutionState, evtType string) (domain.SessionExecution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.ActiveExecutionForSession(ctx, tx, sessionID)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	if ex.State == state {
		return ex, nil
	}
	if state == domain.ExecutionRunning && ex.State != domain.ExecutionPaused {
		return ex, nil
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateExecutionState(ctx, tx, ex.ID, state, now, nil); err != nil {
		return domain.SessionExecution{}, err
	}
	if _, err := e.Events.Append(ctx, tx, sessionID, evtType, actorID, events.EventPayload{"execution_id": ex.ID}); err != nil {
		return domain.SessionExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionExecution{}, err
	}
	ex.State = state
	ex.UpdatedAt = now
	return ex, nil
}

// FinishSession closes the live execution. Finishing an already finished
// session is a no-op returning the finished execution; a session that was
// never started is not found.
func (e Engine) FinishSession(ctx context.Context, sessionID, actorID string) (domain.SessionExecution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.ActiveExecutionForSession(ctx, tx, sessionID)
	if err == repo.ErrNotFound {
		tx.Rollback()
		execs, lerr := e.Repo.ListExecutions(ctx, sessionID)
		if lerr != nil {
			return domain.SessionExecution{}, lerr
		}
		if len(execs) > 0 && execs[0].State == domain.ExecutionFinished {
			return execs[0], nil
		}
		return domain.SessionExecution{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.SessionExecution{}, err
	}
	now := e.nowRFC3339()
	if err := e.finishExecution(ctx, tx, &ex, actorID, now, "manual"); err != nil {
		return domain.SessionExecution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionExecution{}, err
	}
	return ex, nil
}

func (e Engine) finishExecution(ctx context.Context, tx *sql.Tx, ex *domain.SessionExecution, actorID, now, reason string) error {
	if err := e.Repo.UpdateExecutionState(ctx, tx, ex.ID, domain.ExecutionFinished, now, &now); err != nil {
		return err
	}
	if _, err := e.Events.Append(ctx, tx, ex.SessionID, domain.EventSessionFinished, actorID, events.EventPayload{
		"execution_id": ex.ID,
		"reason":       reason,
	}); err != nil {
		return err
	}
	ex.State = domain.ExecutionFinished
	ex.UpdatedAt = now
	ex.FinishedAt = &now
	return nil
}

// ClaimRole binds a user to a role for the session. One user per role;
// re-claiming one's own role is a no-op, someone else's is a conflict.
func (e Engine) ClaimRole(ctx context.Context, sessionID, roleID, userID string) (domain.Participant, error) {
	if userID == "" {
		return domain.Participant{}, validationf("user id is required")
	}
	if e.Config != nil && !e.Config.KnownRole(roleID) {
		return domain.Participant{}, validationf("unknown role %s", roleID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetParticipant(ctx, tx, sessionID, roleID)
	if err == nil {
		if existing.UserID == userID {
			return existing, nil
		}
		return domain.Participant{}, conflictf("role %s is held by another participant", roleID)
	}
	if err != repo.ErrNotFound {
		return domain.Participant{}, err
	}
	p := domain.Participant{
		SessionID: sessionID,
		RoleID:    roleID,
		UserID:    userID,
		ClaimedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
		return domain.Participant{}, err
	}
	if _, err := e.Events.Append(ctx, tx, sessionID, domain.EventRoleClaimed, userID, events.EventPayload{"role_id": roleID}); err != nil {
		return domain.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

// ReleaseRole frees a role. Only the holder may release, unless force is
// set by a managing caller.
func (e Engine) ReleaseRole(ctx context.Context, sessionID, roleID, userID string, force bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetParticipant(ctx, tx, sessionID, roleID)
	if err != nil {
		return err
	}
	if !force && p.UserID != userID {
		return ForbiddenError{Msg: "role " + roleID + " is held by another participant"}
	}
	if err := e.Repo.DeleteParticipant(ctx, tx, sessionID, roleID); err != nil {
		return err
	}
	if _, err := e.Events.Append(ctx, tx, sessionID, domain.EventRoleReleased, userID, events.EventPayload{"role_id": roleID, "holder_id": p.UserID}); err != nil {
		return err
	}
	return tx.Commit()
}

// AvailableResponse is one outgoing edge of the current node, annotated
// with whether this user may take it right now and why not otherwise.
type AvailableResponse struct {
	Response domain.Response `json:"response"`
	Allowed  bool            `json:"allowed"`
	Reason   string          `json:"reason,omitempty"`
}

// Availability answers "what can I do now" for one user in one session.
type Availability struct {
	Execution   domain.SessionExecution `json:"execution"`
	CurrentNode *domain.Node            `json:"current_node,omitempty"`
	Responses   []AvailableResponse     `json:"responses"`
}

func (e Engine) SessionAvailability(ctx context.Context, sessionID, userID string) (Availability, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Availability{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.ActiveExecutionForSession(ctx, tx, sessionID)
	if err != nil {
		return Availability{}, err
	}
	out := Availability{Execution: ex, Responses: []AvailableResponse{}}
	if ex.CurrentNodeID == nil {
		return out, nil
	}
	node, err := e.Repo.GetNodeTx(ctx, tx, *ex.CurrentNodeID)
	if err != nil {
		return Availability{}, err
	}
	out.CurrentNode = &node

	bag, err := vars.ParseBag(ex.VariablesJSON)
	if err != nil {
		return Availability{}, err
	}
	held, err := e.Repo.RolesHeldBy(ctx, tx, sessionID, userID)
	if err != nil {
		return Availability{}, err
	}
	edges, err := e.Repo.ListResponsesBySource(ctx, tx, node.ID)
	if err != nil {
		return Availability{}, err
	}
	for _, re := range edges {
		ar := AvailableResponse{Response: re, Allowed: true}
		if ex.State == domain.ExecutionPaused {
			ar.Allowed = false
			ar.Reason = "session paused"
		}
		if ar.Allowed {
			if reason := responseRoleGate(re, node, held); reason != "" {
				ar.Allowed = false
				ar.Reason = reason
			}
		}
		if ar.Allowed {
			conds, err := vars.ParseConditions(re.PrecondJSON)
			if err != nil {
				return Availability{}, err
			}
			pass, err := vars.Eval(conds, bag)
			if err != nil {
				return Availability{}, err
			}
			if !pass {
				ar.Allowed = false
				ar.Reason = "preconditions not met"
			}
		}
		out.Responses = append(out.Responses, ar)
	}
	return out, nil
}

// responseRoleGate returns a non-empty reason when the user's held roles
// do not satisfy the edge's turn gate. Edge roles win over the node's
// speaking role; with neither set the edge is open.
func responseRoleGate(re domain.Response, node domain.Node, held []string) string {
	allowed := edgeRoles(re)
	if len(allowed) == 0 && node.SpeakingRoleID != nil {
		allowed = []string{*node.SpeakingRoleID}
	}
	if re.RegisteredOnly && len(held) == 0 {
		return "registered participants only"
	}
	if len(allowed) == 0 {
		return ""
	}
	for _, want := range allowed {
		for _, have := range held {
			if want == have {
				return ""
			}
		}
	}
	return "not your turn: requires role " + strings.Join(allowed, " or ")
}

func edgeRoles(re domain.Response) []string {
	if re.RolesJSON == nil || *re.RolesJSON == "" {
		return nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(*re.RolesJSON), &roles); err != nil {
		return nil
	}
	return roles
}

// SubmitOptions are parameters for playing one response.
type SubmitOptions struct {
	SessionID      string
	ResponseID     string
	UserID         string
	RoleID         string
	AnnexText      string
	LatencyMs      int
	ClientMetaJSON string
}

// SubmitDecision plays one edge leaving the current node. Edges anchored
// anywhere else in the graph are not found here, checked before any side
// effect lands. The pointer then moves with a compare-and-swap; losing
// that race to a concurrent advance keeps the decision row and variable
// effects but returns a conflict, surfacing the divergence to the caller.
func (e Engine) SubmitDecision(ctx context.Context, opts SubmitOptions) (domain.Decision, domain.SessionExecution, error) {
	if opts.UserID == "" {
		return domain.Decision{}, domain.SessionExecution{}, validationf("user id is required")
	}
	if opts.RoleID == "" {
		return domain.Decision{}, domain.SessionExecution{}, validationf("role id is required")
	}
	if opts.ClientMetaJSON != "" {
		if err := validateJSON(opts.ClientMetaJSON); err != nil {
			return domain.Decision{}, domain.SessionExecution{}, validationf("client_meta_json: %v", err)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, domain.SessionExecution{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.ActiveExecutionForSession(ctx, tx, opts.SessionID)
	if err != nil {
		return domain.Decision{}, domain.SessionExecution{}, err
	}
	if ex.State == domain.ExecutionPaused {
		return domain.Decision{}, ex, ForbiddenError{Reason: ReasonNotYourTurn, Msg: "session " + opts.SessionID + " is paused"}
	}

	re, err := e.Repo.GetResponseTx(ctx, tx, opts.ResponseID)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	if re.DialogueID != ex.DialogueID {
		return domain.Decision{}, ex, repo.ErrNotFound
	}
	if ex.CurrentNodeID == nil || re.SourceID != *ex.CurrentNodeID {
		return domain.Decision{}, ex, repo.ErrNotFound
	}
	src, err := e.Repo.GetNodeTx(ctx, tx, re.SourceID)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	var target *domain.Node
	if re.TargetID != nil {
		node, err := e.Repo.GetNodeTx(ctx, tx, *re.TargetID)
		if err != nil {
			return domain.Decision{}, ex, err
		}
		target = &node
	}

	held, err := e.Repo.RolesHeldBy(ctx, tx, opts.SessionID, opts.UserID)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	holdsClaimed := false
	for _, r := range held {
		if r == opts.RoleID {
			holdsClaimed = true
			break
		}
	}
	if !holdsClaimed {
		return domain.Decision{}, ex, ForbiddenError{
			Reason: ReasonNotYourTurn,
			Msg:    "user does not hold role " + opts.RoleID + " in this session",
		}
	}
	if reason := responseRoleGate(re, src, held); reason != "" {
		return domain.Decision{}, ex, ForbiddenError{Reason: ReasonNotYourTurn, Msg: reason}
	}

	bag, err := vars.ParseBag(ex.VariablesJSON)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	conds, err := vars.ParseConditions(re.PrecondJSON)
	if err != nil {
		return domain.Decision{}, ex, validationf("response preconditions: %v", err)
	}
	pass, err := vars.Eval(conds, bag)
	if err != nil {
		return domain.Decision{}, ex, validationf("response preconditions: %v", err)
	}
	if !pass {
		return domain.Decision{}, ex, preconditionf("preconditions of response %s not met", re.ID)
	}

	// Effects first, then the decision row, then the pointer swap. The
	// order is load-bearing: a lost swap must not undo the first two.
	effectSources := []*string{re.EffectsJSON}
	if target != nil {
		effectSources = append(effectSources, target.EffectsJSON)
	}
	for _, raw := range effectSources {
		effs, err := vars.ParseEffects(raw)
		if err != nil {
			return domain.Decision{}, ex, validationf("effects: %v", err)
		}
		if err := vars.Apply(effs, bag); err != nil {
			return domain.Decision{}, ex, validationf("effects: %v", err)
		}
	}
	varsJSON, err := bag.Encode()
	if err != nil {
		return domain.Decision{}, ex, err
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateExecutionVariables(ctx, tx, ex.ID, varsJSON, now); err != nil {
		return domain.Decision{}, ex, err
	}

	dec := domain.Decision{
		ID:             newID(),
		ExecutionID:    ex.ID,
		SessionID:      ex.SessionID,
		UserID:         opts.UserID,
		RoleID:         opts.RoleID,
		ResponseID:     re.ID,
		AnnexText:      opts.AnnexText,
		LatencyMs:      optionalInt(opts.LatencyMs),
		ScoreDelta:     re.ScoreDelta,
		ClientMetaJSON: optionalString(opts.ClientMetaJSON),
		CreatedAt:      now,
	}
	if err := e.Repo.InsertDecisionTx(ctx, tx, dec); err != nil {
		return domain.Decision{}, ex, err
	}

	decisionPayload := events.EventPayload{
		"execution_id": ex.ID,
		"decision_id":  dec.ID,
		"response_id":  re.ID,
		"role_id":      opts.RoleID,
		"score_delta":  re.ScoreDelta,
	}

	if target == nil {
		// a response with no target ends the run where it stands
		if _, err := e.Events.Append(ctx, tx, ex.SessionID, domain.EventDecisionApplied, opts.UserID, decisionPayload); err != nil {
			return domain.Decision{}, ex, err
		}
		ex.VariablesJSON = varsJSON
		ex.UpdatedAt = now
		if err := e.finishExecution(ctx, tx, &ex, opts.UserID, now, "null_target"); err != nil {
			return domain.Decision{}, ex, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Decision{}, ex, err
		}
		return dec, ex, nil
	}

	history, err := decodeHistory(ex.HistoryJSON)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	history = append(history, target.ID)
	historyJSON, err := encodeHistory(history)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	moved, err := e.Repo.AdvanceExecution(ctx, tx, ex.ID, &re.SourceID, re.TargetID, historyJSON, now)
	if err != nil {
		return domain.Decision{}, ex, err
	}
	if !moved {
		// A concurrent advance won the swap. Keep what was written.
		if err := tx.Commit(); err != nil {
			return domain.Decision{}, ex, err
		}
		return dec, ex, conflictf("execution moved past node %s; decision recorded without transition", re.SourceID)
	}

	if ex.State == domain.ExecutionStarted {
		if err := e.Repo.UpdateExecutionState(ctx, tx, ex.ID, domain.ExecutionRunning, now, nil); err != nil {
			return domain.Decision{}, ex, err
		}
		ex.State = domain.ExecutionRunning
	}

	if _, err := e.Events.Append(ctx, tx, ex.SessionID, domain.EventDecisionApplied, opts.UserID, decisionPayload); err != nil {
		return domain.Decision{}, ex, err
	}
	if err := e.appendTransitionEvents(ctx, tx, ex.SessionID, ex.ID, opts.UserID, &re.SourceID, *target); err != nil {
		return domain.Decision{}, ex, err
	}

	ex.CurrentNodeID = re.TargetID
	ex.HistoryJSON = historyJSON
	ex.VariablesJSON = varsJSON
	ex.UpdatedAt = now

	if target.IsFinal || target.Kind == domain.KindFinal {
		if err := e.finishExecution(ctx, tx, &ex, opts.UserID, now, "final_node"); err != nil {
			return domain.Decision{}, ex, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, ex, err
	}
	return dec, ex, nil
}

// AdvanceManual jumps the pointer to an arbitrary node of the dialogue.
// Bench-level operation: no turn gate, no preconditions, no decision row.
func (e Engine) AdvanceManual(ctx context.Context, sessionID, toNodeID, actorID string) (domain.SessionExecution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	defer tx.Rollback()

	ex, err := e.Repo.ActiveExecutionForSession(ctx, tx, sessionID)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	target, err := e.Repo.GetNodeTx(ctx, tx, toNodeID)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	if target.DialogueID != ex.DialogueID {
		return domain.SessionExecution{}, repo.ErrNotFound
	}
	history, err := decodeHistory(ex.HistoryJSON)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	history = append(history, target.ID)
	historyJSON, err := encodeHistory(history)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	now := e.nowRFC3339()
	moved, err := e.Repo.AdvanceExecution(ctx, tx, ex.ID, ex.CurrentNodeID, &target.ID, historyJSON, now)
	if err != nil {
		return domain.SessionExecution{}, err
	}
	if !moved {
		return domain.SessionExecution{}, conflictf("execution %s moved concurrently", ex.ID)
	}
	from := ex.CurrentNodeID
	if err := e.appendTransitionEvents(ctx, tx, sessionID, ex.ID, actorID, from, target); err != nil {
		return domain.SessionExecution{}, err
	}
	ex.CurrentNodeID = &target.ID
	ex.HistoryJSON = historyJSON
	ex.UpdatedAt = now
	if target.IsFinal || target.Kind == domain.KindFinal {
		if err := e.finishExecution(ctx, tx, &ex, actorID, now, "final_node"); err != nil {
			return domain.SessionExecution{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionExecution{}, err
	}
	return ex, nil
}

// AttachDecisionMeta adds client metadata to a decision exactly once.
func (e Engine) AttachDecisionMeta(ctx context.Context, decisionID, metaJSON string) (domain.Decision, error) {
	if err := validateJSON(metaJSON); err != nil || metaJSON == "" {
		return domain.Decision{}, validationf("client_meta_json must be valid json")
	}
	if _, err := e.Repo.GetDecision(ctx, decisionID); err != nil {
		return domain.Decision{}, err
	}
	ok, err := e.Repo.AttachDecisionMeta(ctx, decisionID, metaJSON)
	if err != nil {
		return domain.Decision{}, err
	}
	if !ok {
		return domain.Decision{}, conflictf("decision %s already has client metadata", decisionID)
	}
	return e.Repo.GetDecision(ctx, decisionID)
}

// SessionReadout is the score-and-history summary of one execution.
type SessionReadout struct {
	Execution domain.SessionExecution `json:"execution"`
	History   []string                `json:"history"`
	Decisions []domain.Decision       `json:"decisions"`
	Score     int                     `json:"score"`
}

// SessionHistory summarizes the most recent execution of a session.
func (e Engine) SessionHistory(ctx context.Context, sessionID string) (SessionReadout, error) {
	execs, err := e.Repo.ListExecutions(ctx, sessionID)
	if err != nil {
		return SessionReadout{}, err
	}
	if len(execs) == 0 {
		return SessionReadout{}, repo.ErrNotFound
	}
	ex := execs[0]
	history, err := decodeHistory(ex.HistoryJSON)
	if err != nil {
		return SessionReadout{}, err
	}
	decisions, err := e.Repo.ListDecisions(ctx, ex.ID)
	if err != nil {
		return SessionReadout{}, err
	}
	score := 0
	for _, d := range decisions {
		score += d.ScoreDelta
	}
	return SessionReadout{Execution: ex, History: history, Decisions: decisions, Score: score}, nil
}

// EventsSince reads the session log past a cursor, oldest first.
func (e Engine) EventsSince(ctx context.Context, sessionID string, cursor int64, limit int) ([]domain.Event, error) {
	return e.Repo.EventsSince(ctx, sessionID, cursor, limit)
}

func encodeHistory(ids []string) (string, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeHistory(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
