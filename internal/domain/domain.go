package domain

// NodeKind tags a node with the rule set that constrains its edges.
type NodeKind string

const (
	KindStart       NodeKind = "start"
	KindDevelopment NodeKind = "development"
	KindDecision    NodeKind = "decision"
	KindFinal       NodeKind = "final"
	KindGroup       NodeKind = "group"
	KindResponse    NodeKind = "response"
)

// DialogueState is the authoring lifecycle of a dialogue graph.
type DialogueState string

const (
	DialogueDraft    DialogueState = "draft"
	DialogueActive   DialogueState = "active"
	DialogueArchived DialogueState = "archived"
)

// ExecutionState is the live lifecycle of one playthrough.
type ExecutionState string

const (
	ExecutionStarted  ExecutionState = "started"
	ExecutionRunning  ExecutionState = "running"
	ExecutionPaused   ExecutionState = "paused"
	ExecutionFinished ExecutionState = "finished"
)

type Dialogue struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Visibility  string        `json:"visibility" enum:"private,public"`
	State       DialogueState `json:"state" enum:"draft,active,archived"`
	OwnerID     string        `json:"owner_id"`
	ConfigJSON  *string       `json:"config_json,omitempty"`
	Version     int           `json:"version"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

type Node struct {
	ID             string   `json:"id"`
	DialogueID     string   `json:"dialogue_id"`
	Kind           NodeKind `json:"kind" enum:"start,development,decision,final,group,response"`
	Title          string   `json:"title"`
	Body           string   `json:"body,omitempty"`
	MenuLabel      string   `json:"menu_label,omitempty"`
	SpeakingRoleID *string  `json:"speaking_role_id,omitempty"`
	PosX           float64  `json:"pos_x"`
	PosY           float64  `json:"pos_y"`
	IsInitial      bool     `json:"is_initial"`
	IsFinal        bool     `json:"is_final"`
	PrecondJSON    *string  `json:"preconditions_json,omitempty"`
	EffectsJSON    *string  `json:"effects_json,omitempty"`
	Active         bool     `json:"active"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Response is a directed edge from one node to at most one target.
// A nil TargetID is a dangling branch end.
type Response struct {
	ID             string  `json:"id"`
	DialogueID     string  `json:"dialogue_id"`
	SourceID       string  `json:"source_id"`
	TargetID       *string `json:"target_id,omitempty"`
	Label          string  `json:"label"`
	Description    string  `json:"description,omitempty"`
	SortOrder      int     `json:"sort_order"`
	ScoreDelta     int     `json:"score_delta"`
	Color          string  `json:"color,omitempty"`
	RegisteredOnly bool    `json:"registered_only"`
	IsDefault      bool    `json:"is_default"`
	RolesJSON      *string `json:"required_roles_json,omitempty"`
	PrecondJSON    *string `json:"preconditions_json,omitempty"`
	EffectsJSON    *string `json:"effects_json,omitempty"`
}

// SessionExecution is the live cursor-plus-history of one playthrough.
// At most one non-finished row may exist per session.
type SessionExecution struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	DialogueID    string         `json:"dialogue_id"`
	State         ExecutionState `json:"state" enum:"started,running,paused,finished"`
	CurrentNodeID *string        `json:"current_node_id,omitempty"`
	HistoryJSON   string         `json:"history_json"`
	VariablesJSON string         `json:"variables_json"`
	StartedAt     string         `json:"started_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
	FinishedAt    *string        `json:"finished_at,omitempty" format:"date-time"`
}

// Decision records one actor choosing one edge at one point in a playthrough.
// Immutable after insert, except for a one-shot client metadata attach.
type Decision struct {
	ID             string  `json:"id"`
	ExecutionID    string  `json:"execution_id"`
	SessionID      string  `json:"session_id"`
	UserID         string  `json:"user_id"`
	RoleID         string  `json:"role_id"`
	ResponseID     string  `json:"response_id"`
	AnnexText      string  `json:"annex_text,omitempty"`
	LatencyMs      *int    `json:"latency_ms,omitempty"`
	ScoreDelta     int     `json:"score_delta"`
	ClientMetaJSON *string `json:"client_meta_json,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Participant binds a user to a role within a session. One user per role.
type Participant struct {
	SessionID string `json:"session_id"`
	RoleID    string `json:"role_id"`
	UserID    string `json:"user_id"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
}

// Event is one entry in a session's append-only log. Seq is strictly
// increasing within a session, never globally.
type Event struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	ActorID   string `json:"actor_id,omitempty"`
	Payload   string `json:"payload_json"`
	TS        string `json:"ts" format:"date-time"`
}

// Event types published by the engine.
const (
	EventSessionStarted  = "session.started"
	EventSessionPaused   = "session.paused"
	EventSessionResumed  = "session.resumed"
	EventSessionFinished = "session.finished"
	EventTransition      = "transition"
	EventSpeakingState   = "speaking-state"
	EventDecisionApplied = "decision-applied"
	EventRoleClaimed     = "role.claimed"
	EventRoleReleased    = "role.released"
)
