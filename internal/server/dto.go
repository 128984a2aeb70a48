package server

// Request payloads. Responses reuse the domain structs, which carry the
// wire tags.

type CreateDialogueRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Visibility  *string `json:"visibility,omitempty" enum:"private,public"`
	ConfigJSON  *string `json:"config_json,omitempty"`
}

type UpdateDialogueRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Visibility  *string `json:"visibility,omitempty" enum:"private,public"`
	ConfigJSON  *string `json:"config_json,omitempty"`
}

type DuplicateDialogueRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateNodeRequest struct {
	ID             *string `json:"id,omitempty"`
	Kind           string  `json:"kind,omitempty" enum:"start,development,decision,final,group,response"`
	Title          string  `json:"title"`
	Body           *string `json:"body,omitempty"`
	MenuLabel      *string `json:"menu_label,omitempty"`
	SpeakingRoleID *string `json:"speaking_role_id,omitempty"`
	PosX           float64 `json:"pos_x,omitempty"`
	PosY           float64 `json:"pos_y,omitempty"`
	IsInitial      bool    `json:"is_initial,omitempty"`
	IsFinal        bool    `json:"is_final,omitempty"`
	PrecondJSON    *string `json:"preconditions_json,omitempty"`
	EffectsJSON    *string `json:"effects_json,omitempty"`
}

type UpdateNodeRequest struct {
	Kind           *string  `json:"kind,omitempty" enum:"start,development,decision,final,group,response"`
	Title          *string  `json:"title,omitempty"`
	Body           *string  `json:"body,omitempty"`
	MenuLabel      *string  `json:"menu_label,omitempty"`
	SpeakingRoleID *string  `json:"speaking_role_id,omitempty"`
	ClearRole      bool     `json:"clear_role,omitempty"`
	PosX           *float64 `json:"pos_x,omitempty"`
	PosY           *float64 `json:"pos_y,omitempty"`
	IsInitial      *bool    `json:"is_initial,omitempty"`
	IsFinal        *bool    `json:"is_final,omitempty"`
	PrecondJSON    *string  `json:"preconditions_json,omitempty"`
	EffectsJSON    *string  `json:"effects_json,omitempty"`
	Active         *bool    `json:"active,omitempty"`
}

type CreateResponseRequest struct {
	ID             *string `json:"id,omitempty"`
	SourceID       string  `json:"source_id"`
	TargetID       *string `json:"target_id,omitempty"`
	Label          string  `json:"label"`
	Description    *string `json:"description,omitempty"`
	SortOrder      int     `json:"sort_order,omitempty"`
	ScoreDelta     int     `json:"score_delta,omitempty"`
	Color          *string `json:"color,omitempty"`
	RegisteredOnly bool    `json:"registered_only,omitempty"`
	IsDefault      bool    `json:"is_default,omitempty"`
	RolesJSON      *string `json:"required_roles_json,omitempty"`
	PrecondJSON    *string `json:"preconditions_json,omitempty"`
	EffectsJSON    *string `json:"effects_json,omitempty"`
}

type UpdateResponseRequest struct {
	TargetID       *string `json:"target_id,omitempty"`
	ClearTarget    bool    `json:"clear_target,omitempty"`
	Label          *string `json:"label,omitempty"`
	Description    *string `json:"description,omitempty"`
	SortOrder      *int    `json:"sort_order,omitempty"`
	ScoreDelta     *int    `json:"score_delta,omitempty"`
	Color          *string `json:"color,omitempty"`
	RegisteredOnly *bool   `json:"registered_only,omitempty"`
	IsDefault      *bool   `json:"is_default,omitempty"`
	RolesJSON      *string `json:"required_roles_json,omitempty"`
	PrecondJSON    *string `json:"preconditions_json,omitempty"`
	EffectsJSON    *string `json:"effects_json,omitempty"`
}

type StartSessionRequest struct {
	DialogueID string `json:"dialogue_id"`
}

type ClaimRoleRequest struct {
	RoleID string `json:"role_id"`
}

type ReleaseRoleRequest struct {
	RoleID string `json:"role_id"`
	Force  bool   `json:"force,omitempty"`
}

type SubmitDecisionRequest struct {
	ResponseID     string  `json:"response_id"`
	RoleID         string  `json:"role_id"`
	AnnexText      *string `json:"annex_text,omitempty"`
	LatencyMs      *int    `json:"latency_ms,omitempty"`
	ClientMetaJSON *string `json:"client_meta_json,omitempty"`
}

type AdvanceRequest struct {
	ToNodeID string `json:"to_node_id"`
}

type AttachMetaRequest struct {
	ClientMetaJSON string `json:"client_meta_json"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
