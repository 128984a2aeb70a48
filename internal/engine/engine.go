package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"mootcourt/internal/config"
	"mootcourt/internal/domain"
	"mootcourt/internal/events"
	"mootcourt/internal/graph"
	"mootcourt/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	keep := 10000
	if cfg != nil {
		keep = cfg.EventKeep()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{Repo: r, Keep: keep},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.New().String()
}

// DialogueCreateOptions are parameters for creating a dialogue.
type DialogueCreateOptions struct {
	ID          string
	Name        string
	Description string
	Visibility  string
	OwnerID     string
	ConfigJSON  string
}

func (e Engine) CreateDialogue(ctx context.Context, opts DialogueCreateOptions) (domain.Dialogue, error) {
	if opts.Name == "" {
		return domain.Dialogue{}, validationf("name is required")
	}
	if opts.OwnerID == "" {
		return domain.Dialogue{}, validationf("owner is required")
	}
	if opts.Visibility == "" {
		opts.Visibility = "private"
	}
	if opts.Visibility != "private" && opts.Visibility != "public" {
		return domain.Dialogue{}, validationf("visibility must be private or public")
	}
	if opts.ConfigJSON != "" {
		if err := validateJSON(opts.ConfigJSON); err != nil {
			return domain.Dialogue{}, validationf("config_json: %v", err)
		}
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	d := domain.Dialogue{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		Visibility:  opts.Visibility,
		State:       domain.DialogueDraft,
		OwnerID:     opts.OwnerID,
		ConfigJSON:  optionalString(opts.ConfigJSON),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertDialogue(ctx, d); err != nil {
		return domain.Dialogue{}, err
	}
	return d, nil
}

// UpdateDialogue patches metadata. Active dialogues are locked: authors
// revert to draft or duplicate first.
func (e Engine) UpdateDialogue(ctx context.Context, id string, patch repo.DialoguePatch) (domain.Dialogue, error) {
	d, err := e.Repo.GetDialogue(ctx, id)
	if err != nil {
		return domain.Dialogue{}, err
	}
	if err := ensureEditable(d); err != nil {
		return domain.Dialogue{}, err
	}
	if patch.Visibility != nil && *patch.Visibility != "private" && *patch.Visibility != "public" {
		return domain.Dialogue{}, validationf("visibility must be private or public")
	}
	if patch.ConfigJSON != nil {
		if err := validateJSON(*patch.ConfigJSON); err != nil {
			return domain.Dialogue{}, validationf("config_json: %v", err)
		}
	}
	if err := e.Repo.UpdateDialogue(ctx, id, patch, e.nowRFC3339()); err != nil {
		return domain.Dialogue{}, err
	}
	return e.Repo.GetDialogue(ctx, id)
}

func ensureEditable(d domain.Dialogue) error {
	if d.State != domain.DialogueDraft {
		return conflictf("dialogue %s is %s and cannot be edited", d.ID, d.State)
	}
	return nil
}

// ValidateDialogue runs the static graph checks without changing state.
func (e Engine) ValidateDialogue(ctx context.Context, id string) (graph.Report, error) {
	if _, err := e.Repo.GetDialogue(ctx, id); err != nil {
		return graph.Report{}, err
	}
	nodes, err := e.Repo.ListNodes(ctx, id)
	if err != nil {
		return graph.Report{}, err
	}
	edges, err := e.Repo.ListResponses(ctx, id)
	if err != nil {
		return graph.Report{}, err
	}
	return graph.Validate(nodes, edges), nil
}

// ActivateDialogue validates and, when the report carries no errors,
// moves the dialogue to active. Warnings pass through in the report.
func (e Engine) ActivateDialogue(ctx context.Context, id string) (domain.Dialogue, graph.Report, error) {
	d, err := e.Repo.GetDialogue(ctx, id)
	if err != nil {
		return domain.Dialogue{}, graph.Report{}, err
	}
	if d.State == domain.DialogueArchived {
		return domain.Dialogue{}, graph.Report{}, conflictf("dialogue %s is archived", id)
	}
	rep, err := e.ValidateDialogue(ctx, id)
	if err != nil {
		return domain.Dialogue{}, graph.Report{}, err
	}
	if !rep.Valid {
		return domain.Dialogue{}, rep, GraphInvalidError{Report: rep}
	}
	if d.State != domain.DialogueActive {
		if err := e.Repo.UpdateDialogueState(ctx, id, string(domain.DialogueActive), e.nowRFC3339()); err != nil {
			return domain.Dialogue{}, rep, err
		}
	}
	d, err = e.Repo.GetDialogue(ctx, id)
	return d, rep, err
}

// RevertDialogue moves an active dialogue back to draft for editing.
func (e Engine) RevertDialogue(ctx context.Context, id string) (domain.Dialogue, error) {
	d, err := e.Repo.GetDialogue(ctx, id)
	if err != nil {
		return domain.Dialogue{}, err
	}
	if d.State == domain.DialogueArchived {
		return domain.Dialogue{}, conflictf("dialogue %s is archived", id)
	}
	if d.State != domain.DialogueDraft {
		if err := e.Repo.UpdateDialogueState(ctx, id, string(domain.DialogueDraft), e.nowRFC3339()); err != nil {
			return domain.Dialogue{}, err
		}
	}
	return e.Repo.GetDialogue(ctx, id)
}

// ArchiveDialogue retires a dialogue. Archived dialogues serve reads only.
func (e Engine) ArchiveDialogue(ctx context.Context, id string) (domain.Dialogue, error) {
	if _, err := e.Repo.GetDialogue(ctx, id); err != nil {
		return domain.Dialogue{}, err
	}
	if err := e.Repo.UpdateDialogueState(ctx, id, string(domain.DialogueArchived), e.nowRFC3339()); err != nil {
		return domain.Dialogue{}, err
	}
	return e.Repo.GetDialogue(ctx, id)
}

// DeleteDialogue removes a dialogue and its graph. Refused while any
// non-finished execution references it.
func (e Engine) DeleteDialogue(ctx context.Context, id string) error {
	if _, err := e.Repo.GetDialogue(ctx, id); err != nil {
		return err
	}
	var n int
	err := e.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM session_executions WHERE dialogue_id=? AND state != ?`, id, domain.ExecutionFinished).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return conflictf("dialogue %s has %d live executions", id, n)
	}
	return e.Repo.DeleteDialogue(ctx, id)
}

// DialogueBundle is the portable import/export form of a dialogue graph.
type DialogueBundle struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Visibility  string           `json:"visibility,omitempty"`
	ConfigJSON  *string          `json:"config_json,omitempty"`
	Nodes       []BundleNode     `json:"nodes"`
	Responses   []BundleResponse `json:"responses"`
}

// BundleNode uses author-chosen ids, remapped to fresh uuids on import.
type BundleNode struct {
	ID             string          `json:"id"`
	Kind           domain.NodeKind `json:"kind"`
	Title          string          `json:"title"`
	Body           string          `json:"body,omitempty"`
	MenuLabel      string          `json:"menu_label,omitempty"`
	SpeakingRoleID *string         `json:"speaking_role_id,omitempty"`
	PosX           float64         `json:"pos_x,omitempty"`
	PosY           float64         `json:"pos_y,omitempty"`
	IsInitial      bool            `json:"is_initial,omitempty"`
	IsFinal        bool            `json:"is_final,omitempty"`
	PrecondJSON    *string         `json:"preconditions_json,omitempty"`
	EffectsJSON    *string         `json:"effects_json,omitempty"`
}

type BundleResponse struct {
	ID             string  `json:"id,omitempty"`
	SourceID       string  `json:"source_id"`
	TargetID       *string `json:"target_id,omitempty"`
	Label          string  `json:"label"`
	Description    string  `json:"description,omitempty"`
	SortOrder      int     `json:"sort_order,omitempty"`
	ScoreDelta     int     `json:"score_delta,omitempty"`
	Color          string  `json:"color,omitempty"`
	RegisteredOnly bool    `json:"registered_only,omitempty"`
	IsDefault      bool    `json:"is_default,omitempty"`
	RolesJSON      *string `json:"required_roles_json,omitempty"`
	PrecondJSON    *string `json:"preconditions_json,omitempty"`
	EffectsJSON    *string `json:"effects_json,omitempty"`
}

// ImportDialogue materializes a bundle as a new draft dialogue. Bundle ids
// are placeholders: every node and edge gets a fresh uuid and references
// are remapped through the placeholder table. All-or-nothing.
func (e Engine) ImportDialogue(ctx context.Context, bundle DialogueBundle, ownerID string) (domain.Dialogue, error) {
	if bundle.Name == "" {
		return domain.Dialogue{}, validationf("bundle name is required")
	}
	if ownerID == "" {
		return domain.Dialogue{}, validationf("owner is required")
	}
	idMap := make(map[string]string, len(bundle.Nodes))
	for _, n := range bundle.Nodes {
		if n.ID == "" {
			return domain.Dialogue{}, validationf("bundle node without id")
		}
		if _, dup := idMap[n.ID]; dup {
			return domain.Dialogue{}, validationf("duplicate bundle node id %s", n.ID)
		}
		if !graph.ValidKind(n.Kind) {
			return domain.Dialogue{}, validationf("bundle node %s has unknown kind %s", n.ID, n.Kind)
		}
		idMap[n.ID] = newID()
	}
	for _, re := range bundle.Responses {
		if _, ok := idMap[re.SourceID]; !ok {
			return domain.Dialogue{}, validationf("bundle response %q references unknown source %s", re.Label, re.SourceID)
		}
		if re.TargetID != nil {
			if _, ok := idMap[*re.TargetID]; !ok {
				return domain.Dialogue{}, validationf("bundle response %q references unknown target %s", re.Label, *re.TargetID)
			}
		}
	}

	now := e.nowRFC3339()
	visibility := bundle.Visibility
	if visibility == "" {
		visibility = "private"
	}
	d := domain.Dialogue{
		ID:          newID(),
		Name:        bundle.Name,
		Description: bundle.Description,
		Visibility:  visibility,
		State:       domain.DialogueDraft,
		OwnerID:     ownerID,
		ConfigJSON:  bundle.ConfigJSON,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dialogue{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO dialogues(id,name,description,visibility,state,owner_id,config_json,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Name, nullable(d.Description), d.Visibility, d.State, d.OwnerID, nullableStringPtr(d.ConfigJSON), d.Version, d.CreatedAt, d.UpdatedAt); err != nil {
		return domain.Dialogue{}, err
	}
	for _, bn := range bundle.Nodes {
		n := domain.Node{
			ID:             idMap[bn.ID],
			DialogueID:     d.ID,
			Kind:           bn.Kind,
			Title:          bn.Title,
			Body:           bn.Body,
			MenuLabel:      bn.MenuLabel,
			SpeakingRoleID: bn.SpeakingRoleID,
			PosX:           bn.PosX,
			PosY:           bn.PosY,
			IsInitial:      bn.IsInitial,
			IsFinal:        bn.IsFinal || bn.Kind == domain.KindFinal,
			PrecondJSON:    bn.PrecondJSON,
			EffectsJSON:    bn.EffectsJSON,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertNode(ctx, tx, n); err != nil {
			return domain.Dialogue{}, err
		}
	}
	for _, br := range bundle.Responses {
		var target *string
		if br.TargetID != nil {
			mapped := idMap[*br.TargetID]
			target = &mapped
		}
		re := domain.Response{
			ID:             newID(),
			DialogueID:     d.ID,
			SourceID:       idMap[br.SourceID],
			TargetID:       target,
			Label:          br.Label,
			Description:    br.Description,
			SortOrder:      br.SortOrder,
			ScoreDelta:     br.ScoreDelta,
			Color:          br.Color,
			RegisteredOnly: br.RegisteredOnly,
			IsDefault:      br.IsDefault,
			RolesJSON:      br.RolesJSON,
			PrecondJSON:    br.PrecondJSON,
			EffectsJSON:    br.EffectsJSON,
		}
		if err := e.Repo.InsertResponse(ctx, tx, re); err != nil {
			return domain.Dialogue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Dialogue{}, err
	}
	return d, nil
}

// ExportDialogue renders a dialogue as a portable bundle. Edges whose
// target row vanished are exported with the target cleared rather than
// dangling at an id the importer cannot resolve.
func (e Engine) ExportDialogue(ctx context.Context, id string) (DialogueBundle, error) {
	d, err := e.Repo.GetDialogue(ctx, id)
	if err != nil {
		return DialogueBundle{}, err
	}
	nodes, err := e.Repo.ListNodes(ctx, id)
	if err != nil {
		return DialogueBundle{}, err
	}
	edges, err := e.Repo.ListResponses(ctx, id)
	if err != nil {
		return DialogueBundle{}, err
	}
	known := make(map[string]bool, len(nodes))
	bundle := DialogueBundle{
		Name:        d.Name,
		Description: d.Description,
		Visibility:  d.Visibility,
		ConfigJSON:  d.ConfigJSON,
		Nodes:       make([]BundleNode, 0, len(nodes)),
		Responses:   make([]BundleResponse, 0, len(edges)),
	}
	for _, n := range nodes {
		known[n.ID] = true
		bundle.Nodes = append(bundle.Nodes, BundleNode{
			ID:             n.ID,
			Kind:           n.Kind,
			Title:          n.Title,
			Body:           n.Body,
			MenuLabel:      n.MenuLabel,
			SpeakingRoleID: n.SpeakingRoleID,
			PosX:           n.PosX,
			PosY:           n.PosY,
			IsInitial:      n.IsInitial,
			IsFinal:        n.IsFinal,
			PrecondJSON:    n.PrecondJSON,
			EffectsJSON:    n.EffectsJSON,
		})
	}
	for _, re := range edges {
		target := re.TargetID
		if target != nil && !known[*target] {
			target = nil
		}
		bundle.Responses = append(bundle.Responses, BundleResponse{
			ID:             re.ID,
			SourceID:       re.SourceID,
			TargetID:       target,
			Label:          re.Label,
			Description:    re.Description,
			SortOrder:      re.SortOrder,
			ScoreDelta:     re.ScoreDelta,
			Color:          re.Color,
			RegisteredOnly: re.RegisteredOnly,
			IsDefault:      re.IsDefault,
			RolesJSON:      re.RolesJSON,
			PrecondJSON:    re.PrecondJSON,
			EffectsJSON:    re.EffectsJSON,
		})
	}
	return bundle, nil
}

// DuplicateDialogue deep-copies a dialogue into a fresh draft owned by
// the caller. Round-trips through the bundle form so both paths stay in
// agreement about what a complete graph copy is.
func (e Engine) DuplicateDialogue(ctx context.Context, id, name, ownerID string) (domain.Dialogue, error) {
	bundle, err := e.ExportDialogue(ctx, id)
	if err != nil {
		return domain.Dialogue{}, err
	}
	if name != "" {
		bundle.Name = name
	} else {
		bundle.Name = bundle.Name + " (copy)"
	}
	return e.ImportDialogue(ctx, bundle, ownerID)
}

func validateJSON(in string) error {
	if in == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(in), &v); err != nil {
		return errors.New("invalid json")
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
