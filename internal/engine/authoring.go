package engine

import (
	"context"
	"database/sql"

	"mootcourt/internal/domain"
	"mootcourt/internal/graph"
	"mootcourt/internal/repo"
)

// NodeCreateOptions are parameters for adding a node to a dialogue graph.
type NodeCreateOptions struct {
	ID             string
	DialogueID     string
	Kind           domain.NodeKind
	Title          string
	Body           string
	MenuLabel      string
	SpeakingRoleID string
	PosX           float64
	PosY           float64
	IsInitial      bool
	IsFinal        bool
	PrecondJSON    string
	EffectsJSON    string
}

func (e Engine) AddNode(ctx context.Context, opts NodeCreateOptions) (domain.Node, error) {
	d, err := e.Repo.GetDialogue(ctx, opts.DialogueID)
	if err != nil {
		return domain.Node{}, err
	}
	if err := ensureEditable(d); err != nil {
		return domain.Node{}, err
	}
	if opts.Title == "" {
		return domain.Node{}, validationf("title is required")
	}
	if opts.Kind == "" {
		opts.Kind = domain.KindDevelopment
	}
	if !graph.ValidKind(opts.Kind) {
		return domain.Node{}, validationf("unknown node kind %s", opts.Kind)
	}
	if opts.PrecondJSON != "" {
		if err := validateJSON(opts.PrecondJSON); err != nil {
			return domain.Node{}, validationf("preconditions_json: %v", err)
		}
	}
	if opts.EffectsJSON != "" {
		if err := validateJSON(opts.EffectsJSON); err != nil {
			return domain.Node{}, validationf("effects_json: %v", err)
		}
	}
	if opts.SpeakingRoleID != "" && e.Config != nil && !e.Config.KnownRole(opts.SpeakingRoleID) {
		return domain.Node{}, validationf("unknown role %s", opts.SpeakingRoleID)
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	n := domain.Node{
		ID:             id,
		DialogueID:     opts.DialogueID,
		Kind:           opts.Kind,
		Title:          opts.Title,
		Body:           opts.Body,
		MenuLabel:      opts.MenuLabel,
		SpeakingRoleID: optionalString(opts.SpeakingRoleID),
		PosX:           opts.PosX,
		PosY:           opts.PosY,
		IsInitial:      opts.IsInitial || opts.Kind == domain.KindStart,
		IsFinal:        opts.IsFinal || opts.Kind == domain.KindFinal,
		PrecondJSON:    optionalString(opts.PrecondJSON),
		EffectsJSON:    optionalString(opts.EffectsJSON),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Node{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNode(ctx, tx, n); err != nil {
		return domain.Node{}, err
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, now); err != nil {
		return domain.Node{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Node{}, err
	}
	return n, nil
}

// NodeUpdateOptions patch a node. Nil fields are untouched.
type NodeUpdateOptions struct {
	ID             string
	Kind           *domain.NodeKind
	Title          *string
	Body           *string
	MenuLabel      *string
	SpeakingRoleID *string
	ClearRole      bool
	PosX           *float64
	PosY           *float64
	IsInitial      *bool
	IsFinal        *bool
	PrecondJSON    *string
	EffectsJSON    *string
	Active         *bool
}

func (e Engine) UpdateNode(ctx context.Context, opts NodeUpdateOptions) (domain.Node, error) {
	n, err := e.Repo.GetNode(ctx, opts.ID)
	if err != nil {
		return domain.Node{}, err
	}
	d, err := e.Repo.GetDialogue(ctx, n.DialogueID)
	if err != nil {
		return domain.Node{}, err
	}
	if err := ensureEditable(d); err != nil {
		return domain.Node{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Node{}, err
	}
	defer tx.Rollback()

	if opts.Kind != nil && *opts.Kind != n.Kind {
		if !graph.ValidKind(*opts.Kind) {
			return domain.Node{}, validationf("unknown node kind %s", *opts.Kind)
		}
		rule := graph.RuleFor(*opts.Kind)
		out, err := e.Repo.ListResponsesBySource(ctx, tx, n.ID)
		if err != nil {
			return domain.Node{}, err
		}
		if !rule.OutboundAllowed && len(out) > 0 {
			return domain.Node{}, validationf("%s nodes cannot keep %d outgoing responses", *opts.Kind, len(out))
		}
		if !rule.InboundAllowed {
			in, err := e.Repo.ListResponsesByTarget(ctx, tx, n.ID)
			if err != nil {
				return domain.Node{}, err
			}
			if len(in) > 0 {
				return domain.Node{}, validationf("%s nodes cannot keep %d incoming responses", *opts.Kind, len(in))
			}
		}
		n.Kind = *opts.Kind
		if n.Kind == domain.KindStart {
			n.IsInitial = true
		}
		if n.Kind == domain.KindFinal {
			n.IsFinal = true
		}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Node{}, validationf("title is required")
		}
		n.Title = *opts.Title
	}
	if opts.Body != nil {
		n.Body = *opts.Body
	}
	if opts.MenuLabel != nil {
		n.MenuLabel = *opts.MenuLabel
	}
	if opts.ClearRole {
		n.SpeakingRoleID = nil
	} else if opts.SpeakingRoleID != nil {
		if e.Config != nil && !e.Config.KnownRole(*opts.SpeakingRoleID) {
			return domain.Node{}, validationf("unknown role %s", *opts.SpeakingRoleID)
		}
		n.SpeakingRoleID = opts.SpeakingRoleID
	}
	if opts.PosX != nil {
		n.PosX = *opts.PosX
	}
	if opts.PosY != nil {
		n.PosY = *opts.PosY
	}
	if opts.IsInitial != nil {
		n.IsInitial = *opts.IsInitial
	}
	if opts.IsFinal != nil {
		n.IsFinal = *opts.IsFinal
	}
	if opts.PrecondJSON != nil {
		if err := validateJSON(*opts.PrecondJSON); err != nil {
			return domain.Node{}, validationf("preconditions_json: %v", err)
		}
		n.PrecondJSON = opts.PrecondJSON
	}
	if opts.EffectsJSON != nil {
		if err := validateJSON(*opts.EffectsJSON); err != nil {
			return domain.Node{}, validationf("effects_json: %v", err)
		}
		n.EffectsJSON = opts.EffectsJSON
	}
	if opts.Active != nil {
		n.Active = *opts.Active
	}
	n.UpdatedAt = e.nowRFC3339()

	if err := e.Repo.UpdateNode(ctx, tx, n); err != nil {
		return domain.Node{}, err
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, n.UpdatedAt); err != nil {
		return domain.Node{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Node{}, err
	}
	return n, nil
}

// DeleteNode removes a node and, through cascade, every edge touching it.
// Response-kind targets stranded by the cascade revert to development.
func (e Engine) DeleteNode(ctx context.Context, id string) error {
	n, err := e.Repo.GetNode(ctx, id)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetDialogue(ctx, n.DialogueID)
	if err != nil {
		return err
	}
	if err := ensureEditable(d); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	out, err := e.Repo.ListResponsesBySource(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteNode(ctx, tx, id); err != nil {
		return err
	}
	now := e.nowRFC3339()
	if n.Kind == domain.KindDecision {
		for _, re := range out {
			if re.TargetID == nil || *re.TargetID == id {
				continue
			}
			if err := e.maybeRevertResponseNode(ctx, tx, *re.TargetID, now); err != nil {
				return err
			}
		}
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// ResponseCreateOptions are parameters for drawing an edge.
type ResponseCreateOptions struct {
	ID             string
	DialogueID     string
	SourceID       string
	TargetID       string
	Label          string
	Description    string
	SortOrder      int
	ScoreDelta     int
	Color          string
	RegisteredOnly bool
	IsDefault      bool
	RolesJSON      string
	PrecondJSON    string
	EffectsJSON    string
}

func (e Engine) AddResponse(ctx context.Context, opts ResponseCreateOptions) (domain.Response, error) {
	d, err := e.Repo.GetDialogue(ctx, opts.DialogueID)
	if err != nil {
		return domain.Response{}, err
	}
	if err := ensureEditable(d); err != nil {
		return domain.Response{}, err
	}
	if opts.Label == "" {
		return domain.Response{}, validationf("label is required")
	}
	for _, raw := range []string{opts.RolesJSON, opts.PrecondJSON, opts.EffectsJSON} {
		if raw != "" {
			if err := validateJSON(raw); err != nil {
				return domain.Response{}, validationf("invalid json payload")
			}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Response{}, err
	}
	defer tx.Rollback()

	src, err := e.Repo.GetNodeTx(ctx, tx, opts.SourceID)
	if err != nil {
		return domain.Response{}, err
	}
	if src.DialogueID != opts.DialogueID {
		return domain.Response{}, validationf("source node %s is not in dialogue %s", opts.SourceID, opts.DialogueID)
	}
	rule := graph.RuleFor(src.Kind)
	if !rule.OutboundAllowed {
		return domain.Response{}, validationf("%s nodes cannot have outgoing responses", src.Kind)
	}
	if rule.MaxOutgoing != graph.Unlimited {
		existing, err := e.Repo.ListResponsesBySource(ctx, tx, src.ID)
		if err != nil {
			return domain.Response{}, err
		}
		if len(existing) >= rule.MaxOutgoing {
			return domain.Response{}, validationf("%s node %q already has its single outgoing response", src.Kind, src.Title)
		}
	}

	var target *string
	if opts.TargetID != "" {
		dst, err := e.Repo.GetNodeTx(ctx, tx, opts.TargetID)
		if err != nil {
			return domain.Response{}, err
		}
		if dst.DialogueID != opts.DialogueID {
			return domain.Response{}, validationf("target node %s is not in dialogue %s", opts.TargetID, opts.DialogueID)
		}
		if !graph.RuleFor(dst.Kind).InboundAllowed {
			return domain.Response{}, validationf("%s nodes cannot be response targets", dst.Kind)
		}
		target = &dst.ID
	}

	id := opts.ID
	if id == "" {
		id = newID()
	}
	re := domain.Response{
		ID:             id,
		DialogueID:     opts.DialogueID,
		SourceID:       src.ID,
		TargetID:       target,
		Label:          opts.Label,
		Description:    opts.Description,
		SortOrder:      opts.SortOrder,
		ScoreDelta:     opts.ScoreDelta,
		Color:          opts.Color,
		RegisteredOnly: opts.RegisteredOnly,
		IsDefault:      opts.IsDefault,
		RolesJSON:      optionalString(opts.RolesJSON),
		PrecondJSON:    optionalString(opts.PrecondJSON),
		EffectsJSON:    optionalString(opts.EffectsJSON),
	}
	if err := e.Repo.InsertResponse(ctx, tx, re); err != nil {
		return domain.Response{}, err
	}
	now := e.nowRFC3339()
	if src.Kind == domain.KindDecision && target != nil {
		if err := e.coerceDecisionTarget(ctx, tx, src, *target, now); err != nil {
			return domain.Response{}, err
		}
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, now); err != nil {
		return domain.Response{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Response{}, err
	}
	return re, nil
}

// ResponseUpdateOptions patch an edge. Retargeting re-runs the
// coerce/revert rules on both the old and new target.
type ResponseUpdateOptions struct {
	ID          string
	TargetID    *string
	ClearTarget bool
	Patch       repo.ResponsePatch
}

func (e Engine) UpdateResponse(ctx context.Context, opts ResponseUpdateOptions) (domain.Response, error) {
	re, err := e.Repo.GetResponse(ctx, opts.ID)
	if err != nil {
		return domain.Response{}, err
	}
	d, err := e.Repo.GetDialogue(ctx, re.DialogueID)
	if err != nil {
		return domain.Response{}, err
	}
	if err := ensureEditable(d); err != nil {
		return domain.Response{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Response{}, err
	}
	defer tx.Rollback()

	src, err := e.Repo.GetNodeTx(ctx, tx, re.SourceID)
	if err != nil {
		return domain.Response{}, err
	}
	now := e.nowRFC3339()
	patch := opts.Patch
	oldTarget := re.TargetID

	if opts.ClearTarget {
		patch.ClearTarget = true
	} else if opts.TargetID != nil {
		dst, err := e.Repo.GetNodeTx(ctx, tx, *opts.TargetID)
		if err != nil {
			return domain.Response{}, err
		}
		if dst.DialogueID != re.DialogueID {
			return domain.Response{}, validationf("target node %s is not in dialogue %s", dst.ID, re.DialogueID)
		}
		if !graph.RuleFor(dst.Kind).InboundAllowed {
			return domain.Response{}, validationf("%s nodes cannot be response targets", dst.Kind)
		}
		patch.TargetID = opts.TargetID
	}

	if err := e.Repo.UpdateResponse(ctx, tx, re.ID, patch); err != nil {
		return domain.Response{}, err
	}

	retargeted := opts.ClearTarget || opts.TargetID != nil
	if retargeted && src.Kind == domain.KindDecision {
		if opts.TargetID != nil {
			if err := e.coerceDecisionTarget(ctx, tx, src, *opts.TargetID, now); err != nil {
				return domain.Response{}, err
			}
		}
		if oldTarget != nil && (opts.ClearTarget || opts.TargetID == nil || *opts.TargetID != *oldTarget) {
			if err := e.maybeRevertResponseNode(ctx, tx, *oldTarget, now); err != nil {
				return domain.Response{}, err
			}
		}
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, now); err != nil {
		return domain.Response{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Response{}, err
	}
	return e.Repo.GetResponse(ctx, re.ID)
}

func (e Engine) DeleteResponse(ctx context.Context, id string) error {
	re, err := e.Repo.GetResponse(ctx, id)
	if err != nil {
		return err
	}
	d, err := e.Repo.GetDialogue(ctx, re.DialogueID)
	if err != nil {
		return err
	}
	if err := ensureEditable(d); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	src, err := e.Repo.GetNodeTx(ctx, tx, re.SourceID)
	if err != nil && err != repo.ErrNotFound {
		return err
	}
	if err := e.Repo.DeleteResponse(ctx, tx, id); err != nil {
		return err
	}
	now := e.nowRFC3339()
	if err == nil && src.Kind == domain.KindDecision && re.TargetID != nil {
		if err := e.maybeRevertResponseNode(ctx, tx, *re.TargetID, now); err != nil {
			return err
		}
	}
	if err := e.Repo.TouchDialogue(ctx, tx, d.ID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// coerceDecisionTarget turns a plain node wired from a decision into a
// response-kind node speaking with the decision's role. Start, final and
// decision targets keep their kind.
func (e Engine) coerceDecisionTarget(ctx context.Context, tx *sql.Tx, decision domain.Node, targetID, now string) error {
	dst, err := e.Repo.GetNodeTx(ctx, tx, targetID)
	if err != nil {
		return err
	}
	if dst.Kind != domain.KindDevelopment && dst.Kind != domain.KindGroup {
		return nil
	}
	return e.Repo.SetNodeKind(ctx, tx, dst.ID, domain.KindResponse, decision.SpeakingRoleID, now)
}

// maybeRevertResponseNode undoes the coercion once the last inbound edge
// from a decision source is gone.
func (e Engine) maybeRevertResponseNode(ctx context.Context, tx *sql.Tx, nodeID, now string) error {
	n, err := e.Repo.GetNodeTx(ctx, tx, nodeID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil
		}
		return err
	}
	if n.Kind != domain.KindResponse {
		return nil
	}
	inbound, err := e.Repo.ListResponsesByTarget(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	for _, re := range inbound {
		src, err := e.Repo.GetNodeTx(ctx, tx, re.SourceID)
		if err != nil {
			if err == repo.ErrNotFound {
				continue
			}
			return err
		}
		if src.Kind == domain.KindDecision {
			return nil
		}
	}
	return e.Repo.SetNodeKind(ctx, tx, nodeID, domain.KindDevelopment, nil, now)
}
