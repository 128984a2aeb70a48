package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mootcourt/internal/domain"
)

const nodeCols = `id,dialogue_id,kind,title,COALESCE(body,'') AS body,COALESCE(menu_label,'') AS menu_label,speaking_role_id,pos_x,pos_y,is_initial,is_final,preconditions_json,effects_json,active,created_at,updated_at`

func scanNodeRow(row *sql.Row) (domain.Node, error) {
	var n domain.Node
	err := row.Scan(&n.ID, &n.DialogueID, &n.Kind, &n.Title, &n.Body, &n.MenuLabel, &n.SpeakingRoleID, &n.PosX, &n.PosY, &n.IsInitial, &n.IsFinal, &n.PrecondJSON, &n.EffectsJSON, &n.Active, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func scanNodes(rows *sql.Rows) ([]domain.Node, error) {
	defer rows.Close()
	var res []domain.Node
	for rows.Next() {
		var n domain.Node
		if err := rows.Scan(&n.ID, &n.DialogueID, &n.Kind, &n.Title, &n.Body, &n.MenuLabel, &n.SpeakingRoleID, &n.PosX, &n.PosY, &n.IsInitial, &n.IsFinal, &n.PrecondJSON, &n.EffectsJSON, &n.Active, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) InsertNode(ctx context.Context, tx *sql.Tx, n domain.Node) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO nodes(id,dialogue_id,kind,title,body,menu_label,speaking_role_id,pos_x,pos_y,is_initial,is_final,preconditions_json,effects_json,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.DialogueID, n.Kind, n.Title, nullable(n.Body), nullable(n.MenuLabel), nullableStringPtr(n.SpeakingRoleID),
		n.PosX, n.PosY, n.IsInitial, n.IsFinal, nullableStringPtr(n.PrecondJSON), nullableStringPtr(n.EffectsJSON), n.Active, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r Repo) GetNode(ctx context.Context, id string) (domain.Node, error) {
	return scanNodeRow(r.DB.QueryRowContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE id=?`, id))
}

func (r Repo) GetNodeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Node, error) {
	return scanNodeRow(tx.QueryRowContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE id=?`, id))
}

func (r Repo) ListNodes(ctx context.Context, dialogueID string) ([]domain.Node, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE dialogue_id=? ORDER BY id`, dialogueID)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

func (r Repo) ListNodesTx(ctx context.Context, tx *sql.Tx, dialogueID string) ([]domain.Node, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE dialogue_id=? ORDER BY id`, dialogueID)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// UpdateNode rewrites the mutable columns of a node in full.
func (r Repo) UpdateNode(ctx context.Context, tx *sql.Tx, n domain.Node) error {
	res, err := tx.ExecContext(ctx, `UPDATE nodes SET kind=?,title=?,body=?,menu_label=?,speaking_role_id=?,pos_x=?,pos_y=?,is_initial=?,is_final=?,preconditions_json=?,effects_json=?,active=?,updated_at=? WHERE id=?`,
		n.Kind, n.Title, nullable(n.Body), nullable(n.MenuLabel), nullableStringPtr(n.SpeakingRoleID),
		n.PosX, n.PosY, n.IsInitial, n.IsFinal, nullableStringPtr(n.PrecondJSON), nullableStringPtr(n.EffectsJSON), n.Active, n.UpdatedAt, n.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNodeKind retargets just the kind and speaking role, used by the
// edge-authoring coercion rules.
func (r Repo) SetNodeKind(ctx context.Context, tx *sql.Tx, id string, kind domain.NodeKind, speakingRoleID *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE nodes SET kind=?,speaking_role_id=?,updated_at=? WHERE id=?`,
		kind, nullableStringPtr(speakingRoleID), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteNode(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const responseCols = `id,dialogue_id,source_id,target_id,label,COALESCE(description,'') AS description,sort_order,score_delta,COALESCE(color,'') AS color,registered_only,is_default,required_roles_json,preconditions_json,effects_json`

func scanResponseRow(row *sql.Row) (domain.Response, error) {
	var e domain.Response
	err := row.Scan(&e.ID, &e.DialogueID, &e.SourceID, &e.TargetID, &e.Label, &e.Description, &e.SortOrder, &e.ScoreDelta, &e.Color, &e.RegisteredOnly, &e.IsDefault, &e.RolesJSON, &e.PrecondJSON, &e.EffectsJSON)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func scanResponses(rows *sql.Rows) ([]domain.Response, error) {
	defer rows.Close()
	var res []domain.Response
	for rows.Next() {
		var e domain.Response
		if err := rows.Scan(&e.ID, &e.DialogueID, &e.SourceID, &e.TargetID, &e.Label, &e.Description, &e.SortOrder, &e.ScoreDelta, &e.Color, &e.RegisteredOnly, &e.IsDefault, &e.RolesJSON, &e.PrecondJSON, &e.EffectsJSON); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) InsertResponse(ctx context.Context, tx *sql.Tx, e domain.Response) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO responses(id,dialogue_id,source_id,target_id,label,description,sort_order,score_delta,color,registered_only,is_default,required_roles_json,preconditions_json,effects_json) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.DialogueID, e.SourceID, nullableStringPtr(e.TargetID), e.Label, nullable(e.Description),
		e.SortOrder, e.ScoreDelta, nullable(e.Color), e.RegisteredOnly, e.IsDefault,
		nullableStringPtr(e.RolesJSON), nullableStringPtr(e.PrecondJSON), nullableStringPtr(e.EffectsJSON))
	return err
}

func (r Repo) GetResponse(ctx context.Context, id string) (domain.Response, error) {
	return scanResponseRow(r.DB.QueryRowContext(ctx, `SELECT `+responseCols+` FROM responses WHERE id=?`, id))
}

func (r Repo) GetResponseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Response, error) {
	return scanResponseRow(tx.QueryRowContext(ctx, `SELECT `+responseCols+` FROM responses WHERE id=?`, id))
}

func (r Repo) ListResponses(ctx context.Context, dialogueID string) ([]domain.Response, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+responseCols+` FROM responses WHERE dialogue_id=? ORDER BY sort_order,id`, dialogueID)
	if err != nil {
		return nil, err
	}
	return scanResponses(rows)
}

func (r Repo) ListResponsesTx(ctx context.Context, tx *sql.Tx, dialogueID string) ([]domain.Response, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+responseCols+` FROM responses WHERE dialogue_id=? ORDER BY sort_order,id`, dialogueID)
	if err != nil {
		return nil, err
	}
	return scanResponses(rows)
}

func (r Repo) ListResponsesBySource(ctx context.Context, tx *sql.Tx, sourceID string) ([]domain.Response, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+responseCols+` FROM responses WHERE source_id=? ORDER BY sort_order,id`, sourceID)
	if err != nil {
		return nil, err
	}
	return scanResponses(rows)
}

func (r Repo) ListResponsesByTarget(ctx context.Context, tx *sql.Tx, targetID string) ([]domain.Response, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+responseCols+` FROM responses WHERE target_id=? ORDER BY sort_order,id`, targetID)
	if err != nil {
		return nil, err
	}
	return scanResponses(rows)
}

type ResponsePatch struct {
	TargetID       *string
	ClearTarget    bool
	Label          *string
	Description    *string
	SortOrder      *int
	ScoreDelta     *int
	Color          *string
	RegisteredOnly *bool
	IsDefault      *bool
	RolesJSON      *string
	PrecondJSON    *string
	EffectsJSON    *string
}

func (r Repo) UpdateResponse(ctx context.Context, tx *sql.Tx, id string, patch ResponsePatch) error {
	var (
		fields []string
		args   []any
	)
	if patch.ClearTarget {
		fields = append(fields, "target_id=NULL")
	} else if patch.TargetID != nil {
		fields = append(fields, "target_id=?")
		args = append(args, *patch.TargetID)
	}
	if patch.Label != nil {
		fields = append(fields, "label=?")
		args = append(args, *patch.Label)
	}
	if patch.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*patch.Description))
	}
	if patch.SortOrder != nil {
		fields = append(fields, "sort_order=?")
		args = append(args, *patch.SortOrder)
	}
	if patch.ScoreDelta != nil {
		fields = append(fields, "score_delta=?")
		args = append(args, *patch.ScoreDelta)
	}
	if patch.Color != nil {
		fields = append(fields, "color=?")
		args = append(args, nullable(*patch.Color))
	}
	if patch.RegisteredOnly != nil {
		fields = append(fields, "registered_only=?")
		args = append(args, *patch.RegisteredOnly)
	}
	if patch.IsDefault != nil {
		fields = append(fields, "is_default=?")
		args = append(args, *patch.IsDefault)
	}
	if patch.RolesJSON != nil {
		fields = append(fields, "required_roles_json=?")
		args = append(args, *patch.RolesJSON)
	}
	if patch.PrecondJSON != nil {
		fields = append(fields, "preconditions_json=?")
		args = append(args, *patch.PrecondJSON)
	}
	if patch.EffectsJSON != nil {
		fields = append(fields, "effects_json=?")
		args = append(args, *patch.EffectsJSON)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE responses SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteResponse(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
