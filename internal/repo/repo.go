package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mootcourt/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const dialogueCols = `id,name,COALESCE(description,'') AS description,visibility,state,owner_id,config_json,version,created_at,updated_at`

func scanDialogue(row *sql.Row) (domain.Dialogue, error) {
	var d domain.Dialogue
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Visibility, &d.State, &d.OwnerID, &d.ConfigJSON, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDialogue(ctx context.Context, d domain.Dialogue) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO dialogues(id,name,description,visibility,state,owner_id,config_json,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Name, nullable(d.Description), d.Visibility, d.State, d.OwnerID, nullableStringPtr(d.ConfigJSON), d.Version, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDialogue(ctx context.Context, id string) (domain.Dialogue, error) {
	return scanDialogue(r.DB.QueryRowContext(ctx, `SELECT `+dialogueCols+` FROM dialogues WHERE id=?`, id))
}

func (r Repo) GetDialogueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Dialogue, error) {
	return scanDialogue(tx.QueryRowContext(ctx, `SELECT `+dialogueCols+` FROM dialogues WHERE id=?`, id))
}

type DialogueFilters struct {
	OwnerID    string
	State      string
	Visibility string
}

func (r Repo) ListDialogues(ctx context.Context, f DialogueFilters) ([]domain.Dialogue, error) {
	query := `SELECT ` + dialogueCols + ` FROM dialogues`
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.State != "" {
		where = append(where, "state=?")
		args = append(args, f.State)
	}
	if f.Visibility != "" {
		where = append(where, "visibility=?")
		args = append(args, f.Visibility)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dialogue
	for rows.Next() {
		var d domain.Dialogue
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Visibility, &d.State, &d.OwnerID, &d.ConfigJSON, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

type DialoguePatch struct {
	Name        *string
	Description *string
	Visibility  *string
	ConfigJSON  *string
}

func (r Repo) UpdateDialogue(ctx context.Context, id string, patch DialoguePatch, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if patch.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*patch.Description))
	}
	if patch.Visibility != nil {
		fields = append(fields, "visibility=?")
		args = append(args, *patch.Visibility)
	}
	if patch.ConfigJSON != nil {
		fields = append(fields, "config_json=?")
		args = append(args, *patch.ConfigJSON)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?", "version=version+1")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE dialogues SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDialogueState(ctx context.Context, id, state, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE dialogues SET state=?,updated_at=? WHERE id=?`, state, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDialogue(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM dialogues WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchDialogue(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE dialogues SET version=version+1,updated_at=? WHERE id=?`, updatedAt, id)
	return err
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

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
