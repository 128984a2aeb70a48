package repo

import (
	"context"
	"database/sql"

	"mootcourt/internal/domain"
)

const executionCols = `id,session_id,dialogue_id,state,current_node_id,history_json,variables_json,started_at,updated_at,finished_at`

func scanExecutionRow(row *sql.Row) (domain.SessionExecution, error) {
	var ex domain.SessionExecution
	err := row.Scan(&ex.ID, &ex.SessionID, &ex.DialogueID, &ex.State, &ex.CurrentNodeID, &ex.HistoryJSON, &ex.VariablesJSON, &ex.StartedAt, &ex.UpdatedAt, &ex.FinishedAt)
	if err == sql.ErrNoRows {
		return ex, ErrNotFound
	}
	return ex, err
}

func (r Repo) InsertExecution(ctx context.Context, tx *sql.Tx, ex domain.SessionExecution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO session_executions(id,session_id,dialogue_id,state,current_node_id,history_json,variables_json,started_at,updated_at,finished_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ex.ID, ex.SessionID, ex.DialogueID, ex.State, nullableStringPtr(ex.CurrentNodeID), ex.HistoryJSON, ex.VariablesJSON, ex.StartedAt, ex.UpdatedAt, nullableStringPtr(ex.FinishedAt))
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.SessionExecution, error) {
	return scanExecutionRow(r.DB.QueryRowContext(ctx, `SELECT `+executionCols+` FROM session_executions WHERE id=?`, id))
}

// ActiveExecutionForSession returns the session's live execution, if any.
// A session holds at most one execution outside the finished state.
func (r Repo) ActiveExecutionForSession(ctx context.Context, tx *sql.Tx, sessionID string) (domain.SessionExecution, error) {
	return scanExecutionRow(tx.QueryRowContext(ctx, `SELECT `+executionCols+` FROM session_executions WHERE session_id=? AND state != ? ORDER BY started_at DESC LIMIT 1`,
		sessionID, domain.ExecutionFinished))
}

func (r Repo) ListExecutions(ctx context.Context, sessionID string) ([]domain.SessionExecution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+executionCols+` FROM session_executions WHERE session_id=? ORDER BY started_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionExecution
	for rows.Next() {
		var ex domain.SessionExecution
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.DialogueID, &ex.State, &ex.CurrentNodeID, &ex.HistoryJSON, &ex.VariablesJSON, &ex.StartedAt, &ex.UpdatedAt, &ex.FinishedAt); err != nil {
			return nil, err
		}
		res = append(res, ex)
	}
	return res, rows.Err()
}

func (r Repo) UpdateExecutionState(ctx context.Context, tx *sql.Tx, id string, state domain.ExecutionState, updatedAt string, finishedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE session_executions SET state=?,updated_at=?,finished_at=? WHERE id=?`,
		state, updatedAt, nullableStringPtr(finishedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceExecution moves the pointer with a compare-and-swap on the node
// it was read at. A false return means another decision won the race.
// Variables are written separately so effects survive a lost race.
func (r Repo) AdvanceExecution(ctx context.Context, tx *sql.Tx, id string, fromNodeID *string, toNodeID *string, historyJSON, updatedAt string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if fromNodeID == nil {
		res, err = tx.ExecContext(ctx, `UPDATE session_executions SET current_node_id=?,history_json=?,updated_at=? WHERE id=? AND current_node_id IS NULL`,
			nullableStringPtr(toNodeID), historyJSON, updatedAt, id)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE session_executions SET current_node_id=?,history_json=?,updated_at=? WHERE id=? AND current_node_id=?`,
			nullableStringPtr(toNodeID), historyJSON, updatedAt, id, *fromNodeID)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) UpdateExecutionVariables(ctx context.Context, tx *sql.Tx, id, variablesJSON, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE session_executions SET variables_json=?,updated_at=? WHERE id=?`, variablesJSON, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const decisionCols = `id,execution_id,session_id,user_id,role_id,response_id,COALESCE(annex_text,'') AS annex_text,latency_ms,score_delta,client_meta_json,created_at`

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id,execution_id,session_id,user_id,role_id,response_id,annex_text,latency_ms,score_delta,client_meta_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ExecutionID, d.SessionID, d.UserID, d.RoleID, d.ResponseID, nullable(d.AnnexText), nullableIntPtr(d.LatencyMs), d.ScoreDelta, nullableStringPtr(d.ClientMetaJSON), d.CreatedAt)
	return err
}

func (r Repo) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	var d domain.Decision
	err := r.DB.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id=?`, id).
		Scan(&d.ID, &d.ExecutionID, &d.SessionID, &d.UserID, &d.RoleID, &d.ResponseID, &d.AnnexText, &d.LatencyMs, &d.ScoreDelta, &d.ClientMetaJSON, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDecisions(ctx context.Context, executionID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE execution_id=? ORDER BY created_at,id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		var d domain.Decision
		if err := rows.Scan(&d.ID, &d.ExecutionID, &d.SessionID, &d.UserID, &d.RoleID, &d.ResponseID, &d.AnnexText, &d.LatencyMs, &d.ScoreDelta, &d.ClientMetaJSON, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AttachDecisionMeta is one-shot: it only writes if no meta is attached yet.
func (r Repo) AttachDecisionMeta(ctx context.Context, id, metaJSON string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE decisions SET client_meta_json=? WHERE id=? AND client_meta_json IS NULL`, metaJSON, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(session_id,role_id,user_id,claimed_at) VALUES (?,?,?,?)`,
		p.SessionID, p.RoleID, p.UserID, p.ClaimedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, tx *sql.Tx, sessionID, roleID string) (domain.Participant, error) {
	var p domain.Participant
	err := tx.QueryRowContext(ctx, `SELECT session_id,role_id,user_id,claimed_at FROM participants WHERE session_id=? AND role_id=?`, sessionID, roleID).
		Scan(&p.SessionID, &p.RoleID, &p.UserID, &p.ClaimedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) DeleteParticipant(ctx context.Context, tx *sql.Tx, sessionID, roleID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE session_id=? AND role_id=?`, sessionID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,role_id,user_id,claimed_at FROM participants WHERE session_id=? ORDER BY role_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.SessionID, &p.RoleID, &p.UserID, &p.ClaimedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// RolesHeldBy lists the roles one user holds in a session.
func (r Repo) RolesHeldBy(ctx context.Context, tx *sql.Tx, sessionID, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM participants WHERE session_id=? AND user_id=? ORDER BY role_id`, sessionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}
