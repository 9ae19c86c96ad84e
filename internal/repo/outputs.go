package repo

import (
	"context"
	"database/sql"

	"briefline/internal/domain"
)

const outputColumns = `id,brief_id,stage_id,content_json,feedback_id,is_reprocessed,original_output_id,created_at`

func (r Repo) InsertOutput(ctx context.Context, tx *sql.Tx, o domain.Output) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outputs(id,brief_id,stage_id,content_json,feedback_id,is_reprocessed,original_output_id,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		o.ID, o.BriefID, o.StageID, o.ContentJSON, nullableStringPtr(o.FeedbackID), o.IsReprocessed,
		nullableStringPtr(o.OriginalOutputID), o.CreatedAt)
	return err
}

func scanOutput(scan func(dest ...any) error) (domain.Output, error) {
	var o domain.Output
	var feedbackID, originalID sql.NullString
	err := scan(&o.ID, &o.BriefID, &o.StageID, &o.ContentJSON, &feedbackID, &o.IsReprocessed, &originalID, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if feedbackID.Valid {
		o.FeedbackID = &feedbackID.String
	}
	if originalID.Valid {
		o.OriginalOutputID = &originalID.String
	}
	return o, nil
}

func (r Repo) GetOutput(ctx context.Context, id string) (domain.Output, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+outputColumns+` FROM outputs WHERE id=?`, id)
	return scanOutput(row.Scan)
}

// LatestOutput returns the newest output for a (brief, stage) pair.
func (r Repo) LatestOutput(ctx context.Context, briefID, stageID string) (domain.Output, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+outputColumns+` FROM outputs WHERE brief_id=? AND stage_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		briefID, stageID)
	return scanOutput(row.Scan)
}

type OutputFilters struct {
	BriefID string
	StageID string
	Limit   int
}

func (r Repo) ListOutputs(ctx context.Context, f OutputFilters) ([]domain.Output, error) {
	query := `SELECT ` + outputColumns + ` FROM outputs WHERE brief_id=?`
	args := []any{f.BriefID}
	if f.StageID != "" {
		query += ` AND stage_id=?`
		args = append(args, f.StageID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Output
	for rows.Next() {
		o, err := scanOutput(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- conversations ---

const conversationColumns = `id,brief_id,stage_id,agent_id,flow_step_id,content,output_type,feedback_id,original_conversation_id,created_at`

func (r Repo) InsertConversation(ctx context.Context, c domain.Conversation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO conversations(id,brief_id,stage_id,agent_id,flow_step_id,content,output_type,feedback_id,original_conversation_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.BriefID, c.StageID, c.AgentID, c.FlowStepID, c.Content, nullable(c.OutputType),
		nullableStringPtr(c.FeedbackID), nullableStringPtr(c.OriginalConversationID), c.CreatedAt)
	return err
}

func (r Repo) ListConversations(ctx context.Context, briefID, stageID string) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE brief_id=?`
	args := []any{briefID}
	if stageID != "" {
		query += ` AND stage_id=?`
		args = append(args, stageID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var outputType, feedbackID, originalID sql.NullString
		if err := rows.Scan(&c.ID, &c.BriefID, &c.StageID, &c.AgentID, &c.FlowStepID, &c.Content, &outputType, &feedbackID, &originalID, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.OutputType = outputType.String
		if feedbackID.Valid {
			c.FeedbackID = &feedbackID.String
		}
		if originalID.Valid {
			c.OriginalConversationID = &originalID.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
