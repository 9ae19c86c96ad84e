package repo

import (
	"context"
	"database/sql"

	"briefline/internal/domain"
)

const feedbackColumns = `id,brief_id,stage_id,content,structured_json,rating,requires_revision,is_permanent,processed_for_rag,created_at`

func (r Repo) InsertFeedback(ctx context.Context, tx *sql.Tx, f domain.Feedback) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO feedback(id,brief_id,stage_id,content,structured_json,rating,requires_revision,is_permanent,processed_for_rag,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.BriefID, f.StageID, f.Content, nullableStringPtr(f.StructuredJSON), nullableIntPtr(f.Rating),
		f.RequiresRevision, f.IsPermanent, f.ProcessedForRAG, f.CreatedAt)
	return err
}

func scanFeedback(scan func(dest ...any) error) (domain.Feedback, error) {
	var f domain.Feedback
	var structured sql.NullString
	var rating sql.NullInt64
	err := scan(&f.ID, &f.BriefID, &f.StageID, &f.Content, &structured, &rating,
		&f.RequiresRevision, &f.IsPermanent, &f.ProcessedForRAG, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if structured.Valid {
		f.StructuredJSON = &structured.String
	}
	if rating.Valid {
		v := int(rating.Int64)
		f.Rating = &v
	}
	return f, nil
}

func (r Repo) GetFeedback(ctx context.Context, id string) (domain.Feedback, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE id=?`, id)
	return scanFeedback(row.Scan)
}

func (r Repo) ListFeedback(ctx context.Context, briefID, stageID string) ([]domain.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE brief_id=?`
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
	var res []domain.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// ListUnindexedFeedback returns feedback not yet embedded for retrieval.
func (r Repo) ListUnindexedFeedback(ctx context.Context, limit int) ([]domain.Feedback, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE processed_for_rag=0 ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// MarkFeedbackProcessed flips processed_for_rag after indexing.
func (r Repo) MarkFeedbackProcessed(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE feedback SET processed_for_rag=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertFeedbackEmbedding(ctx context.Context, tx *sql.Tx, e domain.FeedbackEmbedding) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO feedback_embeddings(feedback_id,vector_json,dimensions,created_at) VALUES (?,?,?,?)
ON CONFLICT(feedback_id) DO UPDATE SET vector_json=excluded.vector_json, dimensions=excluded.dimensions, created_at=excluded.created_at`,
		e.FeedbackID, e.VectorJSON, e.Dimensions, e.CreatedAt)
	return err
}

func (r Repo) GetFeedbackEmbedding(ctx context.Context, feedbackID string) (domain.FeedbackEmbedding, error) {
	var e domain.FeedbackEmbedding
	err := r.DB.QueryRowContext(ctx, `SELECT feedback_id,vector_json,dimensions,created_at FROM feedback_embeddings WHERE feedback_id=?`, feedbackID).
		Scan(&e.FeedbackID, &e.VectorJSON, &e.Dimensions, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}
