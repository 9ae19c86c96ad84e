package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"briefline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

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
	if *v == "" {
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

// --- briefs ---

func (r Repo) InsertBrief(ctx context.Context, tx *sql.Tx, b domain.Brief) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO briefs(id,title,description,objectives,target_audience,budget,timeline,flow_id,current_stage_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Title, nullable(b.Description), nullable(b.Objectives), nullable(b.TargetAudience),
		nullable(b.Budget), nullable(b.Timeline), nullableStringPtr(b.FlowID), nullableStringPtr(b.CurrentStageID),
		b.CreatedAt, b.UpdatedAt)
	return err
}

func scanBrief(scan func(dest ...any) error) (domain.Brief, error) {
	var b domain.Brief
	var desc, obj, audience, budget, timeline, flowID, stageID sql.NullString
	err := scan(&b.ID, &b.Title, &desc, &obj, &audience, &budget, &timeline, &flowID, &stageID, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.Description = desc.String
	b.Objectives = obj.String
	b.TargetAudience = audience.String
	b.Budget = budget.String
	b.Timeline = timeline.String
	if flowID.Valid {
		b.FlowID = &flowID.String
	}
	if stageID.Valid {
		b.CurrentStageID = &stageID.String
	}
	return b, nil
}

const briefColumns = `id,title,description,objectives,target_audience,budget,timeline,flow_id,current_stage_id,created_at,updated_at`

func (r Repo) GetBrief(ctx context.Context, id string) (domain.Brief, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+briefColumns+` FROM briefs WHERE id=?`, id)
	return scanBrief(row.Scan)
}

type BriefFilters struct {
	FlowID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListBriefs(ctx context.Context, f BriefFilters) ([]domain.Brief, error) {
	var clauses []string
	var args []any
	if f.FlowID != "" {
		clauses = append(clauses, "flow_id=?")
		args = append(args, f.FlowID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + briefColumns + ` FROM briefs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Brief
	for rows.Next() {
		b, err := scanBrief(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBrief(ctx context.Context, tx *sql.Tx, b domain.Brief) error {
	res, err := tx.ExecContext(ctx, `UPDATE briefs SET title=?, description=?, objectives=?, target_audience=?, budget=?, timeline=?, flow_id=?, current_stage_id=?, updated_at=? WHERE id=?`,
		b.Title, nullable(b.Description), nullable(b.Objectives), nullable(b.TargetAudience),
		nullable(b.Budget), nullable(b.Timeline), nullableStringPtr(b.FlowID), nullableStringPtr(b.CurrentStageID),
		b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBrief removes the brief; outputs, conversations, and feedback rows
// cascade via foreign keys.
func (r Repo) DeleteBrief(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM briefs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- flows ---

func (r Repo) InsertFlow(ctx context.Context, tx *sql.Tx, f domain.Flow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO flows(id,name,description,created_at) VALUES (?,?,?,?)`,
		f.ID, f.Name, nullable(f.Description), f.CreatedAt)
	return err
}

func (r Repo) GetFlow(ctx context.Context, id string) (domain.Flow, error) {
	var f domain.Flow
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM flows WHERE id=?`, id).
		Scan(&f.ID, &f.Name, &desc, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.Description = desc.String
	steps, err := r.ListFlowSteps(ctx, f.ID)
	if err != nil {
		return f, err
	}
	f.Steps = steps
	return f, nil
}

func (r Repo) ListFlows(ctx context.Context) ([]domain.Flow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,created_at FROM flows ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Flow
	for rows.Next() {
		var f domain.Flow
		var desc sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &desc, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Description = desc.String
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) DeleteFlow(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM flows WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- stages ---

func (r Repo) InsertStage(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,flow_id,name,order_index,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.FlowID, s.Name, s.OrderIndex, s.CreatedAt)
	return err
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var s domain.Stage
	err := r.DB.QueryRowContext(ctx, `SELECT id,flow_id,name,order_index,created_at FROM stages WHERE id=?`, id).
		Scan(&s.ID, &s.FlowID, &s.Name, &s.OrderIndex, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// FindStagesByName performs a case-insensitive exact-then-prefix lookup.
// Results are ordered name ASC, id ASC so ambiguous matches resolve
// deterministically.
func (r Repo) FindStagesByName(ctx context.Context, name string) ([]domain.Stage, error) {
	lowered := strings.ToLower(name)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,flow_id,name,order_index,created_at FROM stages WHERE LOWER(name)=? ORDER BY name ASC, id ASC`, lowered)
	if err != nil {
		return nil, err
	}
	stages, err := collectStages(rows)
	if err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		return stages, nil
	}
	rows, err = r.DB.QueryContext(ctx, `SELECT id,flow_id,name,order_index,created_at FROM stages WHERE LOWER(name) LIKE ? ORDER BY name ASC, id ASC`, lowered+"%")
	if err != nil {
		return nil, err
	}
	return collectStages(rows)
}

func collectStages(rows *sql.Rows) ([]domain.Stage, error) {
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.ID, &s.FlowID, &s.Name, &s.OrderIndex, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListStages returns a flow's stages in ascending order.
func (r Repo) ListStages(ctx context.Context, flowID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,flow_id,name,order_index,created_at FROM stages WHERE flow_id=? ORDER BY order_index ASC`, flowID)
	if err != nil {
		return nil, err
	}
	return collectStages(rows)
}

// PrecedingStage returns the stage immediately before the given one in its
// flow, or ErrNotFound when it is the first.
func (r Repo) PrecedingStage(ctx context.Context, s domain.Stage) (domain.Stage, error) {
	var prev domain.Stage
	err := r.DB.QueryRowContext(ctx, `SELECT id,flow_id,name,order_index,created_at FROM stages WHERE flow_id=? AND order_index < ? ORDER BY order_index DESC LIMIT 1`,
		s.FlowID, s.OrderIndex).
		Scan(&prev.ID, &prev.FlowID, &prev.Name, &prev.OrderIndex, &prev.CreatedAt)
	if err == sql.ErrNoRows {
		return prev, ErrNotFound
	}
	return prev, err
}

// --- flow steps ---

func (r Repo) InsertFlowStep(ctx context.Context, tx *sql.Tx, s domain.FlowStep) error {
	outputs, err := marshalStringSlice(s.Outputs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO flow_steps(id,flow_id,agent_id,order_index,requirements,outputs_json) VALUES (?,?,?,?,?,?)`,
		s.ID, s.FlowID, s.AgentID, s.OrderIndex, nullable(s.Requirements), nullableStringPtr(outputs))
	return err
}

func (r Repo) ListFlowSteps(ctx context.Context, flowID string) ([]domain.FlowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,flow_id,agent_id,order_index,requirements,outputs_json FROM flow_steps WHERE flow_id=? ORDER BY order_index ASC`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FlowStep
	for rows.Next() {
		var s domain.FlowStep
		var reqs, outputsJSON sql.NullString
		if err := rows.Scan(&s.ID, &s.FlowID, &s.AgentID, &s.OrderIndex, &reqs, &outputsJSON); err != nil {
			return nil, err
		}
		s.Requirements = reqs.String
		if outputsJSON.Valid && outputsJSON.String != "" {
			if err := json.Unmarshal([]byte(outputsJSON.String), &s.Outputs); err != nil {
				return nil, fmt.Errorf("flow step %s outputs: %w", s.ID, err)
			}
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- agents ---

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,name,description,temperature,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Description), a.Temperature, a.CreatedAt)
	if err != nil {
		return err
	}
	for _, s := range a.Skills {
		if err := r.InsertSkill(ctx, tx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,temperature,created_at FROM agents WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &desc, &a.Temperature, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Description = desc.String
	skills, err := r.ListSkills(ctx, a.ID)
	if err != nil {
		return a, err
	}
	a.Skills = skills
	return a, nil
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,temperature,created_at FROM agents ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var a domain.Agent
		var desc sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &desc, &a.Temperature, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Description = desc.String
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAgent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- skills ---

func (r Repo) InsertSkill(ctx context.Context, tx *sql.Tx, s domain.Skill) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO skills(id,agent_id,name,description,content,position) VALUES (?,?,?,?,?,?)`,
		s.ID, s.AgentID, s.Name, nullable(s.Description), nullable(s.Content), s.Position)
	return err
}

func (r Repo) ListSkills(ctx context.Context, agentID string) ([]domain.Skill, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agent_id,name,description,content,position FROM skills WHERE agent_id=? ORDER BY position ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Skill
	for rows.Next() {
		var s domain.Skill
		var desc, content sql.NullString
		if err := rows.Scan(&s.ID, &s.AgentID, &s.Name, &desc, &content, &s.Position); err != nil {
			return nil, err
		}
		s.Description = desc.String
		s.Content = content.String
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- project config ---

func (r Repo) UpsertConfig(ctx context.Context, projectID, configJSON, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`,
		projectID, configJSON, now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context, projectID string) (string, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return payload, err
}

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
