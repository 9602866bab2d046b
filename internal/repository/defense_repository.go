package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pfe-hub/pfe-planner-api/internal/models"
)

const defenseColumns = "id, project_id, room, date, start_time, end_time, published, created_at, updated_at"

// DefenseRepository provides persistence for defense sessions and their panels.
type DefenseRepository struct {
	db *sqlx.DB
}

// NewDefenseRepository creates a new defense repository.
func NewDefenseRepository(db *sqlx.DB) *DefenseRepository {
	return &DefenseRepository{db: db}
}

// List returns defense sessions with optional filtering, panels included,
// ordered chronologically.
func (r *DefenseRepository) List(ctx context.Context, filter models.DefenseFilter) ([]models.DefenseSession, error) {
	base := "FROM defense_sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.From != "" {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, filter.To)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", len(args)+1))
		args = append(args, filter.ProjectID)
	}
	if filter.Published != nil {
		conditions = append(conditions, fmt.Sprintf("published = $%d", len(args)+1))
		args = append(args, *filter.Published)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY date ASC, start_time ASC, room ASC", defenseColumns, base)
	var sessions []models.DefenseSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list defense sessions: %w", err)
	}
	if err := r.attachPanels(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAll returns every defense session with its panel. The generator uses
// this to seed its occupancy ledger.
func (r *DefenseRepository) ListAll(ctx context.Context) ([]models.DefenseSession, error) {
	return r.List(ctx, models.DefenseFilter{})
}

// ListByDate returns sessions scheduled on the given day, panels included.
func (r *DefenseRepository) ListByDate(ctx context.Context, date string) ([]models.DefenseSession, error) {
	query := fmt.Sprintf("SELECT %s FROM defense_sessions WHERE date = $1 ORDER BY start_time ASC, room ASC", defenseColumns)
	var sessions []models.DefenseSession
	if err := r.db.SelectContext(ctx, &sessions, query, date); err != nil {
		return nil, fmt.Errorf("list defense sessions by date: %w", err)
	}
	if err := r.attachPanels(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FindByID loads a defense session and its panel by id.
func (r *DefenseRepository) FindByID(ctx context.Context, id string) (*models.DefenseSession, error) {
	query := fmt.Sprintf("SELECT %s FROM defense_sessions WHERE id = $1", defenseColumns)
	var session models.DefenseSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	panel, err := r.loadPanel(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Panel = panel
	return &session, nil
}

// FindByProject loads the session scheduled for a project, if any.
func (r *DefenseRepository) FindByProject(ctx context.Context, projectID string) (*models.DefenseSession, error) {
	query := fmt.Sprintf("SELECT %s FROM defense_sessions WHERE project_id = $1", defenseColumns)
	var session models.DefenseSession
	if err := r.db.GetContext(ctx, &session, query, projectID); err != nil {
		return nil, err
	}
	panel, err := r.loadPanel(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Panel = panel
	return &session, nil
}

// Create stores a session and its panel rows in a single transaction.
func (r *DefenseRepository) Create(ctx context.Context, session *models.DefenseSession) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create defense session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.insertSession(ctx, tx, session); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create defense session: %w", err)
	}
	return nil
}

// Update rewrites a session and replaces its panel rows.
func (r *DefenseRepository) Update(ctx context.Context, session *models.DefenseSession) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update defense session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE defense_sessions SET project_id = :project_id, room = :room, date = :date, start_time = :start_time, end_time = :end_time, published = :published, updated_at = :updated_at WHERE id = :id`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, session); err != nil {
		return fmt.Errorf("update defense session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM defense_panel_members WHERE defense_id = $1`, session.ID); err != nil {
		return fmt.Errorf("clear defense panel: %w", err)
	}
	if err = r.insertPanel(ctx, tx, session.ID, session.Panel); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update defense session: %w", err)
	}
	return nil
}

// Delete removes a session; panel rows cascade via foreign key.
func (r *DefenseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM defense_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete defense session: %w", err)
	}
	return nil
}

// SetPublished toggles visibility of a session on the public planning.
func (r *DefenseRepository) SetPublished(ctx context.Context, id string, published bool) error {
	const query = `UPDATE defense_sessions SET published = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, published, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set defense published: %w", err)
	}
	return nil
}

// DeleteAllWithTx clears every session using an existing transaction. The
// generator calls this before re-planning from scratch.
func (r *DefenseRepository) DeleteAllWithTx(ctx context.Context, tx *sqlx.Tx) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM defense_panel_members`); err != nil {
		return fmt.Errorf("clear defense panels: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM defense_sessions`); err != nil {
		return fmt.Errorf("clear defense sessions: %w", err)
	}
	return nil
}

// BulkCreateWithTx inserts many sessions and their panels using an existing
// transaction so a generation batch commits atomically.
func (r *DefenseRepository) BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.DefenseSession) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	for i := range sessions {
		if err := r.insertSession(ctx, tx, &sessions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *DefenseRepository) insertSession(ctx context.Context, tx *sqlx.Tx, session *models.DefenseSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO defense_sessions (id, project_id, room, date, start_time, end_time, published, created_at, updated_at) VALUES (:id, :project_id, :room, :date, :start_time, :end_time, :published, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, session); err != nil {
		return fmt.Errorf("insert defense session: %w", err)
	}
	return r.insertPanel(ctx, tx, session.ID, session.Panel)
}

func (r *DefenseRepository) insertPanel(ctx context.Context, tx *sqlx.Tx, defenseID string, panel []models.DefensePanelMember) error {
	const query = `INSERT INTO defense_panel_members (defense_id, teacher_id, role) VALUES (:defense_id, :teacher_id, :role)`
	for i := range panel {
		member := panel[i]
		member.DefenseID = defenseID
		if _, err := sqlx.NamedExecContext(ctx, tx, query, &member); err != nil {
			return fmt.Errorf("insert defense panel member: %w", err)
		}
		panel[i] = member
	}
	return nil
}

func (r *DefenseRepository) loadPanel(ctx context.Context, defenseID string) ([]models.DefensePanelMember, error) {
	const query = `SELECT defense_id, teacher_id, role FROM defense_panel_members WHERE defense_id = $1 ORDER BY role ASC`
	var panel []models.DefensePanelMember
	if err := r.db.SelectContext(ctx, &panel, query, defenseID); err != nil {
		return nil, fmt.Errorf("load defense panel: %w", err)
	}
	return panel, nil
}

func (r *DefenseRepository) attachPanels(ctx context.Context, sessions []models.DefenseSession) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
	}

	query, args, err := sqlx.In(`SELECT defense_id, teacher_id, role FROM defense_panel_members WHERE defense_id IN (?) ORDER BY role ASC`, ids)
	if err != nil {
		return fmt.Errorf("build panel query: %w", err)
	}
	query = r.db.Rebind(query)

	var members []models.DefensePanelMember
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return fmt.Errorf("load defense panels: %w", err)
	}

	byDefense := make(map[string][]models.DefensePanelMember, len(sessions))
	for _, member := range members {
		byDefense[member.DefenseID] = append(byDefense[member.DefenseID], member)
	}
	for i := range sessions {
		sessions[i].Panel = byDefense[sessions[i].ID]
	}
	return nil
}
