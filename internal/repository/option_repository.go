package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pfe-hub/pfe-planner-api/internal/models"
)

// OptionRepository provides persistence for option candidates, assignments
// and track capacities.
type OptionRepository struct {
	db *sqlx.DB
}

// NewOptionRepository creates a new option repository.
func NewOptionRepository(db *sqlx.DB) *OptionRepository {
	return &OptionRepository{db: db}
}

// ListCandidates returns every student eligible for option assignment with
// the grade inputs used for ranking.
func (r *OptionRepository) ListCandidates(ctx context.Context) ([]models.OptionCandidate, error) {
	const query = `SELECT student_id, full_name, preference, stratum, general_average, web_grade, algo_grade, oop_grade, global_score, repeater FROM option_candidates ORDER BY student_id ASC`
	var candidates []models.OptionCandidate
	if err := r.db.SelectContext(ctx, &candidates, query); err != nil {
		return nil, fmt.Errorf("list option candidates: %w", err)
	}
	return candidates, nil
}

// ListAssignments returns the current assignment run ordered by track then score.
func (r *OptionRepository) ListAssignments(ctx context.Context) ([]models.OptionAssignment, error) {
	const query = `SELECT id, student_id, track, preference, stratum, score, created_at FROM option_assignments ORDER BY track ASC, score DESC`
	var assignments []models.OptionAssignment
	if err := r.db.SelectContext(ctx, &assignments, query); err != nil {
		return nil, fmt.Errorf("list option assignments: %w", err)
	}
	return assignments, nil
}

// ListCapacities returns the persisted capacity record per track.
func (r *OptionRepository) ListCapacities(ctx context.Context) ([]models.OptionCapacity, error) {
	const query = `SELECT id, track, capacity, assigned_ids, created_at FROM option_capacities ORDER BY track ASC`
	var capacities []models.OptionCapacity
	if err := r.db.SelectContext(ctx, &capacities, query); err != nil {
		return nil, fmt.Errorf("list option capacities: %w", err)
	}
	return capacities, nil
}

// ReplaceWithTx replaces the full allocation result using an existing
// transaction. Each allocation run supersedes the previous one entirely.
func (r *OptionRepository) ReplaceWithTx(ctx context.Context, tx *sqlx.Tx, assignments []models.OptionAssignment, capacities []models.OptionCapacity) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM option_assignments`); err != nil {
		return fmt.Errorf("clear option assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM option_capacities`); err != nil {
		return fmt.Errorf("clear option capacities: %w", err)
	}

	now := time.Now().UTC()
	const assignmentQuery = `INSERT INTO option_assignments (id, student_id, track, preference, stratum, score, created_at) VALUES (:id, :student_id, :track, :preference, :stratum, :score, :created_at)`
	for i := range assignments {
		payload := assignments[i]
		if payload.ID == "" {
			payload.ID = uuid.NewString()
		}
		if payload.CreatedAt.IsZero() {
			payload.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, assignmentQuery, &payload); err != nil {
			return fmt.Errorf("insert option assignment: %w", err)
		}
		assignments[i] = payload
	}

	const capacityQuery = `INSERT INTO option_capacities (id, track, capacity, assigned_ids, created_at) VALUES (:id, :track, :capacity, :assigned_ids, :created_at)`
	for i := range capacities {
		payload := capacities[i]
		if payload.ID == "" {
			payload.ID = uuid.NewString()
		}
		if payload.CreatedAt.IsZero() {
			payload.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, capacityQuery, &payload); err != nil {
			return fmt.Errorf("insert option capacity: %w", err)
		}
		capacities[i] = payload
	}

	return nil
}
