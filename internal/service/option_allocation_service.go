package service

import (
	"context"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

type optionCandidateLister interface {
	ListCandidates(ctx context.Context) ([]models.OptionCandidate, error)
}

type optionAssignmentStore interface {
	ListAssignments(ctx context.Context) ([]models.OptionAssignment, error)
	ListCapacities(ctx context.Context) ([]models.OptionCapacity, error)
	ReplaceWithTx(ctx context.Context, tx *sqlx.Tx, assignments []models.OptionAssignment, capacities []models.OptionCapacity) error
}

// OptionAllocationService ranks candidates by score and distributes them
// into the two tracks under percentage-derived, year-stratified quotas.
// A candidate whose preferred sub-quota is full overflows to the other
// track without a quota check on the receiving side.
type OptionAllocationService struct {
	candidates optionCandidateLister
	store      optionAssignmentStore
	tx         txProvider
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger

	// stratumOneRate is the percentage of each track capacity reserved
	// for stratum-1 candidates, 86 by default.
	stratumOneRate int
	// defaultTrackAPercent applies when a request omits the split.
	defaultTrackAPercent int
}

// NewOptionAllocationService wires allocator dependencies.
func NewOptionAllocationService(
	candidates optionCandidateLister,
	store optionAssignmentStore,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	stratumOneRate int,
	defaultTrackAPercent int,
) *OptionAllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stratumOneRate <= 0 || stratumOneRate > 100 {
		stratumOneRate = 86
	}
	if defaultTrackAPercent <= 0 || defaultTrackAPercent >= 100 {
		defaultTrackAPercent = 50
	}
	return &OptionAllocationService{
		candidates:           candidates,
		store:                store,
		tx:                   tx,
		metrics:              metrics,
		validator:            validate,
		logger:               logger,
		stratumOneRate:       stratumOneRate,
		defaultTrackAPercent: defaultTrackAPercent,
	}
}

// Allocate runs the full ranked assignment and persists the outcome as
// one batch.
func (s *OptionAllocationService) Allocate(ctx context.Context, req dto.AllocateOptionsRequest) (*dto.AllocateOptionsResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid allocation payload")
	}
	if req.TrackAPercent == 0 && req.TrackBPercent == 0 {
		req.TrackAPercent = s.defaultTrackAPercent
		req.TrackBPercent = 100 - s.defaultTrackAPercent
	}
	if req.TrackAPercent+req.TrackBPercent != 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "track percentages must sum to 100")
	}

	candidates, err := s.candidates.ListCandidates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load option candidates")
	}
	if len(candidates) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no candidates declared an option choice")
	}

	assignments, capacities := allocateTracks(candidates, req.TrackAPercent, s.stratumOneRate)

	if err := s.persist(ctx, assignments, capacities); err != nil {
		return nil, err
	}
	s.metrics.ObserveOptionAllocation(len(assignments))
	s.logger.Info("option allocation complete",
		zap.Int("candidates", len(assignments)),
		zap.Int("capacityA", capacities[0].Capacity),
		zap.Int("capacityB", capacities[1].Capacity),
	)

	return &dto.AllocateOptionsResponse{Assignments: assignmentResults(assignments), Capacities: capacities}, nil
}

// Results returns the persisted outcome of the latest allocation run.
func (s *OptionAllocationService) Results(ctx context.Context) (*dto.AllocateOptionsResponse, error) {
	capacities, err := s.store.ListCapacities(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load option capacities")
	}
	if len(capacities) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no allocation run recorded")
	}
	assignments, err := s.store.ListAssignments(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load option assignments")
	}
	return &dto.AllocateOptionsResponse{Assignments: assignmentResults(assignments), Capacities: capacities}, nil
}

func assignmentResults(assignments []models.OptionAssignment) []dto.OptionAssignmentResult {
	results := make([]dto.OptionAssignmentResult, 0, len(assignments))
	for _, assignment := range assignments {
		results = append(results, dto.OptionAssignmentResult{
			StudentID:  assignment.StudentID,
			Preference: assignment.Preference,
			Track:      assignment.Track,
			Stratum:    assignment.Stratum,
			Score:      assignment.Score,
		})
	}
	return results
}

// optionScore computes the ranking score. Stratum 1 weighs the general
// average double and adds the three module grades, minus a 10-point
// repeater penalty; stratum 2 uses the global score verbatim.
func optionScore(c models.OptionCandidate) float64 {
	if c.Stratum == 2 {
		return c.GlobalScore
	}
	score := 2*c.GeneralAverage + c.WebGrade + c.AlgoGrade + c.OOPGrade
	if c.Repeater {
		score -= 10
	}
	return score
}

// splitCapacity derives the two track capacities from the percentage.
func splitCapacity(total, pctA int) (int, int) {
	capacityA := int(math.Round(float64(total) * float64(pctA) / 100))
	return capacityA, total - capacityA
}

// stratumQuotas splits one track capacity across the two strata.
func stratumQuotas(capacity, stratumOneRate int) (int, int) {
	one := int(math.Round(float64(capacity) * float64(stratumOneRate) / 100))
	return one, capacity - one
}

type quotaKey struct {
	Track   models.OptionTrack
	Stratum int
}

// allocateTracks sorts candidates by descending score (ties keep input
// order) and walks the list once, honouring the preferred sub-quota and
// overflowing to the alternate track when it is full.
func allocateTracks(candidates []models.OptionCandidate, pctA, stratumOneRate int) ([]models.OptionAssignment, []models.OptionCapacity) {
	ranked := make([]models.OptionCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return optionScore(ranked[i]) > optionScore(ranked[j])
	})

	capacityA, capacityB := splitCapacity(len(ranked), pctA)
	quotaA1, quotaA2 := stratumQuotas(capacityA, stratumOneRate)
	quotaB1, quotaB2 := stratumQuotas(capacityB, stratumOneRate)

	quotas := map[quotaKey]int{
		{Track: models.TrackA, Stratum: 1}: quotaA1,
		{Track: models.TrackA, Stratum: 2}: quotaA2,
		{Track: models.TrackB, Stratum: 1}: quotaB1,
		{Track: models.TrackB, Stratum: 2}: quotaB2,
	}
	used := make(map[quotaKey]int, len(quotas))
	assignedIDs := map[models.OptionTrack][]string{}

	assignments := make([]models.OptionAssignment, 0, len(ranked))
	for _, candidate := range ranked {
		preferred := quotaKey{Track: candidate.Preference, Stratum: candidate.Stratum}
		track := candidate.Preference
		if used[preferred] < quotas[preferred] {
			used[preferred]++
		} else {
			track = candidate.Preference.Other()
		}
		assignedIDs[track] = append(assignedIDs[track], candidate.StudentID)
		assignments = append(assignments, models.OptionAssignment{
			ID:         uuid.NewString(),
			StudentID:  candidate.StudentID,
			Track:      track,
			Preference: candidate.Preference,
			Stratum:    candidate.Stratum,
			Score:      optionScore(candidate),
		})
	}

	capacities := []models.OptionCapacity{
		{ID: uuid.NewString(), Track: models.TrackA, Capacity: capacityA, AssignedIDs: pq.StringArray(assignedIDs[models.TrackA])},
		{ID: uuid.NewString(), Track: models.TrackB, Capacity: capacityB, AssignedIDs: pq.StringArray(assignedIDs[models.TrackB])},
	}
	return assignments, capacities
}

func (s *OptionAllocationService) persist(ctx context.Context, assignments []models.OptionAssignment, capacities []models.OptionCapacity) error {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.store.ReplaceWithTx(ctx, tx, assignments, capacities); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist option assignments")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit option assignments")
		return err
	}
	return nil
}
