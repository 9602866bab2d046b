package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

func TestOptionScore(t *testing.T) {
	stratumOne := models.OptionCandidate{
		Stratum:        1,
		GeneralAverage: 14,
		WebGrade:       15,
		AlgoGrade:      12,
		OOPGrade:       13,
	}
	assert.InDelta(t, 68.0, optionScore(stratumOne), 1e-9)

	stratumOne.Repeater = true
	assert.InDelta(t, 58.0, optionScore(stratumOne), 1e-9)

	stratumTwo := models.OptionCandidate{Stratum: 2, GlobalScore: 15.5, GeneralAverage: 99}
	assert.InDelta(t, 15.5, optionScore(stratumTwo), 1e-9, "stratum 2 uses the global score verbatim")
}

func TestSplitCapacity(t *testing.T) {
	a, b := splitCapacity(10, 50)
	assert.Equal(t, 5, a)
	assert.Equal(t, 5, b)

	a, b = splitCapacity(7, 50)
	assert.Equal(t, 4, a, "half of 7 rounds up")
	assert.Equal(t, 3, b)

	a, b = splitCapacity(10, 33)
	assert.Equal(t, 3, a)
	assert.Equal(t, 7, b)
	assert.Equal(t, 10, a+b, "capacities always cover every candidate")
}

func TestStratumQuotas(t *testing.T) {
	one, two := stratumQuotas(5, 86)
	assert.Equal(t, 4, one)
	assert.Equal(t, 1, two)

	one, two = stratumQuotas(10, 86)
	assert.Equal(t, 9, one)
	assert.Equal(t, 1, two)
}

func TestAllocateTracksOverflowBypassesReceivingQuota(t *testing.T) {
	// Ten stratum-1 candidates, all preferring track A, ranked by score.
	// With a 50% split, capacityA is 5 and its stratum-1 sub-quota is 4:
	// the top four stay on A and everyone else lands on B even though B's
	// own sub-quota is also 4.
	candidates := make([]models.OptionCandidate, 0, 10)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, models.OptionCandidate{
			StudentID:      fmt.Sprintf("s%02d", i+1),
			Preference:     models.TrackA,
			Stratum:        1,
			GeneralAverage: float64(20 - i),
		})
	}

	assignments, capacities := allocateTracks(candidates, 50, 86)
	require.Len(t, assignments, 10)

	for i, assignment := range assignments {
		if i < 4 {
			assert.Equal(t, models.TrackA, assignment.Track, "rank %d", i)
		} else {
			assert.Equal(t, models.TrackB, assignment.Track, "rank %d", i)
		}
		assert.Equal(t, models.TrackA, assignment.Preference)
	}

	require.Len(t, capacities, 2)
	assert.Equal(t, models.TrackA, capacities[0].Track)
	assert.Equal(t, 5, capacities[0].Capacity)
	assert.Len(t, capacities[0].AssignedIDs, 4)
	assert.Equal(t, models.TrackB, capacities[1].Track)
	assert.Equal(t, 5, capacities[1].Capacity)
	assert.Len(t, capacities[1].AssignedIDs, 6)
}

func TestAllocateTracksRanksByScoreDescending(t *testing.T) {
	candidates := []models.OptionCandidate{
		{StudentID: "low", Preference: models.TrackA, Stratum: 2, GlobalScore: 10},
		{StudentID: "high", Preference: models.TrackA, Stratum: 2, GlobalScore: 18},
		{StudentID: "mid", Preference: models.TrackB, Stratum: 2, GlobalScore: 14},
	}

	assignments, _ := allocateTracks(candidates, 50, 86)
	require.Len(t, assignments, 3)
	assert.Equal(t, "high", assignments[0].StudentID)
	assert.Equal(t, "mid", assignments[1].StudentID)
	assert.Equal(t, "low", assignments[2].StudentID)
}

func TestAllocateTracksTiesKeepInputOrder(t *testing.T) {
	candidates := []models.OptionCandidate{
		{StudentID: "first", Preference: models.TrackA, Stratum: 2, GlobalScore: 12},
		{StudentID: "second", Preference: models.TrackA, Stratum: 2, GlobalScore: 12},
	}

	assignments, _ := allocateTracks(candidates, 50, 86)
	require.Len(t, assignments, 2)
	assert.Equal(t, "first", assignments[0].StudentID)
	assert.Equal(t, "second", assignments[1].StudentID)
}

func TestOptionAllocationServiceAllocate(t *testing.T) {
	store := &optionStoreStub{}
	tx, mock := newTxProviderMock(t)
	service := NewOptionAllocationService(
		optionCandidateListerStub{items: []models.OptionCandidate{
			{StudentID: "s1", Preference: models.TrackA, Stratum: 2, GlobalScore: 16},
			{StudentID: "s2", Preference: models.TrackB, Stratum: 2, GlobalScore: 12},
		}},
		store,
		tx,
		NewMetricsService(),
		validator.New(),
		zap.NewNop(),
		86,
		50,
	)

	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := service.Allocate(context.Background(), dto.AllocateOptionsRequest{
		TrackAPercent: 50,
		TrackBPercent: 50,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Assignments, 2)
	assert.Len(t, resp.Capacities, 2)
	assert.Len(t, store.assignments, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOptionAllocationServiceAppliesDefaultSplit(t *testing.T) {
	store := &optionStoreStub{}
	tx, mock := newTxProviderMock(t)
	candidates := make([]models.OptionCandidate, 0, 10)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, models.OptionCandidate{
			StudentID:   fmt.Sprintf("s%d", i),
			Preference:  models.TrackA,
			Stratum:     2,
			GlobalScore: float64(i),
		})
	}
	service := NewOptionAllocationService(
		optionCandidateListerStub{items: candidates},
		store,
		tx,
		nil,
		validator.New(),
		zap.NewNop(),
		86,
		70,
	)

	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := service.Allocate(context.Background(), dto.AllocateOptionsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Capacities[0].Capacity)
	assert.Equal(t, 3, resp.Capacities[1].Capacity)
}

func TestOptionAllocationServiceResults(t *testing.T) {
	store := &optionStoreStub{
		assignments: []models.OptionAssignment{
			{StudentID: "s1", Track: models.TrackA, Preference: models.TrackA, Stratum: 2, Score: 16},
			{StudentID: "s2", Track: models.TrackB, Preference: models.TrackB, Stratum: 2, Score: 12},
		},
		capacities: []models.OptionCapacity{
			{Track: models.TrackA, Capacity: 1},
			{Track: models.TrackB, Capacity: 1},
		},
	}
	service := NewOptionAllocationService(
		optionCandidateListerStub{},
		store,
		nil,
		nil,
		validator.New(),
		zap.NewNop(),
		86,
		50,
	)

	resp, err := service.Results(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Assignments, 2)
	assert.Equal(t, "s1", resp.Assignments[0].StudentID)
	assert.Equal(t, models.TrackA, resp.Assignments[0].Track)
	assert.Len(t, resp.Capacities, 2)
}

func TestOptionAllocationServiceResultsBeforeAnyRun(t *testing.T) {
	service := NewOptionAllocationService(
		optionCandidateListerStub{},
		&optionStoreStub{},
		nil,
		nil,
		validator.New(),
		zap.NewNop(),
		86,
		50,
	)

	_, err := service.Results(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestOptionAllocationServiceRejectsBadSplit(t *testing.T) {
	service := NewOptionAllocationService(
		optionCandidateListerStub{items: []models.OptionCandidate{{StudentID: "s1", Preference: models.TrackA, Stratum: 2}}},
		&optionStoreStub{},
		nil,
		nil,
		validator.New(),
		zap.NewNop(),
		86,
		50,
	)

	_, err := service.Allocate(context.Background(), dto.AllocateOptionsRequest{
		TrackAPercent: 60,
		TrackBPercent: 50,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOptionAllocationServiceRequiresCandidates(t *testing.T) {
	service := NewOptionAllocationService(
		optionCandidateListerStub{},
		&optionStoreStub{},
		nil,
		nil,
		validator.New(),
		zap.NewNop(),
		86,
		50,
	)

	_, err := service.Allocate(context.Background(), dto.AllocateOptionsRequest{
		TrackAPercent: 50,
		TrackBPercent: 50,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

// --- Fixtures ---

type optionCandidateListerStub struct {
	items []models.OptionCandidate
}

func (s optionCandidateListerStub) ListCandidates(ctx context.Context) ([]models.OptionCandidate, error) {
	return s.items, nil
}

type optionStoreStub struct {
	assignments []models.OptionAssignment
	capacities  []models.OptionCapacity
}

func (s *optionStoreStub) ReplaceWithTx(ctx context.Context, tx *sqlx.Tx, assignments []models.OptionAssignment, capacities []models.OptionCapacity) error {
	s.assignments = assignments
	s.capacities = capacities
	return nil
}

func (s *optionStoreStub) ListAssignments(ctx context.Context) ([]models.OptionAssignment, error) {
	return s.assignments, nil
}

func (s *optionStoreStub) ListCapacities(ctx context.Context) ([]models.OptionCapacity, error) {
	return s.capacities, nil
}
