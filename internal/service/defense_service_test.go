package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

func fullPanel(supervisor, reviewer, president string) []dto.PanelMemberRequest {
	return []dto.PanelMemberRequest{
		{TeacherID: supervisor, Role: models.RoleSupervisor},
		{TeacherID: reviewer, Role: models.RoleReviewer},
		{TeacherID: president, Role: models.RolePresident},
	}
}

func TestDefenseServiceCreateSuccess(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	session, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Len(t, session.Panel, 3)
	assert.Len(t, fixture.repo.items, 1)
}

func TestDefenseServiceCreateRejectsSecondDefense(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{
		sessions: []models.DefenseSession{
			committedSession("s1", "p1", "A1", "2026-06-15", "08:30", "09:00", "t1", "t2"),
		},
	})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A2",
		Date:      "2026-06-16",
		StartTime: "10:00",
		EndTime:   "10:30",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDefenseExists.Code, appErrors.FromError(err).Code)
}

func TestDefenseServiceCreateConcurrentSameProject(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	request := func(room string) dto.CreateDefenseRequest {
		return dto.CreateDefenseRequest{
			ProjectID: "p1",
			Room:      room,
			Date:      "2026-06-15",
			StartTime: "08:30",
			EndTime:   "09:00",
			Panel:     fullPanel("t1", "t2", "t3"),
		}
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, room := range []string{"A1", "A2"} {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			_, err := fixture.service.Create(context.Background(), request(room))
			errs <- err
		}(room)
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one of the two creates must win")
	assert.Equal(t, appErrors.ErrDefenseExists.Code, appErrors.FromError(failures[0]).Code)
	assert.Len(t, fixture.repo.items, 1)
}

func TestDefenseServiceCreateSupervisorMismatch(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t2", "t1", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSupervisorMismatch.Code, appErrors.FromError(err).Code)
}

func TestDefenseServiceCreatePanelValidationComesFirst(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	// Duplicate role on an unknown project: the panel check fires before
	// the project lookup.
	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "unknown",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel: []dto.PanelMemberRequest{
			{TeacherID: "t1", Role: models.RoleSupervisor},
			{TeacherID: "t2", Role: models.RoleSupervisor},
			{TeacherID: "t3", Role: models.RolePresident},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "SUPERVISOR")
}

func TestDefenseServiceCreateUnknownTeacher(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "ghost", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "ghost")
}

func TestDefenseServiceCreateRejectsInvertedWindow(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "10:00",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDefenseServiceCreateRoomConflict(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{
		sessions: []models.DefenseSession{
			committedSession("s1", "p0", "A1", "2026-06-15", "08:30", "09:00", "t8", "t9"),
		},
	})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:45",
		EndTime:   "09:15",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	var conflictErr *models.DefenseConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "ROOM", conflictErr.Type)
}

func TestDefenseServiceCreateReportsAllBusyTeachers(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{
		sessions: []models.DefenseSession{
			committedSession("s1", "p0", "A2", "2026-06-15", "08:30", "09:00", "t2", "t3"),
		},
	})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.Error(t, err)

	var conflictErr *models.DefenseConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, "TEACHER", conflictErr.Type)
	assert.Equal(t, []string{"t2", "t3"}, conflictErr.Teachers)
}

func TestDefenseServiceCreateAllowsBackToBack(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{
		sessions: []models.DefenseSession{
			committedSession("s1", "p0", "A1", "2026-06-15", "08:30", "09:00", "t1", "t2"),
		},
	})

	_, err := fixture.service.Create(context.Background(), dto.CreateDefenseRequest{
		ProjectID: "p1",
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "09:00",
		EndTime:   "09:30",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	assert.NoError(t, err)
}

func TestDefenseServiceUpdateIgnoresOwnBooking(t *testing.T) {
	session := committedSession("s1", "p1", "A1", "2026-06-15", "08:30", "09:00", "t1", "t2")
	fixture := newDefenseFixture(t, defenseFixtureConfig{
		sessions: []models.DefenseSession{session},
	})

	updated, err := fixture.service.Update(context.Background(), "s1", dto.UpdateDefenseRequest{
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", updated.ID)
	assert.Len(t, updated.Panel, 3)
}

func TestDefenseServiceUpdateNotFound(t *testing.T) {
	fixture := newDefenseFixture(t, defenseFixtureConfig{})

	_, err := fixture.service.Update(context.Background(), "missing", dto.UpdateDefenseRequest{
		Room:      "A1",
		Date:      "2026-06-15",
		StartTime: "08:30",
		EndTime:   "09:00",
		Panel:     fullPanel("t1", "t2", "t3"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

// --- Fixtures ---

type defenseFixture struct {
	service *DefenseService
	repo    *defenseRepoStub
}

type defenseFixtureConfig struct {
	sessions []models.DefenseSession
}

func newDefenseFixture(t *testing.T, cfg defenseFixtureConfig) defenseFixture {
	t.Helper()
	repo := &defenseRepoStub{items: cfg.sessions}
	supervisor := "t1"
	projects := projectReaderStub{items: map[string]*models.Project{
		"p1": {ID: "p1", Title: "Project p1", Status: models.ProjectStatusPublished, SupervisorID: &supervisor},
	}}
	teachers := teacherReaderStub{known: map[string]bool{"t1": true, "t2": true, "t3": true}}

	service := NewDefenseService(
		repo,
		projects,
		teachers,
		nil,
		NewMetricsService(),
		validator.New(),
		zap.NewNop(),
		&sync.Mutex{},
		0,
	)
	return defenseFixture{service: service, repo: repo}
}

func committedSession(id, projectID, room, date, start, end, supervisor, reviewer string) models.DefenseSession {
	return models.DefenseSession{
		ID:        id,
		ProjectID: projectID,
		Room:      room,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Panel: []models.DefensePanelMember{
			{DefenseID: id, TeacherID: supervisor, Role: models.RoleSupervisor},
			{DefenseID: id, TeacherID: reviewer, Role: models.RoleReviewer},
		},
	}
}

type defenseRepoStub struct {
	items []models.DefenseSession
}

func (s *defenseRepoStub) List(ctx context.Context, filter models.DefenseFilter) ([]models.DefenseSession, error) {
	return s.items, nil
}

func (s *defenseRepoStub) ListByDate(ctx context.Context, date string) ([]models.DefenseSession, error) {
	var out []models.DefenseSession
	for _, item := range s.items {
		if item.Date == date {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *defenseRepoStub) FindByID(ctx context.Context, id string) (*models.DefenseSession, error) {
	for _, item := range s.items {
		if item.ID == id {
			found := item
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *defenseRepoStub) FindByProject(ctx context.Context, projectID string) (*models.DefenseSession, error) {
	for _, item := range s.items {
		if item.ProjectID == projectID {
			found := item
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *defenseRepoStub) Create(ctx context.Context, session *models.DefenseSession) error {
	s.items = append(s.items, *session)
	return nil
}

func (s *defenseRepoStub) Update(ctx context.Context, session *models.DefenseSession) error {
	for idx, item := range s.items {
		if item.ID == session.ID {
			s.items[idx] = *session
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *defenseRepoStub) Delete(ctx context.Context, id string) error {
	for idx, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *defenseRepoStub) SetPublished(ctx context.Context, id string, published bool) error {
	for idx, item := range s.items {
		if item.ID == id {
			s.items[idx].Published = published
			return nil
		}
	}
	return sql.ErrNoRows
}

type projectReaderStub struct {
	items map[string]*models.Project
}

func (s projectReaderStub) FindByID(ctx context.Context, id string) (*models.Project, error) {
	if project, ok := s.items[id]; ok {
		return project, nil
	}
	return nil, sql.ErrNoRows
}

type teacherReaderStub struct {
	known map[string]bool
}

func (s teacherReaderStub) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if s.known[id] {
		return &models.Teacher{ID: id, FullName: "Teacher " + id, Active: true}, nil
	}
	return nil, sql.ErrNoRows
}
