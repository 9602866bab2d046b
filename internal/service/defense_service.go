package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

const planningCachePrefix = "planning:"

type defenseRepository interface {
	List(ctx context.Context, filter models.DefenseFilter) ([]models.DefenseSession, error)
	ListByDate(ctx context.Context, date string) ([]models.DefenseSession, error)
	FindByID(ctx context.Context, id string) (*models.DefenseSession, error)
	FindByProject(ctx context.Context, projectID string) (*models.DefenseSession, error)
	Create(ctx context.Context, session *models.DefenseSession) error
	Update(ctx context.Context, session *models.DefenseSession) error
	Delete(ctx context.Context, id string) error
	SetPublished(ctx context.Context, id string, published bool) error
}

type defenseProjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
}

type defenseTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type planningCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// DefenseService validates and persists manually scheduled defense
// sessions. Unlike the generator flow, manual sessions require a full
// three-role panel and are not subject to the daily cap.
type DefenseService struct {
	repo      defenseRepository
	projects  defenseProjectReader
	teachers  defenseTeacherReader
	cache     planningCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration

	// guard is shared with the generator so conflict checks and commits
	// form one logical unit across both flows.
	guard *sync.Mutex
}

// NewDefenseService wires manual defense dependencies.
func NewDefenseService(
	repo defenseRepository,
	projects defenseProjectReader,
	teachers defenseTeacherReader,
	cache planningCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	guard *sync.Mutex,
	cacheTTL time.Duration,
) *DefenseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = &sync.Mutex{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &DefenseService{
		repo:      repo,
		projects:  projects,
		teachers:  teachers,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		guard:     guard,
		cacheTTL:  cacheTTL,
	}
}

// Create validates and schedules a new defense session.
func (s *DefenseService) Create(ctx context.Context, req dto.CreateDefenseRequest) (*models.DefenseSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid defense payload")
	}
	panel, err := s.validatePanel(ctx, req.Panel)
	if err != nil {
		return nil, err
	}

	project, err := s.loadProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	// The uniqueness lookup must run under the same guard as the final
	// insert, or two concurrent creates for one project both pass it.
	s.guard.Lock()
	defer s.guard.Unlock()

	if _, err := s.repo.FindByProject(ctx, req.ProjectID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDefenseExists, fmt.Sprintf("project %s already has a defense session", req.ProjectID))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing defense")
	}
	if err := checkSupervisorMatch(project, panel); err != nil {
		return nil, err
	}

	interval, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	if err := s.checkConflicts(ctx, req.Room, req.Date, interval, panel, ""); err != nil {
		return nil, err
	}

	session := &models.DefenseSession{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Room:      req.Room,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Panel:     panel,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist defense session")
	}
	s.invalidatePlanning(ctx)
	return session, nil
}

// Update overwrites room, times and panel of an existing session.
func (s *DefenseService) Update(ctx context.Context, id string, req dto.UpdateDefenseRequest) (*models.DefenseSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid defense payload")
	}
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "defense session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load defense session")
	}

	panel, err := s.validatePanel(ctx, req.Panel)
	if err != nil {
		return nil, err
	}
	project, err := s.loadProject(ctx, session.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := checkSupervisorMatch(project, panel); err != nil {
		return nil, err
	}

	interval, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	if err := s.checkConflicts(ctx, req.Room, req.Date, interval, panel, session.ID); err != nil {
		return nil, err
	}

	session.Room = req.Room
	session.Date = req.Date
	session.StartTime = req.StartTime
	session.EndTime = req.EndTime
	session.Panel = panel
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update defense session")
	}
	s.invalidatePlanning(ctx)
	return session, nil
}

// List returns defense sessions matching the query, serving repeated
// planning reads from the cache.
func (s *DefenseService) List(ctx context.Context, query dto.DefensePlanningQuery) ([]models.DefenseSession, error) {
	filter := models.DefenseFilter{
		From:      query.From,
		To:        query.To,
		Room:      query.Room,
		Published: query.Published,
	}

	key := planningCacheKey(query)
	if s.cache != nil {
		start := time.Now()
		var cached []models.DefenseSession
		err := s.cache.Get(ctx, key, &cached)
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("planning cache read failed", zap.Error(err))
		}
	}

	sessions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list defense sessions")
	}

	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, sessions, s.cacheTTL); err != nil {
			s.logger.Warn("planning cache write failed", zap.Error(err))
		}
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	return sessions, nil
}

// Get returns one defense session with its panel.
func (s *DefenseService) Get(ctx context.Context, id string) (*models.DefenseSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "defense session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load defense session")
	}
	return session, nil
}

// Delete removes a session.
func (s *DefenseService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "defense session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete defense session")
	}
	s.invalidatePlanning(ctx)
	return nil
}

// SetPublished toggles the publication flag of a session.
func (s *DefenseService) SetPublished(ctx context.Context, id string, published bool) error {
	if err := s.repo.SetPublished(ctx, id, published); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "defense session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update publication flag")
	}
	s.invalidatePlanning(ctx)
	return nil
}

// validatePanel enforces role validity first: no role repeated, no
// teacher holding two roles, all three roles covered, and every teacher
// resolving to an existing roster entry.
func (s *DefenseService) validatePanel(ctx context.Context, members []dto.PanelMemberRequest) ([]models.DefensePanelMember, error) {
	allowed := map[models.DefenseRole]bool{
		models.RoleSupervisor: true,
		models.RoleReviewer:   true,
		models.RolePresident:  true,
	}
	seenRoles := make(map[models.DefenseRole]bool, len(members))
	seenTeachers := make(map[string]bool, len(members))
	panel := make([]models.DefensePanelMember, 0, len(members))

	for _, member := range members {
		if !allowed[member.Role] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown panel role %q", member.Role))
		}
		if seenRoles[member.Role] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("role %s assigned more than once", member.Role))
		}
		if seenTeachers[member.TeacherID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher %s holds more than one role", member.TeacherID))
		}
		seenRoles[member.Role] = true
		seenTeachers[member.TeacherID] = true
		panel = append(panel, models.DefensePanelMember{TeacherID: member.TeacherID, Role: member.Role})
	}

	for _, member := range panel {
		if _, err := s.teachers.FindByID(ctx, member.TeacherID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher %s not found", member.TeacherID))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
		}
	}

	for role := range allowed {
		if !seenRoles[role] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("panel is missing the %s role", role))
		}
	}
	return panel, nil
}

func (s *DefenseService) loadProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	return project, nil
}

// checkConflicts seeds a ledger with the sessions committed on the same
// date, excluding the session being updated, and runs the room check
// followed by the teacher check. The teacher check reports every
// conflicting panel member.
func (s *DefenseService) checkConflicts(ctx context.Context, room, date string, interval timeInterval, panel []models.DefensePanelMember, excludeID string) error {
	sameDay, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions for conflict check")
	}
	ledger := newDefenseLedger()
	if err := ledger.seed(sameDay, excludeID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "committed sessions carry invalid times")
	}

	if conflicts := ledger.roomConflicts(room, date, interval); len(conflicts) > 0 {
		conflictErr := &models.DefenseConflictError{
			Type:    "ROOM",
			Message: fmt.Sprintf("room %s is already booked on %s", room, date),
			Errors:  conflicts,
		}
		return appErrors.Wrap(conflictErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflictErr.Message)
	}

	teacherIDs := make([]string, 0, len(panel))
	for _, member := range panel {
		teacherIDs = append(teacherIDs, member.TeacherID)
	}
	if busy, conflicts := ledger.teacherConflicts(date, interval, teacherIDs); len(busy) > 0 {
		conflictErr := &models.DefenseConflictError{
			Type:     "TEACHER",
			Message:  fmt.Sprintf("teachers already booked on %s: %v", date, busy),
			Teachers: busy,
			Errors:   conflicts,
		}
		return appErrors.Wrap(conflictErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflictErr.Message)
	}
	return nil
}

func (s *DefenseService) invalidatePlanning(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, planningCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate planning cache", zap.Error(err))
	}
}

func checkSupervisorMatch(project *models.Project, panel []models.DefensePanelMember) error {
	var declared string
	for _, member := range panel {
		if member.Role == models.RoleSupervisor {
			declared = member.TeacherID
		}
	}
	if project.SupervisorID == nil || *project.SupervisorID != declared {
		return appErrors.Clone(appErrors.ErrSupervisorMismatch, "")
	}
	return nil
}

func parseWindow(start, end string) (timeInterval, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return timeInterval{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	endMin, err := parseClock(end)
	if err != nil {
		return timeInterval{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if startMin >= endMin {
		return timeInterval{}, appErrors.Clone(appErrors.ErrValidation, "startTime must be before endTime")
	}
	return timeInterval{Start: startMin, End: endMin}, nil
}

func planningCacheKey(query dto.DefensePlanningQuery) string {
	published := "any"
	if query.Published != nil {
		published = fmt.Sprintf("%t", *query.Published)
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", planningCachePrefix, query.From, query.To, query.Room, published)
}
