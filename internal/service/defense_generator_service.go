package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

type plannerProjectLister interface {
	ListSupervised(ctx context.Context) ([]models.Project, error)
}

type plannerTeacherLister interface {
	ListActive(ctx context.Context) ([]models.Teacher, error)
}

type defenseStore interface {
	ListAll(ctx context.Context) ([]models.DefenseSession, error)
	DeleteAllWithTx(ctx context.Context, tx *sqlx.Tx) error
	BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.DefenseSession) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type plannerCache interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// GeneratorConfig tunes the slot grid and the per-teacher daily cap.
type GeneratorConfig struct {
	SlotStart   string
	SlotEnd     string
	SlotMinutes int
	DailyCap    int
}

// DefenseGeneratorService places every supervised project into the first
// feasible (date, slot, room) combination, committing a supervisor and a
// randomly picked reviewer per session. First fit, no re-ordering, no
// backtracking; projects it cannot place are reported, never fatal.
type DefenseGeneratorService struct {
	projects  plannerProjectLister
	teachers  plannerTeacherLister
	defenses  defenseStore
	tx        txProvider
	picker    ReviewerPicker
	cache     plannerCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GeneratorConfig

	// guard serializes generator runs and manual defense writes so two
	// passes cannot both see a slot as free.
	guard *sync.Mutex
}

// NewDefenseGeneratorService wires generator dependencies.
func NewDefenseGeneratorService(
	projects plannerProjectLister,
	teachers plannerTeacherLister,
	defenses defenseStore,
	tx txProvider,
	picker ReviewerPicker,
	cache plannerCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	guard *sync.Mutex,
	cfg GeneratorConfig,
) *DefenseGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if picker == nil {
		picker = NewRandReviewerPicker()
	}
	if guard == nil {
		guard = &sync.Mutex{}
	}
	if cfg.SlotStart == "" {
		cfg.SlotStart = "08:30"
	}
	if cfg.SlotEnd == "" {
		cfg.SlotEnd = "15:00"
	}
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = 30
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = 6
	}
	return &DefenseGeneratorService{
		projects:  projects,
		teachers:  teachers,
		defenses:  defenses,
		tx:        tx,
		picker:    picker,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		guard:     guard,
	}
}

// Generate runs the greedy placement pass and persists the whole batch
// in a single transaction.
func (s *DefenseGeneratorService) Generate(ctx context.Context, req dto.GenerateDefensesRequest) (*dto.GenerateDefensesResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}

	slotStart, err := parseClock(s.cfg.SlotStart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid slot window configuration")
	}
	slotEnd, err := parseClock(s.cfg.SlotEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invalid slot window configuration")
	}
	slots := buildSlots(slotStart, slotEnd, s.cfg.SlotMinutes)
	if len(slots) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInternal, "slot window yields no slots")
	}

	s.guard.Lock()
	defer s.guard.Unlock()

	projects, err := s.projects.ListSupervised(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load supervised projects")
	}
	if len(projects) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no supervised projects to schedule")
	}

	teachers, err := s.teachers.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher roster")
	}
	if len(teachers) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher roster is empty")
	}

	ledger := newDefenseLedger()
	alreadyScheduled := make(map[string]struct{})
	if !req.ReplaceExisting {
		existing, err := s.defenses.ListAll(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing defense sessions")
		}
		if err := ledger.seed(existing, ""); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "existing sessions carry invalid times")
		}
		for _, session := range existing {
			alreadyScheduled[session.ProjectID] = struct{}{}
		}
	}

	sessions := make([]models.DefenseSession, 0, len(projects))
	var unassigned []string
	skippedScheduled := 0

	for _, project := range projects {
		// A project keeps its committed session; only unscheduled
		// projects get a new one.
		if _, ok := alreadyScheduled[project.ID]; ok {
			skippedScheduled++
			continue
		}
		if project.SupervisorID == nil {
			unassigned = append(unassigned, project.ID)
			continue
		}
		session, ok := s.placeProject(project, *project.SupervisorID, teachers, req, slots, ledger)
		if !ok {
			unassigned = append(unassigned, project.ID)
			continue
		}
		sessions = append(sessions, session)
	}

	if err := s.persist(ctx, sessions, req.ReplaceExisting); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, planningCachePrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate planning cache", zap.Error(err))
		}
	}
	s.metrics.ObserveGeneration(len(sessions), len(unassigned))
	s.logger.Info("defense generation complete",
		zap.Int("placed", len(sessions)),
		zap.Int("unassigned", len(unassigned)),
		zap.Int("already_scheduled", skippedScheduled),
	)

	return &dto.GenerateDefensesResponse{
		Sessions:   sessions,
		Unassigned: unassigned,
		Stats: dto.GenerationStats{
			ProjectCount: len(projects),
			PlacedCount:  len(sessions),
			SkippedCount: len(unassigned),
		},
	}, nil
}

// placeProject walks dates, then slots, then rooms in the supplied order
// and commits the first feasible combination.
func (s *DefenseGeneratorService) placeProject(
	project models.Project,
	supervisorID string,
	teachers []models.Teacher,
	req dto.GenerateDefensesRequest,
	slots []timeInterval,
	ledger *defenseLedger,
) (models.DefenseSession, bool) {
	for _, date := range req.Dates {
		for _, slot := range slots {
			for _, room := range req.Rooms {
				if !ledger.roomFree(room, date, slot) {
					continue
				}
				if !ledger.teacherFree(supervisorID, date, slot) {
					continue
				}
				if ledger.dailyLoad(supervisorID, date) >= s.cfg.DailyCap {
					continue
				}

				eligible := eligibleReviewers(teachers, supervisorID, date, slot, ledger, s.cfg.DailyCap)
				if len(eligible) == 0 {
					continue
				}
				reviewer := eligible[s.picker.Pick(len(eligible))]

				session := models.DefenseSession{
					ID:        uuid.NewString(),
					ProjectID: project.ID,
					Room:      room,
					Date:      date,
					StartTime: slot.startClock(),
					EndTime:   slot.endClock(),
					Panel: []models.DefensePanelMember{
						{TeacherID: supervisorID, Role: models.RoleSupervisor},
						{TeacherID: reviewer, Role: models.RoleReviewer},
					},
				}
				ledger.commit(ledgerEntry{
					SessionID: session.ID,
					ProjectID: project.ID,
					Room:      room,
					Date:      date,
					Interval:  slot,
					Teachers:  []string{supervisorID, reviewer},
				})
				return session, true
			}
		}
	}
	return models.DefenseSession{}, false
}

func eligibleReviewers(teachers []models.Teacher, supervisorID, date string, slot timeInterval, ledger *defenseLedger, dailyCap int) []string {
	var eligible []string
	for _, teacher := range teachers {
		if teacher.ID == supervisorID {
			continue
		}
		if !ledger.teacherFree(teacher.ID, date, slot) {
			continue
		}
		if ledger.dailyLoad(teacher.ID, date) >= dailyCap {
			continue
		}
		eligible = append(eligible, teacher.ID)
	}
	return eligible
}

func (s *DefenseGeneratorService) persist(ctx context.Context, sessions []models.DefenseSession, replaceExisting bool) error {
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

	if replaceExisting {
		if err = s.defenses.DeleteAllWithTx(ctx, tx); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear existing defense sessions")
			return err
		}
	}
	if err = s.defenses.BulkCreateWithTx(ctx, tx, sessions); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist defense sessions")
		return err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit defense sessions")
		return err
	}
	return nil
}
