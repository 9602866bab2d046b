package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
)

type projectRepository interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int, error)
	FindByID(ctx context.Context, id string) (*models.Project, error)
	Create(ctx context.Context, project *models.Project) error
	UpdateStatus(ctx context.Context, id string, status models.ProjectStatus) error
	AssignSupervisor(ctx context.Context, id, teacherID string) error
}

type projectTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// ProjectService manages project submissions and their moderation workflow.
type ProjectService struct {
	repo      projectRepository
	teachers  projectTeacherReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProjectService wires project dependencies.
func NewProjectService(repo projectRepository, teachers projectTeacherReader, validate *validator.Validate, logger *zap.Logger) *ProjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectService{repo: repo, teachers: teachers, validator: validate, logger: logger}
}

// List returns projects matching the query with pagination metadata.
func (s *ProjectService) List(ctx context.Context, query dto.ProjectListQuery) ([]models.Project, *models.Pagination, error) {
	filter := models.ProjectFilter{
		Status:       query.Status,
		SupervisorID: query.SupervisorID,
		Search:       query.Search,
		Page:         query.Page,
		PageSize:     query.PageSize,
		SortBy:       query.SortBy,
		SortOrder:    query.SortOrder,
	}
	projects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list projects")
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return projects, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one project.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "project not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
	}
	return project, nil
}

// Create submits a new project in pending state.
func (s *ProjectService) Create(ctx context.Context, req dto.CreateProjectRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid project payload")
	}
	if models.ProjectMode(req.Mode) == models.ProjectModePair && req.PartnerID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pair projects require a partner")
	}
	project := &models.Project{
		Title:     req.Title,
		Mode:      models.ProjectMode(req.Mode),
		Status:    models.ProjectStatusPending,
		StudentID: req.StudentID,
		PartnerID: req.PartnerID,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create project")
	}
	return project, nil
}

// UpdateStatus moves a project through moderation.
func (s *ProjectService) UpdateStatus(ctx context.Context, id string, req dto.UpdateProjectStatusRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, models.ProjectStatus(req.Status)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update project status")
	}
	return s.Get(ctx, id)
}

// AssignSupervisor binds an active teacher to a project as supervisor.
func (s *ProjectService) AssignSupervisor(ctx context.Context, id string, req dto.AssignSupervisorRequest) (*models.Project, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid supervisor payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	teacher, err := s.teachers.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher %s not found", req.TeacherID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("teacher %s is not active", req.TeacherID))
	}
	if err := s.repo.AssignSupervisor(ctx, id, req.TeacherID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign supervisor")
	}
	return s.Get(ctx, id)
}
