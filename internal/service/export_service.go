package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pfe-hub/pfe-planner-api/internal/dto"
	"github.com/pfe-hub/pfe-planner-api/internal/models"
	appErrors "github.com/pfe-hub/pfe-planner-api/pkg/errors"
	"github.com/pfe-hub/pfe-planner-api/pkg/export"
	"github.com/pfe-hub/pfe-planner-api/pkg/storage"
)

type exportDefenseLister interface {
	List(ctx context.Context, filter models.DefenseFilter) ([]models.DefenseSession, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes stored export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful stored-export metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders the defense planning as a downloadable handout,
// either inline or as a stored file behind a signed URL.
type ExportService struct {
	defenses exportDefenseLister
	projects defenseProjectReader
	teachers plannerTeacherLister
	store    fileStorage
	signer   *storage.SignedURLSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService wires exporter dependencies. Store and signer may be
// nil when only inline downloads are served.
func NewExportService(defenses exportDefenseLister, projects defenseProjectReader, teachers plannerTeacherLister, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		defenses: defenses,
		projects: projects,
		teachers: teachers,
		store:    store,
		signer:   signer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		cfg:      cfg,
	}
}

var planningHeaders = []string{"Time", "Room", "Project", "Supervisor", "Reviewer", "President"}

// ExportPlanning renders sessions matching the query as CSV or PDF and
// returns the payload with its content type.
func (s *ExportService) ExportPlanning(ctx context.Context, query dto.DefensePlanningQuery, format string) ([]byte, string, error) {
	if format != "csv" && format != "pdf" {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	sessions, err := s.defenses.List(ctx, models.DefenseFilter{
		From:      query.From,
		To:        query.To,
		Room:      query.Room,
		Published: query.Published,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list defense sessions")
	}

	teacherNames, err := s.teacherNames(ctx)
	if err != nil {
		return nil, "", err
	}

	byDate := make(map[string][]models.DefenseSession)
	for _, session := range sessions {
		byDate[session.Date] = append(byDate[session.Date], session)
	}
	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	projectTitles := make(map[string]string)

	if format == "csv" {
		dataset := export.Dataset{Headers: append([]string{"Date"}, planningHeaders...)}
		for _, date := range dates {
			for _, session := range byDate[date] {
				row, err := s.planningRow(ctx, session, teacherNames, projectTitles)
				if err != nil {
					return nil, "", err
				}
				row["Date"] = date
				dataset.Rows = append(dataset.Rows, row)
			}
		}
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render planning csv")
		}
		return payload, "text/csv", nil
	}

	sections := make([]export.Section, 0, len(dates))
	for _, date := range dates {
		section := export.Section{Heading: date, Data: export.Dataset{Headers: planningHeaders}}
		for _, session := range byDate[date] {
			row, err := s.planningRow(ctx, session, teacherNames, projectTitles)
			if err != nil {
				return nil, "", err
			}
			section.Data.Rows = append(section.Data.Rows, row)
		}
		sections = append(sections, section)
	}
	if len(sections) == 0 {
		sections = append(sections, export.Section{Data: export.Dataset{Headers: planningHeaders}})
	}
	payload, err := s.pdf.RenderSections(sections, "Defense Planning")
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render planning pdf")
	}
	return payload, "application/pdf", nil
}

func (s *ExportService) planningRow(ctx context.Context, session models.DefenseSession, teacherNames, projectTitles map[string]string) (map[string]string, error) {
	title, ok := projectTitles[session.ProjectID]
	if !ok {
		project, err := s.projects.FindByID(ctx, session.ProjectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				title = session.ProjectID
			} else {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load project")
			}
		} else {
			title = project.Title
		}
		projectTitles[session.ProjectID] = title
	}

	row := map[string]string{
		"Time":    fmt.Sprintf("%s-%s", session.StartTime, session.EndTime),
		"Room":    session.Room,
		"Project": title,
	}
	for _, member := range session.Panel {
		name := teacherNames[member.TeacherID]
		if name == "" {
			name = member.TeacherID
		}
		switch member.Role {
		case models.RoleSupervisor:
			row["Supervisor"] = name
		case models.RoleReviewer:
			row["Reviewer"] = name
		case models.RolePresident:
			row["President"] = name
		}
	}
	return row, nil
}

// Generate renders the planning described by the job and stores the
// file behind a signed download token.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	if s.store == nil || s.signer == nil {
		return nil, fmt.Errorf("export storage not configured")
	}

	payload, _, err := s.ExportPlanning(ctx, dto.DefensePlanningQuery{
		From:      job.Params.From,
		To:        job.Params.To,
		Room:      job.Params.Room,
		Published: job.Params.Published,
	}, string(job.Params.Format))
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("planning_%s.%s", time.Now().UTC().Format("20060102_150405"), job.Params.Format)
	relPath, err := s.store.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	if s.signer == nil {
		return "", "", time.Time{}, fmt.Errorf("export storage not configured")
	}
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.store.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.store.Delete(relPath)
}

// Cleanup removes files older than ttl, defaulting to the configured
// result TTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.store.CleanupOlderThan(ttl)
}

func (s *ExportService) teacherNames(ctx context.Context) (map[string]string, error) {
	teachers, err := s.teachers.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher roster")
	}
	names := make(map[string]string, len(teachers))
	for _, teacher := range teachers {
		names[teacher.ID] = teacher.FullName
	}
	return names, nil
}
