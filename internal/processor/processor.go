// Package processor decides, per file descriptor, whether the remote
// document is created or updated and drives the transport client through
// the matching call sequence.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/drive/v3"

	"github.com/chmdznr/table-to-drive-writer/internal/gdrive"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

var (
	ErrUnknownType       = errors.New("unknown file type")
	ErrAppendUnsupported = errors.New("append operation is not supported")
	ErrServerUnavailable = errors.New("document service error, please try again later")
	ErrNoWorksheet       = errors.New("spreadsheet has no worksheet")
)

// API is the part of the transport client the processors use.
type API interface {
	InsertFile(ctx context.Context, file *models.File) (*drive.File, error)
	UpdateFile(ctx context.Context, file *models.File) (*drive.File, error)
	GetWorksheets(ctx context.Context, fileID string) (map[string]gdrive.Worksheet, error)
	CreateWorksheet(ctx context.Context, file *models.File) ([]byte, error)
	UpdateWorksheet(ctx context.Context, file *models.File) error
	UpdateCells(ctx context.Context, file *models.File) (*gdrive.CellUpdateResult, error)
}

// Action names what a Process call did to the remote document.
type Action string

const (
	ActionCreated          Action = "created"
	ActionUpdated          Action = "updated"
	ActionRecreated        Action = "recreated"
	ActionWorksheetCreated Action = "worksheet created"
)

// Result describes one processed file. CellErrors holds the cell batch
// entries the service did not accept; they never fail the file.
type Result struct {
	Action     Action
	CellErrors []models.BatchStatus
}

// Processor brings one remote document in line with its exported table and
// records the resulting remote identifiers on file.
type Processor interface {
	Process(ctx context.Context, file *models.File) (Result, error)
}

// Set maps file types to their processors.
type Set struct {
	processors map[models.FileType]Processor
}

func NewSet(api API, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{processors: map[models.FileType]Processor{
		models.TypeFile:  &FileProcessor{api: api, logger: logger},
		models.TypeSheet: &SheetProcessor{api: api, logger: logger},
	}}
}

// For returns the processor of the given file type.
func (s *Set) For(t models.FileType) (Processor, error) {
	p, ok := s.processors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return p, nil
}

// Process dispatches file to the processor of its type.
func (s *Set) Process(ctx context.Context, file *models.File) (Result, error) {
	p, err := s.For(file.Type)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, file)
}

func needsCreate(file *models.File) bool {
	return file.RemoteID == "" || file.IsOperationCreate()
}

func fileAttrs(file *models.File) slog.Attr {
	return slog.Group("file",
		"id", file.ID,
		"title", file.Title,
		"type", string(file.Type),
		"googleId", file.RemoteID,
		"sheetId", file.SheetID,
	)
}
