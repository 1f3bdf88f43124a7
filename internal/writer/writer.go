package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"google.golang.org/api/drive/v3"

	"github.com/chmdznr/table-to-drive-writer/internal/export"
	"github.com/chmdznr/table-to-drive-writer/internal/gdrive"
	"github.com/chmdznr/table-to-drive-writer/internal/processor"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// Store is the configuration store the writer reads accounts from and
// writes remote identifiers and refreshed tokens back to.
type Store interface {
	GetAccount(id string) (*models.Account, error)
	ListAccounts() ([]*models.Account, error)
	SaveAccount(account *models.Account) error
	SaveTokens(accountID string, creds models.Credentials) error
	SaveFile(accountID string, file *models.File) error
}

// API is the transport client surface used for one account.
type API interface {
	processor.API
	GetFile(ctx context.Context, id string) (*drive.File, error)
}

// ClientFactory builds a transport client bound to one account. onRefresh
// must be invoked with every refreshed credential pair.
type ClientFactory func(account *models.Account, onRefresh gdrive.RefreshCallback) API

// Config holds configuration for the writer
type Config struct {
	TempDir  string
	Progress bool
	Logger   *slog.Logger
}

// Writer runs the configured files of one or all accounts, strictly one
// account and one file at a time.
type Writer struct {
	store     Store
	exporter  export.Exporter
	newClient ClientFactory
	tempDir   string
	progress  bool
	logger    *slog.Logger
}

func New(store Store, exporter export.Exporter, newClient ClientFactory, cfg *Config) *Writer {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{
		store:     store,
		exporter:  exporter,
		newClient: newClient,
		tempDir:   cfg.TempDir,
		progress:  cfg.Progress,
		logger:    logger,
	}
}

// FileError is a fatal failure while processing one file. It stops the
// account and the run.
type FileError struct {
	AccountID string
	File      models.File
	Err       error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("account %s, file %s (%s): %v", e.AccountID, e.File.ID, e.File.Title, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

const StatusOK = "ok"

// FileResult is the outcome of one processed file.
type FileResult struct {
	AccountID  string               `json:"accountId"`
	FileID     string               `json:"fileId"`
	Title      string               `json:"title"`
	Status     string               `json:"status"`
	Action     processor.Action     `json:"action"`
	RemoteID   string               `json:"googleId"`
	SheetID    string               `json:"sheetId,omitempty"`
	Size       int64                `json:"size"`
	Duration   time.Duration        `json:"duration"`
	CellErrors []models.BatchStatus `json:"cellErrors,omitempty"`
}

// Report lists every file processed by a run, in processing order.
type Report struct {
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Files    []FileResult `json:"files"`
}

// TotalSize sums the exported bytes of every processed file.
func (r *Report) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += f.Size
	}
	return total
}

// Run processes every file of accountID, or of every account when
// accountID is empty. The report covers the files completed before any
// error.
func (w *Writer) Run(ctx context.Context, accountID string) (*Report, error) {
	report := &Report{Started: time.Now()}

	var accounts []*models.Account
	if accountID != "" {
		account, err := w.store.GetAccount(accountID)
		if err != nil {
			return report, err
		}
		accounts = []*models.Account{account}
	} else {
		var err error
		if accounts, err = w.store.ListAccounts(); err != nil {
			return report, err
		}
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := w.runAccount(ctx, account, report); err != nil {
			return report, err
		}
	}
	report.Finished = time.Now()
	return report, nil
}

func (w *Writer) runAccount(ctx context.Context, account *models.Account, report *Report) error {
	logger := w.logger.With("account", account.ID)
	client := w.newClient(account, func(ctx context.Context, creds models.Credentials) error {
		account.SetCredentials(creds)
		return w.store.SaveTokens(account.ID, creds)
	})
	processors := processor.NewSet(client, logger)

	logger.Info("processing account", "files", len(account.Files))
	for _, file := range account.Files {
		result, err := w.runFile(ctx, client, processors, account.ID, file, logger)
		if err != nil {
			return &FileError{AccountID: account.ID, File: file.Snapshot(), Err: err}
		}
		report.Files = append(report.Files, result)
	}

	if err := w.store.SaveAccount(account); err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	return nil
}

// runFile exports, reconciles and processes one file. It works on a copy
// of the descriptor; file is updated and persisted only on success, so a
// failed or cancelled file keeps its previous identifiers.
func (w *Writer) runFile(ctx context.Context, client API, processors *processor.Set, accountID string, file *models.File, logger *slog.Logger) (FileResult, error) {
	start := time.Now()
	work := file.Snapshot()
	if err := work.Validate(); err != nil {
		return FileResult{}, err
	}

	tmp, err := os.CreateTemp(w.tempDir, "dwriter-*.csv")
	if err != nil {
		return FileResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	size, err := w.exporter.Export(ctx, work.TableID, tmp.Name())
	if err != nil {
		return FileResult{}, fmt.Errorf("export table %s: %w", work.TableID, err)
	}
	work.Pathname, work.Size = tmp.Name(), size

	if work.IsOperationCreate() {
		work.ResetRemote()
	} else if work.RemoteID != "" {
		if err := w.checkRemote(ctx, client, &work, logger); err != nil {
			return FileResult{}, err
		}
	}

	pctx := ctx
	if w.progress && size > 0 {
		bar := newUploadBar(&work)
		bar.Start()
		defer bar.Finish()
		pctx = gdrive.WithProgress(ctx, func(n int64) { bar.Add64(n) })
	}

	result, err := processors.Process(pctx, &work)
	if err != nil {
		return FileResult{}, err
	}

	work.Pathname, work.Size = "", 0
	if err := w.store.SaveFile(accountID, &work); err != nil {
		return FileResult{}, fmt.Errorf("save file: %w", err)
	}
	*file = work

	return FileResult{
		AccountID:  accountID,
		FileID:     work.ID,
		Title:      work.Title,
		Status:     StatusOK,
		Action:     result.Action,
		RemoteID:   work.RemoteID,
		SheetID:    work.SheetID,
		Size:       size,
		Duration:   time.Since(start),
		CellErrors: result.CellErrors,
	}, nil
}

// checkRemote forgets the remote identifiers of a document that was
// deleted or trashed, so the processor creates a new one.
func (w *Writer) checkRemote(ctx context.Context, client API, file *models.File, logger *slog.Logger) error {
	remote, err := client.GetFile(ctx, file.RemoteID)
	switch {
	case gdrive.IsNotFound(err):
		logger.Warn("remote document not found, it will be created again", "file", file.ID, "googleId", file.RemoteID)
		file.ResetRemote()
	case err != nil:
		return fmt.Errorf("check remote document %s: %w", file.RemoteID, err)
	case remote.Trashed:
		logger.Warn("remote document is trashed, it will be created again", "file", file.ID, "googleId", file.RemoteID)
		file.ResetRemote()
	}
	return nil
}

func newUploadBar(file *models.File) *pb.ProgressBar {
	bar := pb.New64(file.Size)
	bar.Set(pb.Bytes, true)
	bar.SetTemplate(`{{string . "title"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Set("title", file.Title)
	return bar
}

// IsFileError reports whether err stopped a run on a specific file.
func IsFileError(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}
