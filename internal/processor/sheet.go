package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/chmdznr/table-to-drive-writer/internal/gdrive"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// SheetProcessor writes the exported CSV into a spreadsheet worksheet.
type SheetProcessor struct {
	api    API
	logger *slog.Logger
}

func (p *SheetProcessor) Process(ctx context.Context, file *models.File) (Result, error) {
	switch {
	case needsCreate(file):
		return p.create(ctx, file)
	case file.IsOperationUpdate() && file.SheetID == "":
		return p.addWorksheet(ctx, file)
	case file.IsOperationUpdate():
		return p.update(ctx, file)
	default:
		return Result{}, fmt.Errorf("sheet %s: %w", file.ID, ErrAppendUnsupported)
	}
}

func (p *SheetProcessor) create(ctx context.Context, file *models.File) (Result, error) {
	created, err := p.api.InsertFile(ctx, file)
	if err != nil {
		return Result{}, err
	}
	sheets, err := p.api.GetWorksheets(ctx, created.Id)
	if err != nil {
		return Result{}, err
	}
	sheet, err := firstWorksheet(sheets)
	if err != nil {
		return Result{}, fmt.Errorf("spreadsheet %s: %w", created.Id, err)
	}

	file.RemoteID = created.Id
	file.SheetID = sheet.WSID
	p.logger.Info("sheet created", fileAttrs(file))
	return Result{Action: ActionCreated}, nil
}

func (p *SheetProcessor) addWorksheet(ctx context.Context, file *models.File) (Result, error) {
	entry, err := p.api.CreateWorksheet(ctx, file)
	if err != nil {
		return Result{}, err
	}
	wsid, err := gdrive.WorksheetIDFromEntry(entry)
	if err != nil {
		return Result{}, err
	}
	file.SheetID = wsid
	p.logger.Info("sheet created in existing file", fileAttrs(file))
	return Result{Action: ActionWorksheetCreated}, nil
}

func (p *SheetProcessor) update(ctx context.Context, file *models.File) (Result, error) {
	if err := p.api.UpdateWorksheet(ctx, file); err != nil {
		return Result{}, sheetUpdateError(err)
	}
	p.logger.Debug("worksheet metadata updated", fileAttrs(file))

	start := time.Now()
	status, err := p.api.UpdateCells(ctx, file)
	if err != nil {
		return Result{}, sheetUpdateError(err)
	}
	if len(status.Errors) > 0 {
		p.logger.Warn("some cells might not be imported properly",
			fileAttrs(file), "errors", len(status.Errors), "first", status.Errors[0].Reason)
	}
	p.logger.Debug("cells updated", fileAttrs(file),
		"batches", status.Batches, "rows", status.Rows, "duration", time.Since(start))
	p.logger.Info("sheet updated", fileAttrs(file))
	return Result{Action: ActionUpdated, CellErrors: status.Errors}, nil
}

func sheetUpdateError(err error) error {
	var apiErr *gdrive.Error
	if gdrive.IsServerError(err) && errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %d %s: %w", ErrServerUnavailable, apiErr.StatusCode, apiErr.Reason, err)
	}
	return fmt.Errorf("cells update failed: %w", err)
}

// firstWorksheet picks the worksheet of a freshly created spreadsheet. A new
// spreadsheet holds exactly one; should there be more, the lowest gid wins.
func firstWorksheet(sheets map[string]gdrive.Worksheet) (gdrive.Worksheet, error) {
	if len(sheets) == 0 {
		return gdrive.Worksheet{}, ErrNoWorksheet
	}
	keys := make([]string, 0, len(sheets))
	for key := range sheets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return sheets[keys[0]], nil
}
