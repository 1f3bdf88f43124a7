package processor

import (
	"context"
	"log/slog"

	"github.com/chmdznr/table-to-drive-writer/internal/gdrive"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// FileProcessor uploads the exported CSV as an opaque file.
type FileProcessor struct {
	api    API
	logger *slog.Logger
}

func (p *FileProcessor) Process(ctx context.Context, file *models.File) (Result, error) {
	if needsCreate(file) {
		created, err := p.api.InsertFile(ctx, file)
		if err != nil {
			return Result{}, err
		}
		file.RemoteID = created.Id
		p.logger.Info("file created", fileAttrs(file))
		return Result{Action: ActionCreated}, nil
	}

	_, err := p.api.UpdateFile(ctx, file)
	if err == nil {
		p.logger.Info("file updated", fileAttrs(file))
		return Result{Action: ActionUpdated}, nil
	}
	if !gdrive.IsNotFound(err) {
		return Result{}, err
	}

	created, err := p.api.InsertFile(ctx, file)
	if err != nil {
		return Result{}, err
	}
	file.RemoteID = created.Id
	p.logger.Warn("file not found, created a new one", fileAttrs(file))
	return Result{Action: ActionRecreated}, nil
}
