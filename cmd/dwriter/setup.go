package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/table-to-drive-writer/internal/config"
	"github.com/chmdznr/table-to-drive-writer/internal/db"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Log.Format)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// newFile builds a validated descriptor. An empty id gets a random one.
func newFile(id, title, table, fileType, operation, folder string) (*models.File, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	file := &models.File{
		ID:           strings.TrimSpace(id),
		Title:        strings.TrimSpace(title),
		TableID:      strings.TrimSpace(table),
		Type:         models.FileType(strings.ToLower(strings.TrimSpace(fileType))),
		Operation:    models.Operation(strings.ToLower(strings.TrimSpace(operation))),
		TargetFolder: strings.TrimSpace(folder),
	}
	file.ApplyDefaults()
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

var csvColumns = map[string]string{
	"id":            "id",
	"title":         "title",
	"tableid":       "table",
	"table_id":      "table",
	"table":         "table",
	"type":          "type",
	"operation":     "operation",
	"targetfolder":  "folder",
	"target_folder": "folder",
	"folder":        "folder",
}

// readDescriptors parses a CSV of file descriptors. The header row names the
// columns; title and table are required, the rest may be omitted.
func readDescriptors(r io.Reader) ([]*models.File, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV header: %v", err)
	}
	index := map[string]int{}
	for i, name := range header {
		if field, ok := csvColumns[strings.ToLower(strings.TrimSpace(name))]; ok {
			index[field] = i
		}
	}
	for _, required := range []string{"title", "table"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("CSV header has no %s column", required)
		}
	}

	var files []*models.File
	for lineNum := 2; ; lineNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV line %d: %v", lineNum, err)
		}
		get := func(field string) string {
			i, ok := index[field]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		file, err := newFile(get("id"), get("title"), get("table"), get("type"), get("operation"), get("folder"))
		if err != nil {
			return nil, fmt.Errorf("invalid descriptor at line %d: %w", lineNum, err)
		}
		files = append(files, file)
	}
	return files, nil
}

// importCSV adds every descriptor of a CSV file to an account. Descriptors
// are validated before any is stored.
func importCSV(c *cli.Context) error {
	f, err := os.Open(c.String("csv"))
	if err != nil {
		return fmt.Errorf("error opening CSV file: %v", err)
	}
	defer f.Close()

	files, err := readDescriptors(f)
	if err != nil {
		return err
	}

	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	accountID := c.String("account")
	added, skipped := 0, 0
	for _, file := range files {
		if err := e.store.AddFile(accountID, file); err != nil {
			if errors.Is(err, db.ErrFileExists) {
				e.logger.Warn("file already configured, skipped", "file", file.ID)
				skipped++
				continue
			}
			return fmt.Errorf("error adding file %s: %w", file.ID, err)
		}
		added++
	}

	fmt.Printf("\nImport Summary:\n")
	fmt.Printf("- Files added: %d\n", added)
	fmt.Printf("- Files skipped: %d\n", skipped)
	return nil
}
