package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidFile = errors.New("invalid file descriptor")

// FieldError reports a file descriptor that is missing or has a bad field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("wrong configuration: file %s %s", e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidFile
}

// File maps one source table to one destination document.
type File struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	TableID      string    `json:"tableId"`
	Type         FileType  `json:"type"`
	Operation    Operation `json:"operation"`
	RemoteID     string    `json:"googleId,omitempty"`
	SheetID      string    `json:"sheetId,omitempty"`
	TargetFolder string    `json:"targetFolder,omitempty"`

	// Set by the exporter for the duration of a run.
	Pathname string `json:"-"`
	Size     int64  `json:"-"`
}

// ApplyDefaults fills type and operation when they were left empty.
func (f *File) ApplyDefaults() {
	if f.Type == "" {
		f.Type = TypeFile
	}
	if f.Operation == "" {
		f.Operation = OperationUpdate
	}
}

func (f *File) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return &FieldError{Field: "id", Reason: "is missing"}
	}
	if strings.TrimSpace(f.Title) == "" {
		return &FieldError{Field: "title", Reason: "is missing"}
	}
	if strings.TrimSpace(f.TableID) == "" {
		return &FieldError{Field: "tableId", Reason: "is missing"}
	}
	if _, ok := ParseFileType(string(f.Type)); !ok {
		return &FieldError{Field: "type", Reason: fmt.Sprintf("%q is not supported", f.Type)}
	}
	if _, ok := ParseOperation(string(f.Operation)); !ok {
		return &FieldError{Field: "operation", Reason: fmt.Sprintf("%q is not supported", f.Operation)}
	}
	return nil
}

func (f *File) IsOperationCreate() bool { return f.Operation == OperationCreate }
func (f *File) IsOperationUpdate() bool { return f.Operation == OperationUpdate }

// ResetRemote forgets the remote identifiers so the next process call creates
// a new document.
func (f *File) ResetRemote() {
	f.RemoteID = ""
	f.SheetID = ""
}

// Snapshot returns a copy safe to attach to errors and log records.
func (f *File) Snapshot() File {
	return *f
}
