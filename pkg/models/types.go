package models

import "strings"

// FileType is the kind of remote document a table is written to.
type FileType string

const (
	TypeFile  FileType = "file"
	TypeSheet FileType = "sheet"
)

// Operation selects how an existing remote document is treated on the next run.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationAppend Operation = "append"
)

func ParseFileType(s string) (FileType, bool) {
	switch FileType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeFile:
		return TypeFile, true
	case TypeSheet:
		return TypeSheet, true
	}
	return FileType(s), false
}

func ParseOperation(s string) (Operation, bool) {
	switch Operation(strings.ToLower(strings.TrimSpace(s))) {
	case OperationCreate:
		return OperationCreate, true
	case OperationUpdate:
		return OperationUpdate, true
	case OperationAppend:
		return OperationAppend, true
	}
	return Operation(s), false
}

// Credentials is the OAuth token pair used against the document service.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Account is one configured sync target
type Account struct {
	ID           string
	Name         string
	Description  string
	Email        string
	GoogleID     string
	GoogleName   string
	AccessToken  string
	RefreshToken string
	Files        []*File
}

func (a *Account) Credentials() Credentials {
	return Credentials{AccessToken: a.AccessToken, RefreshToken: a.RefreshToken}
}

func (a *Account) SetCredentials(c Credentials) {
	a.AccessToken = c.AccessToken
	a.RefreshToken = c.RefreshToken
}

// File returns the descriptor with the given local id, or nil.
func (a *Account) File(id string) *File {
	for _, f := range a.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// BatchStatus is the outcome of one entry in a cell batch update.
type BatchStatus struct {
	Reason   string `json:"reason"`
	Code     int    `json:"code,omitempty"`
	FirstRow int    `json:"firstRow,omitempty"`
	LastRow  int    `json:"lastRow,omitempty"`
}

func (s BatchStatus) Success() bool {
	return s.Reason == "Success"
}
