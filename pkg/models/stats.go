package models

// Stats summarizes the configured files of an account.
type Stats struct {
	TotalFiles   int64
	SheetFiles   int64
	PlainFiles   int64
	SyncedFiles  int64
	PendingFiles int64
}
