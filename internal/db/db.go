package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/table-to-drive-writer/internal/crypt"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
	"github.com/chmdznr/table-to-drive-writer/pkg/utils"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrFileNotFound    = errors.New("file not found")
	ErrFileExists      = errors.New("file already exists")
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// DB is the configuration store: accounts and their file descriptors.
type DB struct {
	*sql.DB
	driver string
	cipher *crypt.Cipher
}

// Open connects to the store named by dsn. postgres:// and postgresql://
// DSNs use Postgres; sqlite://path or a bare path use a SQLite file.
// Tokens are sealed with cipher before they are written.
func Open(dsn string, cipher *crypt.Cipher) (*DB, error) {
	driver, source := parseDSN(dsn)
	if source == "" {
		return nil, errors.New("database dsn is empty")
	}
	sqlDB, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if driver == driverSQLite {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{DB: sqlDB, driver: driver, cipher: cipher}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize %s store: %w", driver, err)
	}
	return db, nil
}

func parseDSN(dsn string) (driver, source string) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return driverPostgres, dsn
	case strings.HasPrefix(lower, "sqlite://"):
		return driverSQLite, dsn[len("sqlite://"):]
	default:
		return driverSQLite, dsn
	}
}

// Driver reports the database/sql driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			google_id TEXT NOT NULL DEFAULT '',
			google_name TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS files (
			account_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			table_id TEXT NOT NULL,
			type TEXT NOT NULL,
			operation TEXT NOT NULL,
			google_id TEXT NOT NULL DEFAULT '',
			sheet_id TEXT NOT NULL DEFAULT '',
			target_folder TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_files_position ON files(account_id, position);
	`)
	if err != nil || db.driver != driverSQLite {
		return err
	}
	_, err = db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA temp_store=MEMORY;
		PRAGMA busy_timeout=5000;
	`)
	return err
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) seal(creds models.Credentials) (access, refresh string, err error) {
	if db.cipher == nil {
		return creds.AccessToken, creds.RefreshToken, nil
	}
	if access, err = db.cipher.Encrypt(creds.AccessToken); err != nil {
		return "", "", err
	}
	if refresh, err = db.cipher.Encrypt(creds.RefreshToken); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (db *DB) open(value string) (string, error) {
	if db.cipher == nil || !crypt.IsEncrypted(value) {
		return value, nil
	}
	return db.cipher.Decrypt(value)
}

// CreateAccount stores a new account. An empty id is derived from the name.
func (db *DB) CreateAccount(account *models.Account) error {
	if account.ID == "" {
		account.ID = utils.IDFromName(account.Name)
	}
	if account.ID == "" {
		return errors.New("account id cannot be derived from an empty name")
	}
	if account.Name == "" {
		account.Name = account.ID
	}

	var exists int
	err := db.QueryRow(db.rebind(`SELECT COUNT(*) FROM accounts WHERE id = ?`), account.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.ID)
	}
	return db.SaveAccount(account)
}

// GetAccount retrieves an account and its files by id
func (db *DB) GetAccount(id string) (*models.Account, error) {
	var account models.Account
	var access, refresh string
	err := db.QueryRow(db.rebind(`
		SELECT id, name, description, email, google_id, google_name, access_token, refresh_token
		FROM accounts WHERE id = ?
	`), id).Scan(
		&account.ID,
		&account.Name,
		&account.Description,
		&account.Email,
		&account.GoogleID,
		&account.GoogleName,
		&access,
		&refresh,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if account.AccessToken, err = db.open(access); err != nil {
		return nil, fmt.Errorf("account %s access token: %w", id, err)
	}
	if account.RefreshToken, err = db.open(refresh); err != nil {
		return nil, fmt.Errorf("account %s refresh token: %w", id, err)
	}

	files, err := db.listFiles(id)
	if err != nil {
		return nil, err
	}
	account.Files = files
	return &account, nil
}

// ListAccounts returns every account ordered by id.
func (db *DB) ListAccounts() ([]*models.Account, error) {
	rows, err := db.Query(`SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	accounts := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		account, err := db.GetAccount(id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// RemoveAccount deletes an account and all of its files.
func (db *DB) RemoveAccount(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(db.rebind(`DELETE FROM files WHERE account_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.Exec(db.rebind(`DELETE FROM accounts WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return tx.Commit()
}

// SaveAccount upserts the account row and every file it holds in a single
// transaction. Files are stored in slice order.
func (db *DB) SaveAccount(account *models.Account) error {
	access, refresh, err := db.seal(account.Credentials())
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(db.rebind(`
		INSERT INTO accounts (id, name, description, email, google_id, google_name, access_token, refresh_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			email = excluded.email,
			google_id = excluded.google_id,
			google_name = excluded.google_name,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
	`),
		account.ID,
		account.Name,
		account.Description,
		account.Email,
		account.GoogleID,
		account.GoogleName,
		access,
		refresh,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	for i, file := range account.Files {
		if err := db.upsertFile(tx, account.ID, file, i); err != nil {
			return fmt.Errorf("save file %s: %w", file.ID, err)
		}
	}
	return tx.Commit()
}

// SaveTokens replaces the stored credential pair of an account.
func (db *DB) SaveTokens(accountID string, creds models.Credentials) error {
	access, refresh, err := db.seal(creds)
	if err != nil {
		return err
	}
	res, err := db.Exec(db.rebind(`
		UPDATE accounts SET access_token = ?, refresh_token = ?, updated_at = ?
		WHERE id = ?
	`), access, refresh, time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return nil
}

// AddFile appends a validated file descriptor to an account.
func (db *DB) AddFile(accountID string, file *models.File) error {
	file.ApplyDefaults()
	if err := file.Validate(); err != nil {
		return err
	}

	var accounts, files int
	var position sql.NullInt64
	err := db.QueryRow(db.rebind(`SELECT COUNT(*) FROM accounts WHERE id = ?`), accountID).Scan(&accounts)
	if err != nil {
		return err
	}
	if accounts == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	err = db.QueryRow(db.rebind(`
		SELECT COUNT(CASE WHEN id = ? THEN 1 END), MAX(position)
		FROM files WHERE account_id = ?
	`), file.ID, accountID).Scan(&files, &position)
	if err != nil {
		return err
	}
	if files > 0 {
		return fmt.Errorf("%w: %s/%s", ErrFileExists, accountID, file.ID)
	}
	next := 0
	if position.Valid {
		next = int(position.Int64) + 1
	}
	return db.upsertFile(db.DB, accountID, file, next)
}

// SaveFile persists the mutable fields of an existing file descriptor.
func (db *DB) SaveFile(accountID string, file *models.File) error {
	res, err := db.Exec(db.rebind(`
		UPDATE files
		SET title = ?, table_id = ?, type = ?, operation = ?, google_id = ?, sheet_id = ?, target_folder = ?
		WHERE account_id = ? AND id = ?
	`),
		file.Title,
		file.TableID,
		string(file.Type),
		string(file.Operation),
		file.RemoteID,
		file.SheetID,
		file.TargetFolder,
		accountID,
		file.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrFileNotFound, accountID, file.ID)
	}
	return nil
}

func (db *DB) RemoveFile(accountID, fileID string) error {
	res, err := db.Exec(db.rebind(`DELETE FROM files WHERE account_id = ? AND id = ?`), accountID, fileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrFileNotFound, accountID, fileID)
	}
	return nil
}

func (db *DB) upsertFile(x execer, accountID string, file *models.File, position int) error {
	_, err := x.Exec(db.rebind(`
		INSERT INTO files (account_id, id, title, table_id, type, operation, google_id, sheet_id, target_folder, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, id) DO UPDATE SET
			title = excluded.title,
			table_id = excluded.table_id,
			type = excluded.type,
			operation = excluded.operation,
			google_id = excluded.google_id,
			sheet_id = excluded.sheet_id,
			target_folder = excluded.target_folder,
			position = excluded.position
	`),
		accountID,
		file.ID,
		file.Title,
		file.TableID,
		string(file.Type),
		string(file.Operation),
		file.RemoteID,
		file.SheetID,
		file.TargetFolder,
		position,
	)
	return err
}

func (db *DB) listFiles(accountID string) ([]*models.File, error) {
	rows, err := db.Query(db.rebind(`
		SELECT id, title, table_id, type, operation, google_id, sheet_id, target_folder
		FROM files
		WHERE account_id = ?
		ORDER BY position, id
	`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		var file models.File
		var fileType, operation string
		err = rows.Scan(
			&file.ID,
			&file.Title,
			&file.TableID,
			&fileType,
			&operation,
			&file.RemoteID,
			&file.SheetID,
			&file.TargetFolder,
		)
		if err != nil {
			return nil, err
		}
		file.Type = models.FileType(fileType)
		file.Operation = models.Operation(operation)
		files = append(files, &file)
	}
	return files, rows.Err()
}

// GetStats summarizes the files of one account, or of every account when
// accountID is empty.
func (db *DB) GetStats(accountID string) (*models.Stats, error) {
	query := `
		SELECT
			COUNT(*) as total_files,
			COUNT(CASE WHEN type = 'sheet' THEN 1 END) as sheet_files,
			COUNT(CASE WHEN type = 'file' THEN 1 END) as plain_files,
			COUNT(CASE WHEN google_id <> '' THEN 1 END) as synced_files,
			COUNT(CASE WHEN google_id = '' THEN 1 END) as pending_files
		FROM files`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}

	var stats models.Stats
	err := db.QueryRow(db.rebind(query), args...).Scan(
		&stats.TotalFiles,
		&stats.SheetFiles,
		&stats.PlainFiles,
		&stats.SyncedFiles,
		&stats.PendingFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %v", err)
	}
	return &stats, nil
}
