package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chmdznr/table-to-drive-writer/internal/crypt"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

func openTestDB(t *testing.T, cipher *crypt.Cipher) *DB {
	t.Helper()
	db, err := Open("sqlite://"+filepath.Join(t.TempDir(), "dwriter.db"), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		driver string
		source string
	}{
		{"sqlite:///var/lib/dwriter.db", "sqlite3", "/var/lib/dwriter.db"},
		{"dwriter.db", "sqlite3", "dwriter.db"},
		{"postgres://u:p@localhost/dwriter?sslmode=disable", "postgres", "postgres://u:p@localhost/dwriter?sslmode=disable"},
		{"PostgreSQL://h/db", "postgres", "PostgreSQL://h/db"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, source := parseDSN(tt.dsn)
			require.Equal(t, tt.driver, driver)
			require.Equal(t, tt.source, source)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: driverPostgres}
	require.Equal(t, "SELECT * FROM files WHERE account_id = $1 AND id = $2", pg.rebind("SELECT * FROM files WHERE account_id = ? AND id = ?"))

	lite := &DB{driver: driverSQLite}
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestAccountLifecycle(t *testing.T) {
	cipher, err := crypt.New("key")
	require.NoError(t, err)
	db := openTestDB(t, cipher)

	account := &models.Account{Name: "Sales Team!", Email: "sales@example.com", AccessToken: "at", RefreshToken: "rt"}
	require.NoError(t, db.CreateAccount(account))
	require.Equal(t, "salesteam", account.ID)

	err = db.CreateAccount(&models.Account{Name: "salesteam"})
	require.ErrorIs(t, err, ErrAccountExists)

	var stored string
	require.NoError(t, db.QueryRow(`SELECT refresh_token FROM accounts WHERE id = ?`, "salesteam").Scan(&stored))
	require.True(t, crypt.IsEncrypted(stored))

	got, err := db.GetAccount("salesteam")
	require.NoError(t, err)
	require.Equal(t, "Sales Team!", got.Name)
	require.Equal(t, "sales@example.com", got.Email)
	require.Equal(t, models.Credentials{AccessToken: "at", RefreshToken: "rt"}, got.Credentials())

	require.NoError(t, db.SaveTokens("salesteam", models.Credentials{AccessToken: "at2", RefreshToken: "rt2"}))
	got, err = db.GetAccount("salesteam")
	require.NoError(t, err)
	require.Equal(t, "at2", got.AccessToken)
	require.Equal(t, "rt2", got.RefreshToken)

	require.ErrorIs(t, db.SaveTokens("nobody", models.Credentials{}), ErrAccountNotFound)

	require.NoError(t, db.RemoveAccount("salesteam"))
	_, err = db.GetAccount("salesteam")
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.ErrorIs(t, db.RemoveAccount("salesteam"), ErrAccountNotFound)
}

func TestFilesKeepOrderAndIdentifiers(t *testing.T) {
	db := openTestDB(t, nil)
	require.NoError(t, db.CreateAccount(&models.Account{ID: "acct1", Name: "acct1"}))

	require.NoError(t, db.AddFile("acct1", &models.File{ID: "b", Title: "B", TableID: "in.c-main.b"}))
	require.NoError(t, db.AddFile("acct1", &models.File{ID: "a", Title: "A", TableID: "in.c-main.a", Type: models.TypeSheet}))

	err := db.AddFile("acct1", &models.File{ID: "a", Title: "A", TableID: "x"})
	require.ErrorIs(t, err, ErrFileExists)
	err = db.AddFile("acct1", &models.File{ID: "c", TableID: "x"})
	require.ErrorIs(t, err, models.ErrInvalidFile)
	err = db.AddFile("missing", &models.File{ID: "c", Title: "C", TableID: "x"})
	require.ErrorIs(t, err, ErrAccountNotFound)

	account, err := db.GetAccount("acct1")
	require.NoError(t, err)
	require.Len(t, account.Files, 2)
	require.Equal(t, "b", account.Files[0].ID)
	require.Equal(t, models.TypeFile, account.Files[0].Type)
	require.Equal(t, models.OperationUpdate, account.Files[0].Operation)

	sheet := account.File("a")
	sheet.RemoteID = "doc1"
	sheet.SheetID = "od6"
	require.NoError(t, db.SaveFile("acct1", sheet))
	require.ErrorIs(t, db.SaveFile("acct1", &models.File{ID: "zzz"}), ErrFileNotFound)

	stats, err := db.GetStats("acct1")
	require.NoError(t, err)
	require.Equal(t, models.Stats{TotalFiles: 2, SheetFiles: 1, PlainFiles: 1, SyncedFiles: 1, PendingFiles: 1}, *stats)

	require.NoError(t, db.RemoveFile("acct1", "b"))
	require.ErrorIs(t, db.RemoveFile("acct1", "b"), ErrFileNotFound)

	account, err = db.GetAccount("acct1")
	require.NoError(t, err)
	require.Len(t, account.Files, 1)
	require.Equal(t, "doc1", account.Files[0].RemoteID)
	require.Equal(t, "od6", account.Files[0].SheetID)
}

func TestSaveAccountUpsertsFiles(t *testing.T) {
	db := openTestDB(t, nil)
	account := &models.Account{ID: "acct1", Name: "acct1", Files: []*models.File{
		{ID: "f1", Title: "One", TableID: "t1", Type: models.TypeFile, Operation: models.OperationUpdate},
	}}
	require.NoError(t, db.CreateAccount(account))

	account.Files[0].RemoteID = "r1"
	account.Files = append(account.Files, &models.File{ID: "f2", Title: "Two", TableID: "t2", Type: models.TypeSheet, Operation: models.OperationCreate})
	account.Description = "nightly"
	require.NoError(t, db.SaveAccount(account))

	accounts, err := db.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "nightly", accounts[0].Description)
	require.Len(t, accounts[0].Files, 2)
	require.Equal(t, "r1", accounts[0].Files[0].RemoteID)
	require.Equal(t, models.OperationCreate, accounts[0].Files[1].Operation)

	all, err := db.GetStats("")
	require.NoError(t, err)
	require.Equal(t, int64(2), all.TotalFiles)
}
