package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/table-to-drive-writer/internal/config"
	"github.com/chmdznr/table-to-drive-writer/internal/crypt"
	"github.com/chmdznr/table-to-drive-writer/internal/db"
	"github.com/chmdznr/table-to-drive-writer/internal/export"
	"github.com/chmdznr/table-to-drive-writer/internal/gdrive"
	"github.com/chmdznr/table-to-drive-writer/internal/oauth"
	"github.com/chmdznr/table-to-drive-writer/internal/writer"
	"github.com/chmdznr/table-to-drive-writer/pkg/models"
	"github.com/chmdznr/table-to-drive-writer/pkg/utils"
)

const (
	defaultType      = models.TypeFile
	defaultOperation = models.OperationUpdate
)

// env holds what every command needs: the loaded configuration, the logger
// and an open store.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *db.DB
}

func openEnv(c *cli.Context) (*env, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	if dsn := c.String("db"); dsn != "" {
		cfg.Database = dsn
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	var cipher *crypt.Cipher
	if cfg.EncryptionKey != "" {
		if cipher, err = crypt.New(cfg.EncryptionKey); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no encryption key configured, tokens are stored in plain text")
	}

	store, err := db.Open(cfg.Database, cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// refresher returns nil when no OAuth client is configured; expired tokens
// then fail the request instead of being refreshed.
func (e *env) refresher() (gdrive.TokenRefresher, error) {
	if e.cfg.OAuth.ClientID == "" && e.cfg.OAuth.ClientSecret == "" {
		return nil, nil
	}
	r, err := oauth.NewRefresher(oauth.Config{
		ClientID:     e.cfg.OAuth.ClientID,
		ClientSecret: e.cfg.OAuth.ClientSecret,
		TokenURL:     e.cfg.OAuth.TokenURL,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *env) newClient(account *models.Account, refresher gdrive.TokenRefresher, onRefresh gdrive.RefreshCallback) *gdrive.Client {
	d := e.cfg.Drive
	return gdrive.New(gdrive.Options{
		MetadataURL:        d.MetadataURL,
		UploadURL:          d.UploadURL,
		FeedsURL:           d.FeedsURL,
		HTTPClient:         newHTTPClient(d.Timeout),
		Logger:             e.logger.With("account", account.ID),
		Credentials:        account.Credentials(),
		Refresher:          refresher,
		OnRefresh:          onRefresh,
		ResumableThreshold: d.ResumableThreshold,
		ResumeAttempts:     d.ResumeAttempts,
		BackoffBase:        d.BackoffBase,
		BackoffUnit:        d.BackoffUnit,
		BatchLimit:         d.BatchLimit,
		MaxRetries:         d.MaxRetries,
	})
}

// accountClient loads an account and returns a client whose refreshed
// tokens are written back to the store.
func (e *env) accountClient(id string) (*gdrive.Client, error) {
	account, err := e.store.GetAccount(id)
	if err != nil {
		return nil, err
	}
	refresher, err := e.refresher()
	if err != nil {
		return nil, err
	}
	return e.newClient(account, refresher, func(ctx context.Context, creds models.Credentials) error {
		return e.store.SaveTokens(account.ID, creds)
	}), nil
}

func createAccount(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	account := &models.Account{
		Name:         c.String("name"),
		Description:  c.String("description"),
		Email:        c.String("email"),
		GoogleID:     c.String("google-id"),
		GoogleName:   c.String("google-name"),
		AccessToken:  c.String("access-token"),
		RefreshToken: c.String("refresh-token"),
	}
	if err := e.store.CreateAccount(account); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Printf("Account '%s' created successfully (id: %s)\n", account.Name, account.ID)
	return nil
}

func listAccounts(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	accounts, err := e.store.ListAccounts()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts configured")
		return nil
	}
	for _, a := range accounts {
		fmt.Printf("%-20s %-30s %-30s %d file(s)\n", a.ID, a.Name, a.Email, len(a.Files))
	}
	return nil
}

func removeAccount(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	id := c.String("account")
	if err := e.store.RemoveAccount(id); err != nil {
		return err
	}
	fmt.Printf("Account '%s' removed\n", id)
	return nil
}

func setTokens(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	id := c.String("account")
	creds := models.Credentials{
		AccessToken:  c.String("access-token"),
		RefreshToken: c.String("refresh-token"),
	}
	if err := e.store.SaveTokens(id, creds); err != nil {
		return err
	}
	fmt.Printf("Tokens of account '%s' updated\n", id)
	return nil
}

func addFile(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	file, err := newFile(c.String("id"), c.String("title"), c.String("table"), c.String("type"), c.String("operation"), c.String("folder"))
	if err != nil {
		return err
	}
	if err := e.store.AddFile(c.String("account"), file); err != nil {
		return fmt.Errorf("failed to add file: %w", err)
	}
	fmt.Printf("File '%s' added (id: %s)\n", file.Title, file.ID)
	return nil
}

func listFiles(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	account, err := e.store.GetAccount(c.String("account"))
	if err != nil {
		return err
	}
	for _, f := range account.Files {
		remote := f.RemoteID
		if remote == "" {
			remote = "-"
		}
		fmt.Printf("%-36s %-6s %-7s %-30s %-30s %s\n", f.ID, f.Type, f.Operation, f.Title, f.TableID, remote)
	}
	return nil
}

func removeFile(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.RemoveFile(c.String("account"), c.String("id")); err != nil {
		return err
	}
	fmt.Printf("File '%s' removed\n", c.String("id"))
	return nil
}

// runWriter runs every configured file of one or all accounts.
//
// With --interactive, ESC, q or Ctrl+C stops the run after the current
// request; the file in progress keeps its previous identifiers.
func runWriter(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	exporter, err := export.New(export.Config{
		Type:      e.cfg.Export.Type,
		Dir:       e.cfg.Export.Dir,
		Endpoint:  e.cfg.Export.Endpoint,
		Bucket:    e.cfg.Export.Bucket,
		Prefix:    e.cfg.Export.Prefix,
		AccessKey: e.cfg.Export.AccessKey,
		SecretKey: e.cfg.Export.SecretKey,
		Secure:    e.cfg.Export.Secure,
		Region:    e.cfg.Export.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create exporter: %v", err)
	}
	refresher, err := e.refresher()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.Bool("interactive") {
		closeKeys, err := watchKeys(ctx, cancel)
		if err != nil {
			return fmt.Errorf("failed to read keyboard: %v", err)
		}
		defer closeKeys()
		fmt.Println("Press ESC or q to stop")
	}

	w := writer.New(e.store, exporter, func(account *models.Account, onRefresh gdrive.RefreshCallback) writer.API {
		return e.newClient(account, refresher, onRefresh)
	}, &writer.Config{
		TempDir:  e.cfg.TempDir,
		Progress: c.Bool("progress"),
		Logger:   e.logger,
	})

	report, runErr := w.Run(ctx, c.String("account"))
	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if runErr != nil {
		var fe *writer.FileError
		switch {
		case errors.As(runErr, &fe):
			return cli.Exit(fmt.Sprintf("Run stopped on account '%s', file '%s' (%s): %v",
				fe.AccountID, fe.File.Title, fe.File.ID, fe.Err), 1)
		case errors.Is(runErr, context.Canceled):
			return cli.Exit("Run cancelled", 1)
		default:
			return runErr
		}
	}
	return nil
}

func printReport(report *writer.Report) {
	for _, f := range report.Files {
		fmt.Printf("[%s] %s: %s (%s) %s", f.AccountID, f.Title, f.Status, f.Action, f.RemoteID)
		if len(f.CellErrors) > 0 {
			fmt.Printf(", %d cell batch error(s)", len(f.CellErrors))
		}
		fmt.Println()
	}
	elapsed := report.Finished.Sub(report.Started)
	if report.Finished.IsZero() {
		elapsed = 0
	}
	fmt.Printf("\nRun Summary:\n")
	fmt.Printf("- Files written: %d\n", len(report.Files))
	fmt.Printf("- Data exported: %s\n", utils.FormatSize(report.TotalSize()))
	fmt.Printf("- Elapsed: %s\n", utils.FormatDuration(elapsed))
}

// watchKeys cancels the run on ESC, q or Ctrl+C. The returned func restores
// the terminal.
func watchKeys(ctx context.Context, cancel context.CancelFunc) (func(), error) {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-keys:
				if !ok || ev.Err != nil {
					return
				}
				if ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC || ev.Rune == 'q' || ev.Rune == 'Q' {
					fmt.Println("Stopping...")
					cancel()
					return
				}
			}
		}
	}()
	return func() { _ = keyboard.Close() }, nil
}

// showStatus shows the number of configured, synced and pending files of
// one account or of all of them.
func showStatus(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	id := c.String("account")
	if id != "" {
		account, err := e.store.GetAccount(id)
		if err != nil {
			return err
		}
		fmt.Printf("Account: %s (%s)\n", account.Name, account.ID)
		if account.Email != "" {
			fmt.Printf("Email: %s\n", account.Email)
		}
	}

	stats, err := e.store.GetStats(id)
	if err != nil {
		return err
	}
	fmt.Printf("Total Files: %d (Sheets: %d, Files: %d)\n", stats.TotalFiles, stats.SheetFiles, stats.PlainFiles)
	fmt.Printf("Files Synced: %d\n", stats.SyncedFiles)
	fmt.Printf("Files Pending: %d\n", stats.PendingFiles)
	if stats.TotalFiles > 0 {
		fmt.Printf("Progress: %.2f%%\n", float64(stats.SyncedFiles)/float64(stats.TotalFiles)*100)
	}
	return nil
}

func remoteList(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.accountClient(c.String("account"))
	if err != nil {
		return err
	}
	files, err := client.ListFiles(c.Context, c.String("query"))
	if err != nil {
		return err
	}
	for _, f := range files {
		state := ""
		if f.Trashed {
			state = " (trashed)"
		}
		fmt.Printf("%-44s %-40s %s%s\n", f.Id, f.Name, f.MimeType, state)
	}
	return nil
}

func remoteWorksheets(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.accountClient(c.String("account"))
	if err != nil {
		return err
	}
	feed, err := client.GetWorksheetsFeed(c.Context, c.String("id"), c.Bool("json"))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(feed)
	return err
}

func remoteCells(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.accountClient(c.String("account"))
	if err != nil {
		return err
	}
	feed, err := client.GetCellsFeed(c.Context, &models.File{RemoteID: c.String("id"), SheetID: c.String("sheet")})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(feed)
	return err
}

func remoteDelete(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.accountClient(c.String("account"))
	if err != nil {
		return err
	}
	id := c.String("id")
	if err := client.DeleteFile(c.Context, id); err != nil {
		return err
	}
	fmt.Printf("Remote file '%s' deleted\n", id)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
