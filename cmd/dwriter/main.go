package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/table-to-drive-writer/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	accountFlag := &cli.StringFlag{
		Name:     "account",
		Aliases:  []string{"a"},
		Usage:    "Account id",
		Required: true,
	}

	app := &cli.App{
		Name:                 "dwriter",
		Usage:                "Write warehouse tables to Google Drive documents and spreadsheets",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"DWRITER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Configuration store DSN (sqlite://path or postgres://...)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Print(version.Info())
					return nil
				},
			},
			{
				Name:  "account",
				Usage: "Manage accounts",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a new account",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Usage:    "Account name, the id is derived from it",
								Required: true,
							},
							&cli.StringFlag{Name: "description", Usage: "Account description"},
							&cli.StringFlag{Name: "email", Usage: "Google account email"},
							&cli.StringFlag{Name: "google-id", Usage: "Google account id"},
							&cli.StringFlag{Name: "google-name", Usage: "Google account display name"},
							&cli.StringFlag{Name: "access-token", Usage: "OAuth access token"},
							&cli.StringFlag{
								Name:     "refresh-token",
								Usage:    "OAuth refresh token",
								Required: true,
							},
						},
						Action: createAccount,
					},
					{
						Name:   "list",
						Usage:  "List accounts",
						Action: listAccounts,
					},
					{
						Name:   "remove",
						Usage:  "Remove an account and its files",
						Flags:  []cli.Flag{accountFlag},
						Action: removeAccount,
					},
					{
						Name:  "tokens",
						Usage: "Replace the OAuth tokens of an account",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "access-token", Usage: "OAuth access token"},
							&cli.StringFlag{
								Name:     "refresh-token",
								Usage:    "OAuth refresh token",
								Required: true,
							},
						},
						Action: setTokens,
					},
				},
			},
			{
				Name:  "file",
				Usage: "Manage the tables written by an account",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Add a table to an account",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "id", Usage: "File id, generated when empty"},
							&cli.StringFlag{Name: "title", Usage: "Document title", Required: true},
							&cli.StringFlag{Name: "table", Usage: "Source table id", Required: true},
							&cli.StringFlag{Name: "type", Usage: "file or sheet", Value: string(defaultType)},
							&cli.StringFlag{Name: "operation", Usage: "create, update or append", Value: string(defaultOperation)},
							&cli.StringFlag{Name: "folder", Usage: "Target folder id"},
						},
						Action: addFile,
					},
					{
						Name:   "list",
						Usage:  "List the tables of an account",
						Flags:  []cli.Flag{accountFlag},
						Action: listFiles,
					},
					{
						Name:  "remove",
						Usage: "Remove a table from an account",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "id", Usage: "File id", Required: true},
						},
						Action: removeFile,
					},
					{
						Name:  "import",
						Usage: "Import file descriptors from CSV",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{
								Name:     "csv",
								Usage:    "Path to CSV file",
								Required: true,
							},
						},
						Action: importCSV,
					},
				},
			},
			{
				Name:  "run",
				Usage: "Export and write the configured tables",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Account id, every account when empty",
					},
					&cli.BoolFlag{
						Name:    "interactive",
						Aliases: []string{"i"},
						Usage:   "Stop the run with ESC or q",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show upload progress bars",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the run report as JSON",
					},
				},
				Action: runWriter,
			},
			{
				Name:  "status",
				Usage: "Show file status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Account id, every account when empty",
					},
				},
				Action: showStatus,
			},
			{
				Name:  "remote",
				Usage: "Inspect remote documents of an account",
				Subcommands: []*cli.Command{
					{
						Name:  "ls",
						Usage: "List remote files matching a query",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Drive search query"},
						},
						Action: remoteList,
					},
					{
						Name:  "worksheets",
						Usage: "Print the worksheets feed of a spreadsheet",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "id", Usage: "Remote spreadsheet id", Required: true},
							&cli.BoolFlag{Name: "json", Usage: "Request the JSON feed"},
						},
						Action: remoteWorksheets,
					},
					{
						Name:  "cells",
						Usage: "Print the cells feed of a worksheet",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "id", Usage: "Remote spreadsheet id", Required: true},
							&cli.StringFlag{Name: "sheet", Usage: "Worksheet id", Required: true},
						},
						Action: remoteCells,
					},
					{
						Name:  "rm",
						Usage: "Delete a remote file",
						Flags: []cli.Flag{
							accountFlag,
							&cli.StringFlag{Name: "id", Usage: "Remote file id", Required: true},
						},
						Action: remoteDelete,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
