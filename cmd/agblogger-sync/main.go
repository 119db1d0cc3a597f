// AgBlogger - Markdown-First Publishing Platform
// Copyright 2026 AgBlogger Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/agblogger/agblogger

// agblogger-sync synchronizes a local content directory with an AgBlogger
// server. Exit codes: 0 success, 1 generic failure, 2 authentication
// failure, 3 path-safety failure, 4 network/server error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agblogger/agblogger/internal/content"
	"github.com/agblogger/agblogger/internal/logging"
	"github.com/agblogger/agblogger/internal/syncclient"
	"github.com/agblogger/agblogger/internal/syncengine"
	"github.com/agblogger/agblogger/internal/timeutil"
)

// CLI exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitAuth       = 2
	exitPathSafety = 3
	exitNetwork    = 4
)

var (
	flagServer string
	flagToken  string
	flagDir    string
	flagLog    string
)

func main() {
	root := &cobra.Command{
		Use:           "agblogger-sync",
		Short:         "Synchronize a local content directory with an AgBlogger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logging.Init(logging.Config{Level: flagLog, Format: "console", Output: os.Stderr})
			if flagToken == "" {
				flagToken = os.Getenv("AGBLOGGER_TOKEN")
			}
		},
	}
	root.PersistentFlags().StringVar(&flagServer, "server", os.Getenv("AGBLOGGER_SERVER"), "server base URL")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "personal access token (or AGBLOGGER_TOKEN)")
	root.PersistentFlags().StringVar(&flagDir, "dir", ".", "local content directory")
	root.PersistentFlags().StringVar(&flagLog, "log-level", "warn", "log level")

	root.AddCommand(runCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newClient() (*syncclient.Client, error) {
	if flagServer == "" {
		return nil, errors.New("--server (or AGBLOGGER_SERVER) is required")
	}
	if flagToken == "" {
		return nil, fmt.Errorf("%w: --token (or AGBLOGGER_TOKEN) is required", syncclient.ErrAuth)
	}
	store, err := content.NewStore(flagDir, timeutil.NewNormalizer("UTC"))
	if err != nil {
		return nil, err
	}
	return syncclient.New(flagServer, flagToken, store)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a full sync session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("uploaded %d, downloaded %d, deleted locally %d\n",
				res.Uploaded, res.Downloaded, res.DeletedLocal)
			for _, path := range res.Conflicts {
				fmt.Printf("conflict: %s (local copy saved as %s.conflict-backup)\n", path, path)
			}
			if res.Commit != nil {
				for _, warning := range res.Commit.Warnings {
					fmt.Println("warning:", warning)
				}
				if res.Commit.CommitHash != "" {
					fmt.Println("commit:", res.Commit.CommitHash)
				}
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync plan without transferring anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			store, err := content.NewStore(flagDir, timeutil.NewNormalizer("UTC"))
			if err != nil {
				return err
			}
			local, err := store.ScanAll(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := c.Init(cmd.Context(), local)
			if err != nil {
				return err
			}

			pending := 0
			for _, e := range plan.Entries {
				if e.Action == syncengine.ActionSkip {
					continue
				}
				pending++
				fmt.Printf("%-14s %s\n", e.Action, e.FilePath)
			}
			if pending == 0 {
				fmt.Println("in sync")
			}
			fmt.Println("server commit:", plan.ServerCommit)
			return nil
		},
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, syncclient.ErrAuth):
		return exitAuth
	case errors.Is(err, syncclient.ErrPathSafety), errors.Is(err, content.ErrUnsafePath):
		return exitPathSafety
	case errors.Is(err, syncclient.ErrServer):
		return exitNetwork
	default:
		return exitFailure
	}
}
