// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Ledger Control Command
//
// Operator tool for inspecting and resetting the import ledger. Clearing an
// entry forces the next run to reprocess that file even when its content is
// unchanged.
//
// Usage:
//
//	go run ./cmd/ledgerctl/ list
//	go run ./cmd/ledgerctl/ show <file>
//	go run ./cmd/ledgerctl/ clear <file>
//	go run ./cmd/ledgerctl/ clear --all
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/bcem/refimport/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	// Only the database is needed here; the full service config with
	// mailbox credentials is not.
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/refimport"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: create Postgres pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	led, err := ledger.New(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open ledger: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		err = list(ctx, led)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: show requires a file name")
			os.Exit(1)
		}
		err = show(ctx, led, args[1])
	case "clear":
		all, file, ok := parseClearArgs(args[1:])
		switch {
		case !ok:
			fmt.Fprintln(os.Stderr, "Error: clear requires a file name or --all")
			os.Exit(1)
		case all:
			err = led.ClearAll(ctx)
			if err == nil {
				fmt.Println("cleared all ledger entries")
			}
		default:
			err = led.Clear(ctx, file)
			if err == nil {
				fmt.Printf("cleared %s\n", file)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func list(ctx context.Context, led *ledger.Ledger) error {
	entries, err := led.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tRECORDS\tPROCESSED\tFINGERPRINT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.FileName,
			e.Status,
			e.RecordCount,
			e.ProcessedAt.Format(time.RFC3339),
			shortFingerprint(e.Fingerprint),
		)
	}
	return w.Flush()
}

func show(ctx context.Context, led *ledger.Ledger, fileName string) error {
	entry, err := led.Get(ctx, fileName)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no ledger entry for %s", fileName)
	}

	fmt.Printf("file:         %s\n", entry.FileName)
	fmt.Printf("status:       %s\n", entry.Status)
	fmt.Printf("records:      %d\n", entry.RecordCount)
	fmt.Printf("processed at: %s\n", entry.ProcessedAt.Format(time.RFC3339))
	fmt.Printf("fingerprint:  %s\n", entry.Fingerprint)
	return nil
}

// parseClearArgs reads the clear subcommand's own arguments. The --all flag
// follows the subcommand, where the top-level flag.Parse never looks.
func parseClearArgs(args []string) (all bool, file string, ok bool) {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	allFlag := fs.Bool("all", false, "Remove every ledger entry")
	if err := fs.Parse(args); err != nil {
		return false, "", false
	}
	if *allFlag {
		return true, "", true
	}
	if fs.NArg() >= 1 {
		return false, fs.Arg(0), true
	}
	return false, "", false
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ledgerctl [flags] <command>

Commands:
  list          List all ledger entries
  show <file>   Show one entry in full
  clear <file>  Remove one entry so the file reprocesses next run
  clear --all   Remove every entry
`)
}
