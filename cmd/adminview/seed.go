package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"github.com/quizhub/adminview/internal/config"
	"github.com/quizhub/adminview/internal/db"
)

// seedOrder inserts lookup tables before the rows that name them.
var seedOrder = []string{
	"countries", "states", "cities", "profiles", "quizzes",
	"groups", "game_sessions", "reports", "subscriptions",
}

// Fixtures maps table names to the rows to insert.
type Fixtures map[string][]db.Row

func parseSeedFlags(args []string) (string, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	path := fs.String("file", "", "YAML fixture file (table: [rows])")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *path == "" {
		return "", fmt.Errorf("-file is required")
	}
	return *path, nil
}

// loadFixtures reads a YAML document whose top-level keys are
// table names and whose values are lists of rows. Rows without
// an id get a random one.
func loadFixtures(path string) (Fixtures, error) {
	k := koanf.New("/")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out := Fixtures{}
	for table, v := range k.Raw() {
		if _, err := db.Columns(table); err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected a list of rows", table)
		}
		rows := make([]db.Row, 0, len(items))
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected a mapping", table, i)
			}
			row := db.Row{}
			for col, val := range m {
				if t, ok := val.(time.Time); ok {
					val = db.FormatTime(t)
				}
				row[col] = val
			}
			if row.String("id") == "" {
				row["id"] = uuid.NewString()
			}
			rows = append(rows, row)
		}
		out[table] = rows
	}
	return out, nil
}

// tables returns the fixture tables in insertion order.
func (f Fixtures) tables() []string {
	known := lo.Filter(seedOrder, func(t string, _ int) bool {
		_, ok := f[t]
		return ok
	})
	rest := lo.Without(lo.Keys(f), seedOrder...)
	sort.Strings(rest)
	return append(known, rest...)
}

// Seed inserts every fixture table, stopping at the first failure.
func Seed(
	ctx context.Context, store db.Store, f Fixtures, out io.Writer,
) (int, error) {
	total := 0
	for _, table := range f.tables() {
		n, err := store.Insert(ctx, table, f[table])
		if err != nil {
			return total, fmt.Errorf("seeding %s: %w", table, err)
		}
		total += n
		fmt.Fprintf(out, "  %-16s %d rows\n", table, n)
	}
	return total, nil
}

func runSeed(args []string) {
	path, err := parseSeedFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fixtures, err := loadFixtures(path)
	if err != nil {
		log.Fatalf("loading fixtures: %v", err)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(appCfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	ctx := context.Background()
	store := mustOpenStore(ctx, appCfg)
	defer store.Close()

	n, err := Seed(ctx, store, fixtures, os.Stdout)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("Seeded %d rows\n", n)
}
