package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/quizhub/adminview/internal/config"
	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/sweep"
)

// SweepConfig holds parsed CLI options for the sweep command.
type SweepConfig struct {
	OlderThan time.Duration // zero means the configured stale_after
	DryRun    bool
	Yes       bool
}

func parseSweepFlags(args []string) (SweepConfig, error) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	olderThan := fs.Duration(
		"older-than", 0,
		"Waiting sessions at least this old (default: config stale_after)",
	)
	dryRun := fs.Bool(
		"dry-run", false,
		"Show what would be swept without deleting",
	)
	yes := fs.Bool(
		"yes", false,
		"Skip confirmation prompt",
	)

	if err := fs.Parse(args); err != nil {
		return SweepConfig{}, err
	}
	if *olderThan < 0 {
		return SweepConfig{}, fmt.Errorf("older-than must be positive")
	}
	if fs.NArg() > 0 {
		return SweepConfig{}, fmt.Errorf(
			"unexpected arguments: %s", strings.Join(fs.Args(), " "),
		)
	}

	return SweepConfig{
		OlderThan: *olderThan,
		DryRun:    *dryRun,
		Yes:       *yes,
	}, nil
}

// Sweeper executes the sweep workflow against a store.
type Sweeper struct {
	Store     db.Store
	Threshold time.Duration
	Now       func() time.Time
	Out       io.Writer
	In        io.Reader
}

// Sweep finds stale sessions and deletes them after confirmation.
func (s *Sweeper) Sweep(ctx context.Context, cfg SweepConfig) error {
	threshold := s.Threshold
	if cfg.OlderThan > 0 {
		threshold = cfg.OlderThan
	}
	opts := []sweep.Option{sweep.WithThreshold(threshold)}
	if s.Now != nil {
		opts = append(opts, sweep.WithClock(s.Now))
	}
	sw := sweep.New(s.Store, opts...)

	stale, err := sw.FindStale(ctx)
	if err != nil {
		return fmt.Errorf("finding stale sessions: %w", err)
	}

	if len(stale) == 0 {
		fmt.Fprintf(s.Out,
			"No waiting sessions older than %s.\n", threshold)
		return nil
	}

	writeSummary(s.Out, stale, threshold)

	if cfg.DryRun {
		fmt.Fprintln(s.Out, "\nDry run: no changes made.")
		return nil
	}

	if !cfg.Yes {
		msg := fmt.Sprintf(
			"\nDelete %d sessions?", len(stale),
		)
		if !confirm(s.In, s.Out, msg) {
			fmt.Fprintln(s.Out, "Aborted.")
			return nil
		}
	}

	res, err := sw.Clear(ctx, sweep.IDs(stale))
	if err != nil {
		return fmt.Errorf("%s: %w", res.Error, err)
	}
	fmt.Fprintf(s.Out, "\nDeleted %d sessions\n", res.Cleared)
	return nil
}

func confirm(r io.Reader, w io.Writer, msg string) bool {
	fmt.Fprintf(w, "%s [y/N] ", msg)
	scanner := bufio.NewScanner(r)
	scanner.Scan()
	ans := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return ans == "y" || ans == "yes"
}

func writeSummary(
	w io.Writer, sessions []sweep.Session, threshold time.Duration,
) {
	byApp := map[string]int{}
	var apps []string
	oldest := 0
	for _, s := range sessions {
		if byApp[s.Application] == 0 {
			apps = append(apps, s.Application)
		}
		byApp[s.Application]++
		oldest = max(oldest, s.AgeSeconds)
	}

	sort.Strings(apps)

	fmt.Fprintf(w,
		"Found %d waiting sessions older than %s (oldest %s)\n",
		len(sessions), threshold,
		time.Duration(oldest)*time.Second,
	)
	fmt.Fprintln(w, "\nBy application:")
	for _, app := range apps {
		name := app
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  %-40s %d\n", name, byApp[app])
	}
}

func runSweep(args []string) {
	cfg, err := parseSweepFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx := context.Background()
	store := mustOpenStore(ctx, appCfg)
	defer store.Close()

	sweeper := &Sweeper{
		Store:     store,
		Threshold: appCfg.StaleAfter,
		Out:       os.Stdout,
		In:        os.Stdin,
	}
	if err := sweeper.Sweep(ctx, cfg); err != nil {
		log.Fatalf("sweep: %v", err)
	}
}
