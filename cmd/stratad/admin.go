package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/engine"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/trim"
)

// runAdmin handles admin subcommands.
func runAdmin(args []string) {
	if len(args) < 1 {
		printAdminUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	switch subcommand {
	case "status":
		runAdminStatus(args[1:])
	case "checkpoints":
		runAdminCheckpoints(args[1:])
	case "checkpoint":
		runAdminCheckpoint(args[1:])
	case "trim":
		runAdminTrim(args[1:])
	case "help", "-h", "--help":
		printAdminUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n\n", subcommand)
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Println(`Usage: stratad admin <command> [options]

Admin commands for a strata engine.

Commands:
  status        Show the state of a running daemon
  checkpoints   List local or archived checkpoints
  checkpoint    Take a named checkpoint of a stopped engine
  trim          Discard freed ranges of a stopped engine's data file

Run 'stratad admin <command> --help' for more information on a command.`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ============================================================================
// Status
// ============================================================================

func runAdminStatus(args []string) {
	fs := flag.NewFlagSet("admin status", flag.ExitOnError)
	addr := fs.String("addr", "localhost:9091", "Health endpoint address of the daemon")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: stratad admin status [options]

Show the engine state reported by a running daemon.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exitOnError(printStatus(ctx, os.Stdout, *addr, *jsonOutput))
}

func fetchState(ctx context.Context, addr string) (*engine.State, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(addr, "/")+"/debug/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var state engine.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &state, nil
}

func printStatus(ctx context.Context, out io.Writer, addr string, jsonOutput bool) error {
	state, err := fetchState(ctx, addr)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(state, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Directory:\t%s\n", state.Dir)
	fmt.Fprintf(w, "In memory:\t%t\n", state.InMemory)
	fmt.Fprintf(w, "Direct I/O:\t%t (alignment %d)\n", state.DirectIO, state.Alignment)
	fmt.Fprintf(w, "Placement:\t%s\n", state.Placement)
	fmt.Fprintf(w, "Checkpoint server:\t%s (running %t)\n", state.CheckpointState, state.CheckpointRunning)
	fmt.Fprintf(w, "Journal:\t%d bytes, %d since checkpoint\n", state.JournalSize, state.JournalWritten)
	fmt.Fprintf(w, "Trim coordinator:\trunning %t, %d pending\n", state.TrimRunning, state.TrimPending)
	if m := state.LastCheckpoint; m != nil {
		fmt.Fprintf(w, "Last checkpoint:\t%s #%d at %s\n", m.Name, m.Sequence, m.CreatedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last checkpoint:\tnone")
	}
	return w.Flush()
}

// ============================================================================
// Checkpoints
// ============================================================================

func runAdminCheckpoints(args []string) {
	fs := flag.NewFlagSet("admin checkpoints", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	archived := fs.Bool("archive", false, "List checkpoints in the object store archive")
	name := fs.String("name", "", "Only list archived checkpoints with this name")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: stratad admin checkpoints [options]

List the checkpoint manifests of the engine directory, or with --archive the
manifests uploaded to the object store.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	exitOnError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var manifests []*engine.Manifest
	if *archived {
		store, err := openArchiveStore(ctx, cfg.Archive)
		exitOnError(err)
		if store == nil {
			exitOnError(errors.New("archive is not enabled in the configuration"))
		}
		archive := engine.NewArchive(store, cfg.Archive.Prefix)
		defer archive.Close()
		manifests, err = listArchived(ctx, archive, *name)
		exitOnError(err)
	} else {
		manifests, err = engine.ListCheckpoints(cfg.Engine.Dir)
		exitOnError(err)
	}

	exitOnError(printManifests(os.Stdout, manifests, *jsonOutput))
}

// listArchived fetches every archived manifest under name.
func listArchived(ctx context.Context, archive *engine.Archive, name string) ([]*engine.Manifest, error) {
	objs, err := archive.List(ctx, name)
	if err != nil {
		return nil, err
	}

	manifests := make([]*engine.Manifest, len(objs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, obj := range objs {
		i, obj := i, obj
		g.Go(func() error {
			m, err := archive.Fetch(gctx, obj.Key)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifests, nil
}

func printManifests(out io.Writer, manifests []*engine.Manifest, jsonOutput bool) error {
	if jsonOutput {
		data, _ := json.MarshalIndent(manifests, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(manifests) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSEQUENCE\tJOURNAL_OFFSET\tDATA_SIZE\tCREATED\tID")
	for _, m := range manifests {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
			m.Name, m.Sequence, m.JournalOffset, m.DataSize, m.CreatedAt.Format(time.RFC3339), m.ID)
	}
	return w.Flush()
}

// ============================================================================
// Offline checkpoint and trim
// ============================================================================

// openOffline opens the engine for a one-shot admin operation: background
// checkpoints are off and trim runs only when asked.
func openOffline(ctx context.Context, cfg *config.Config, trimEnabled bool, opts ...engine.Option) (*engine.Engine, error) {
	c := *cfg
	c.Checkpoint.WaitSecs = 0
	c.Checkpoint.LogSizeBytes = 0
	c.Trim.Enabled = trimEnabled
	c.Archive.Enabled = false

	logger := logging.Global()
	opts = append([]engine.Option{engine.WithLogger(logger)}, opts...)
	return engine.Open(ctx, &c, opts...)
}

func runAdminCheckpoint(args []string) {
	fs := flag.NewFlagSet("admin checkpoint", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	name := fs.String("name", "", "Checkpoint name (default: the default checkpoint)")

	fs.Usage = func() {
		fmt.Println(`Usage: stratad admin checkpoint [options]

Open a stopped engine, replay its journal and write a named checkpoint.
The daemon must not be running against the same directory.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	exitOnError(err)
	newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	m, err := takeCheckpoint(ctx, cfg, *name)
	exitOnError(err)
	fmt.Printf("Checkpoint %q written (sequence %d, journal offset %d).\n", m.Name, m.Sequence, m.JournalOffset)
}

func takeCheckpoint(ctx context.Context, cfg *config.Config, name string, opts ...engine.Option) (*engine.Manifest, error) {
	eng, err := openOffline(ctx, cfg, false, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.Checkpoint(ctx, name); err != nil {
		eng.Close()
		return nil, err
	}
	m := eng.LastCheckpoint()
	if err := eng.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

func runAdminTrim(args []string) {
	fs := flag.NewFlagSet("admin trim", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	ranges := fs.String("ranges", "", "Comma separated byte ranges to discard, as start-end")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: stratad admin trim [options] --ranges 0-65536,131072-262144

Open a stopped engine, free the given ranges of its data file and run one
discard pass with the configured trim mode.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	extents, err := parseRanges(*ranges)
	exitOnError(err)

	cfg, err := loadConfig(*configPath)
	exitOnError(err)
	newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := discardRanges(ctx, cfg, extents)
	exitOnError(err)

	if *jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Discarded %d of %d ranges (%d bytes); %d skipped, %d rejected, %d failed.\n",
		res.Discarded, res.Ranges, res.Bytes, res.Skipped, res.Rejected, res.Failed)
}

// parseRanges parses "start-end,start-end".
func parseRanges(s string) ([]trim.Extent, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("--ranges is required")
	}
	var out []trim.Extent
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("invalid range %q: want start-end", part)
		}
		start, err := strconv.ParseInt(lo, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", part, err)
		}
		end, err := strconv.ParseInt(hi, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", part, err)
		}
		e := trim.Extent{Start: start, End: end}
		if !e.Valid() {
			return nil, fmt.Errorf("%w: %s", trim.ErrInvalidExtent, part)
		}
		out = append(out, e)
	}
	return out, nil
}

func discardRanges(ctx context.Context, cfg *config.Config, extents []trim.Extent, opts ...engine.Option) (trim.BatchResult, error) {
	c := *cfg
	if c.Trim.Capacity < len(extents) {
		c.Trim.Capacity = len(extents)
	}
	// Only the explicit drain below may run a pass.
	c.Trim.Freq = len(extents) + 1
	c.Trim.TriggerBytes = 0
	c.Trim.IntervalMs = 0

	eng, err := openOffline(ctx, &c, true, opts...)
	if err != nil {
		return trim.BatchResult{}, err
	}
	for _, e := range extents {
		if err := eng.Free(ctx, e.Start, e.End); err != nil {
			eng.Close()
			return trim.BatchResult{}, err
		}
	}
	res, err := eng.DrainTrim(ctx)
	if err != nil {
		eng.Close()
		return trim.BatchResult{}, err
	}
	return res, eng.Close()
}
