// Package main is the shirabe CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/cli"
	"github.com/hyperjump/shirabe/internal/collection"
	"github.com/hyperjump/shirabe/internal/config"
	"github.com/hyperjump/shirabe/internal/engine"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/server"
	"github.com/hyperjump/shirabe/internal/watcher"
	"github.com/hyperjump/shirabe/pkg/utils"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "init":
		runInit()
	case "index":
		runIndex()
	case "query":
		runQuery()
	case "rebuild":
		runRebuild()
	case "prune":
		runPrune()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "server":
		runServer()
	case "version", "--version", "-v":
		fmt.Printf("shirabe version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// components holds the opened collection and its supporting pieces.
type components struct {
	cfg    *config.Config
	coll   *collection.Collection
	logger *zap.Logger
}

func (c *components) Close() {
	if c.coll != nil {
		_ = c.coll.Close()
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// initializeComponents loads <root>/.shirabe.yaml, builds a logger, and opens
// the collection at root.
func initializeComponents(root string, debug bool) (*components, error) {
	cfg, err := config.LoadOrDefault(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	coll, err := collection.Open(context.Background(), root, cfg, collection.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &components{cfg: cfg, coll: coll, logger: logger}, nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", ".", "repository root to index")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	path := filepath.Join(*root, config.DefaultFileName)
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use -force to overwrite)\n", path)
		os.Exit(1)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	root := fs.String("root", ".", "repository root to index")
	serverURL := fs.String("server", "", "route through a running server instead of opening the collection directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" {
		// The HTTP path avoids opening the collection twice; the keyword
		// index allows only one process at a time.
		stats, err := indexViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteIndexingStats(os.Stdout, stats, format)
		return
	}

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	stats, err := comp.coll.Engine().Index(context.Background(), nil)
	if err != nil {
		if errors.Is(err, engine.ErrIndexingInProgress) {
			fmt.Fprintln(os.Stderr, "Another indexing run holds the collection; try again when it finishes.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteIndexingStats(os.Stdout, stats, format)
}

// printQueryUsage prints query subcommand usage and scoping hints.
func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shirabe query [flags] <text>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results come from the branch you are on.
  • Use -branch to see another branch's view of the code.
  • Use -ancestors to also search branches merged into the target branch.
  • Use -keyword for exact-term BM25 matching instead of embeddings.

Examples:
  shirabe query http retry backoff
  shirabe query "http retry backoff"               # same as above
  shirabe query -keyword parse_tokens              # BM25 instead of embeddings
  shirabe query -branch feature/auth login flow    # another branch's view
  shirabe query -lang go -include 'internal/**' connection pool
`)
}

// buildQueryText joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQueryText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves any flags (and their values) that appear after the
// query text to the front of the slice so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument, so "shirabe query foo
// -limit 5" would otherwise leave -limit unparsed.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	queryArgs := queryArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("query", flag.ExitOnError)
	root := fs.String("root", ".", "repository root of the collection")
	serverURL := fs.String("server", "", "route through a running server instead of opening the collection directly")
	branch := fs.String("branch", "", "branch to scope visibility to (default: the checked-out branch)")
	limit := fs.Int("limit", 10, "number of results")
	ancestors := fs.Bool("ancestors", false, "also search branches merged into the target branch")
	keyword := fs.Bool("keyword", false, "BM25 keyword search instead of semantic")
	languages := fs.String("lang", "", "comma-separated language filter (e.g. go,python)")
	include := fs.String("include", "", "comma-separated path globs results must match")
	exclude := fs.String("exclude", "", "comma-separated path globs that reject results")
	minScore := fs.Float64("min-score", 0, "minimum cosine score (semantic search only)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(queryArgs)

	if fs.NArg() < 1 {
		printQueryUsage(fs)
		os.Exit(1)
	}
	text := buildQueryText(fs.Args())
	if text == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	q := &models.Query{
		Text:             text,
		Branch:           *branch,
		Limit:            *limit,
		IncludeAncestors: *ancestors,
		Languages:        splitCSV(*languages),
		IncludeGlobs:     splitCSV(*include),
		ExcludeGlobs:     splitCSV(*exclude),
		MinScore:         *minScore,
	}

	if *serverURL != "" {
		mode := "semantic"
		if *keyword {
			mode = "keyword"
		}
		response, err := queryViaHTTP(*serverURL, q, mode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteQueryResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	ctx := context.Background()
	var response *models.QueryResponse
	if *keyword {
		response, err = comp.coll.Executor().Keyword(ctx, q)
	} else {
		response, err = comp.coll.Executor().Search(ctx, q)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteQueryResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	root := fs.String("root", ".", "repository root of the collection")
	serverURL := fs.String("server", "", "route through a running server instead of opening the collection directly")
	force := fs.Bool("force", false, "walk the whole tree and regenerate the graph from stored records")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" {
		stats, err := rebuildViaHTTP(*serverURL, *force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteRebuildStats(os.Stdout, stats, format)
		return
	}

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	stats, err := comp.coll.Engine().Rebuild(context.Background(), *force)
	if err != nil {
		if errors.Is(err, engine.ErrIndexingInProgress) {
			fmt.Fprintln(os.Stderr, "Another indexing run holds the collection; try again when it finishes.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteRebuildStats(os.Stdout, stats, format)
}

func runPrune() {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	root := fs.String("root", ".", "repository root of the collection")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	removed, err := comp.coll.Engine().Prune(context.Background())
	if err != nil {
		if errors.Is(err, engine.ErrIndexingInProgress) {
			fmt.Fprintln(os.Stderr, "Another indexing run holds the collection; try again when it finishes.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d unreachable points\n", removed)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	root := fs.String("root", ".", "repository root of the collection")
	serverURL := fs.String("server", "", "route through a running server instead of opening the collection directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := parseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" {
		status, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteStatus(os.Stdout, status, format)
		return
	}

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	status, err := comp.coll.Engine().Status(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	_ = cli.WriteStatus(os.Stdout, status, format)
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	root := fs.String("root", ".", "repository root to watch")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	w, err := startWatcher(comp)
	if err != nil {
		comp.logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer w.Stop()

	// Catch up before waiting on events.
	stats, err := comp.coll.Engine().Index(context.Background(), nil)
	if err != nil {
		comp.logger.Fatal("Initial index failed", zap.Error(err))
	}
	_ = cli.WriteIndexingStats(os.Stdout, stats, cli.OutputText)

	fmt.Printf("Watching %s (ctrl-c to stop)\n", comp.coll.Topology().Root())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println()
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	root := fs.String("root", ".", "repository root of the collection")
	host := fs.String("host", "", "bind address (overrides config)")
	port := fs.Int("port", 0, "listen port (overrides config)")
	watchTree := fs.Bool("watch", false, "watch the tree for changes while serving")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	comp, err := initializeComponents(*root, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open collection: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()
	logger := comp.logger

	if *host != "" {
		comp.cfg.Server.Host = *host
	}
	if *port != 0 {
		comp.cfg.Server.Port = *port
	}

	// Bring the collection up to date before answering queries.
	if _, err := comp.coll.Engine().Index(context.Background(), nil); err != nil &&
		!errors.Is(err, engine.ErrIndexingInProgress) {
		logger.Fatal("Initial index failed", zap.Error(err))
	}

	if comp.cfg.Watch.Enabled || *watchTree {
		w, err := startWatcher(comp)
		if err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(comp.coll.Engine(), comp.coll.Executor(), &comp.cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// startWatcher wires tree events to incremental indexing runs.
func startWatcher(comp *components) (*watcher.Watcher, error) {
	eng := comp.coll.Engine()
	logger := comp.logger
	onSync := func() {
		for attempt := 0; attempt < 2; attempt++ {
			_, err := eng.Index(context.Background(), nil)
			if err == nil {
				return
			}
			if !errors.Is(err, engine.ErrIndexingInProgress) {
				logger.Warn("watch index failed", zap.Error(err))
				return
			}
			time.Sleep(time.Second)
		}
		logger.Warn("watch index skipped, writer busy")
	}

	opts := []watcher.Option{watcher.WithLogger(logger)}
	if comp.cfg.Watch.DebounceMS > 0 {
		opts = append(opts, watcher.WithDebounce(time.Duration(comp.cfg.Watch.DebounceMS)*time.Millisecond))
	}
	w := watcher.New(
		comp.coll.Topology().Root(),
		comp.cfg.Index.Extensions,
		[]string{comp.coll.Dir()},
		onSync,
		opts...,
	)
	if err := w.Start(context.Background()); err != nil {
		return nil, err
	}
	return w, nil
}

// parseFormat maps the -output flag to a cli format.
func parseFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// splitCSV splits a comma-separated flag value, dropping empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// httpQueryRequest mirrors the server's query body: a models.Query plus mode.
type httpQueryRequest struct {
	*models.Query
	Mode string `json:"mode,omitempty"`
}

func queryViaHTTP(serverURL string, q *models.Query, mode string) (*models.QueryResponse, error) {
	body, err := json.Marshal(httpQueryRequest{Query: q, Mode: mode})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func indexViaHTTP(serverURL string) (*models.IndexingStats, error) {
	resp, err := http.Post(serverURL+"/api/v1/index", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var stats models.IndexingStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &stats, nil
}

func rebuildViaHTTP(serverURL string, force bool) (*models.RebuildStats, error) {
	body, err := json.Marshal(map[string]bool{"force": force})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/rebuild", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var stats models.RebuildStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &stats, nil
}

func statusViaHTTP(serverURL string) (*models.CollectionStatus, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var status models.CollectionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &status, nil
}

func printUsage() {
	fmt.Println(`shirabe - git-aware semantic code search

Usage:
  shirabe init [flags]             Write a starter .shirabe.yaml
  shirabe index [flags]            Bring the collection in line with the tree
  shirabe query [flags] <text>     Search the indexed code
  shirabe rebuild [flags]          Repair or regenerate the vector graph
  shirabe prune [flags]            Drop points no live branch can reach
  shirabe status [flags]           Show collection status
  shirabe watch [flags]            Index continuously as files change
  shirabe server [flags]           Serve the HTTP API
  shirabe version                  Show version
  shirabe help                     Show this help

Most commands take:
  -root string      Repository root (default: current directory). Config is
                    read from <root>/.shirabe.yaml when present.
  -output string    Output format: text or json (default: text)
  -debug            Enable debug logging
  -server string    Route the command through a running shirabe server
                    (e.g. http://localhost:8080) instead of opening the
                    collection directly. Required while a server holds the
                    collection open.

Query flags:
  -branch string    Branch to scope visibility to (default: checked-out branch)
  -limit int        Number of results (default: 10)
  -ancestors        Also search branches merged into the target branch
  -keyword          BM25 keyword search instead of semantic
  -lang string      Comma-separated language filter (e.g. go,python)
  -include string   Comma-separated path globs results must match
  -exclude string   Comma-separated path globs that reject results
  -min-score float  Minimum cosine score (semantic search only)

Rebuild flags:
  -force            Walk the whole tree and regenerate the graph

Server flags:
  -host string      Bind address (overrides config)
  -port int         Listen port (overrides config)
  -watch            Watch the tree for changes while serving

Examples:
  shirabe init
  shirabe index
  shirabe query http retry backoff
  shirabe query -keyword parse_tokens
  shirabe query -branch feature/auth -ancestors login flow
  shirabe rebuild -force
  shirabe status -output json
  shirabe watch
  shirabe server -port 9000 -watch
  shirabe query -server http://localhost:9000 connection pool`)
}
