// Package cli implements the treering CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rcliao/treering/internal/agentmem"
	"github.com/rcliao/treering/internal/chunker"
	"github.com/rcliao/treering/internal/config"
	"github.com/rcliao/treering/internal/embedding"
	"github.com/rcliao/treering/internal/longterm"
	"github.com/rcliao/treering/internal/model"
	"github.com/rcliao/treering/internal/shortterm"
	"github.com/rcliao/treering/internal/store"
	"github.com/rcliao/treering/internal/treering"
	"github.com/spf13/cobra"
)

var (
	dbPath    string
	dbDriver  string
	envFile   string
	namespace string
	verbose   bool

	logger = slog.Default()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "treering",
	Short: "Tiered memory for AI agents",
	Long: "Tree-ring memory for agents. Items settle into importance rings, rise when used, " +
		"fade when ignored and are pruned from the outer rings. Documents get chunked and embedded for semantic search.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path or DSN (default: $TREERING_DB or ~/.treering/memory.db)")
	RootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "Database driver: sqlite or postgres (default: $TREERING_DB_DRIVER)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Load settings from this .env file")
	RootCmd.PersistentFlags().StringVarP(&namespace, "ns", "n", "", "Document namespace (default: $TREERING_NAMESPACE or \"default\")")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

// app holds the components a command works with.
type app struct {
	cfg    config.Config
	store  *store.SQLStore
	mgr    *treering.Manager
	cache  *shortterm.Cache[model.MemoryItem]
	docs   *longterm.Store // nil when no embedder could be built
	docErr error
}

func loadConfig() config.Config {
	cfg, err := config.Load(envFile)
	if err != nil {
		exitErr("load config", err)
	}
	if dbDriver != "" {
		cfg.DBDriver = dbDriver
	}
	if dbPath != "" {
		if cfg.DBDriver == "postgres" || cfg.DBDriver == "postgresql" {
			cfg.DBDSN = dbPath
		} else {
			cfg.DBPath = dbPath
		}
	}
	if namespace != "" {
		cfg.Namespace = namespace
	}
	return cfg
}

func openStore() (*store.SQLStore, config.Config) {
	cfg := loadConfig()
	driver, source := cfg.DataSource()
	s, err := store.Open(driver, source, store.WithLogger(logger))
	if err != nil {
		exitErr("open store", err)
	}
	return s, cfg
}

// openApp wires the store, the document tier and the ring manager. A broken
// embedding setup only fails the commands that need documents.
func openApp(ctx context.Context) *app {
	s, cfg := openStore()
	a := &app{cfg: cfg, store: s}

	cacheOpts := cfg.CacheOptions()
	cacheOpts.Logger = logger
	a.cache = shortterm.New[model.MemoryItem](cacheOpts)

	a.docs, a.docErr = openDocuments(s, cfg)
	opts := cfg.ManagerOptions()
	opts.Logger = logger
	opts.Cache = a.cache
	if a.docs != nil {
		opts.Semantic = a.docs
	}
	mgr, err := treering.New(ctx, s, opts)
	if err != nil {
		s.Close()
		exitErr("open memory", err)
	}
	a.mgr = mgr
	return a
}

func openDocuments(s *store.SQLStore, cfg config.Config) (*longterm.Store, error) {
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}
	return longterm.New(s, emb, longterm.Options{Namespace: cfg.Namespace, Chunker: ch, Logger: logger})
}

func (a *app) documents() *longterm.Store {
	if a.docs == nil {
		exitErr("semantic store unavailable", a.docErr)
	}
	return a.docs
}

// agent opens the memory of agentID on top of the shared tiers.
func (a *app) agent(agentID, sessionID string, analyzer agentmem.Analyzer) *agentmem.Agent {
	opts := agentmem.Options{Cache: a.cache, CacheTTL: a.cfg.RushTTL, Analyzer: analyzer, Logger: logger}
	if a.docs != nil {
		opts.Semantic = a.docs
	}
	ag, err := agentmem.New(agentID, sessionID, a.mgr, opts)
	if err != nil {
		exitErr("open agent memory", err)
	}
	return ag
}

func (a *app) Close() {
	a.cache.Close()
	a.mgr.Close()
	a.store.Close()
}

// readContent takes the positional args, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
