package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/markovbaj/markovbaj/pkg/corpus"
	"github.com/markovbaj/markovbaj/pkg/markov"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	replySeed  uint64
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "markovbaj",
	Short: "Markov chain reply bot",
	Long: `markovbaj learns from a corpus of chat messages and answers prompts with
new messages in the same style, preferring to continue something the prompt
said.

Run without arguments to start the HTTP service.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP query and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a chain from the corpus and save it to the database",
	RunE:  runBuild,
}

var replyCmd = &cobra.Command{
	Use:   "reply [prompt]",
	Short: "Print a reply to a prompt using the saved model",
	Args:  cobra.ArbitraryArgs,
	RunE:  runReply,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the models saved in the database",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON or YAML config file")
	buildCmd.Flags().String("corpus", "", "corpus file (overrides config)")
	buildCmd.Flags().String("db", "", "database path (overrides config)")
	buildCmd.Flags().String("name", "", "model name (overrides config)")
	replyCmd.Flags().Uint64Var(&replySeed, "seed", 0, "seed for reproducible replies (0 picks a random one)")

	rootCmd.AddCommand(serveCmd, buildCmd, replyCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(config *ServerConfig, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: config.logLevel()}))
}

// serve runs the service until it is shut down, starting a new cycle on every
// restart request.
func serve() error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("markovbaj has shut down.")
	return nil
}

// run is one server cycle: it loads the configuration and the chain, hosts
// the API and the corpus watcher, and returns whenever the server is shut
// down or restarted.
func run(actionChan chan string) (string, error) {

	config, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(config.Server, os.Stdout)
	logger.Info("Starting server cycle...")

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		logger.Info("Closing database connection.")
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	server, err := NewServer(config, logger, db, actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = server.LoadInitial(ctx); err != nil {
		return "", fmt.Errorf("failed to load initial chain: %w", err)
	}

	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.Handler()}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	if config.Corpus.Watch {
		watcher, err := NewCorpusWatcher(
			config.Corpus.Path,
			time.Duration(config.Corpus.WatchDebounceMs)*time.Millisecond,
			func(ctx context.Context) error {
				_, err := server.ReloadFromCorpus(ctx)
				return err
			},
			logger,
		)
		if err != nil {
			logger.Error("Failed to start corpus watcher, continuing without it", "error", err)
		} else {
			g.Go(func() error { return watcher.Run(gCtx) })
		}
	}

	var action string
	select {
	case action = <-actionChan: // Block here until API or OS signal sends an action.
	case <-gCtx.Done():
		action = actionShutdown
	}

	logger.Info("Stopping server for " + action + "...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = apiHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	cancel()
	if err = g.Wait(); err != nil {
		return "", err
	}
	logger.Info("HTTP server stopped.")

	return action, nil
}

// openStore loads the configuration and opens the model database for the
// one-shot commands. Logs go to stderr so command output stays clean.
func openStore(cmd *cobra.Command) (*Config, *slog.Logger, *markov.Store, func(), error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f := cmd.Flags().Lookup("db"); f != nil && f.Value.String() != "" {
		config.Server.DatabasePath = f.Value.String()
	}
	logger := newLogger(config.Server, cmd.ErrOrStderr())

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store, err := markov.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, nil, err
	}
	store.SetLogger(logger)

	closeFn := func() {
		store.Close()
		_ = db.Close()
	}
	return config, logger, store, closeFn, nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	config, logger, store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if v, _ := cmd.Flags().GetString("corpus"); v != "" {
		config.Corpus.Path = v
	}
	if v, _ := cmd.Flags().GetString("name"); v != "" {
		config.Markov.ModelName = v
	}

	sanitizer, err := corpus.NewSanitizer(config.Corpus.Sanitizer)
	if err != nil {
		return err
	}
	sanitizer.SetLogger(logger)

	began := time.Now()
	messages, err := corpus.Load(config.Corpus.Path)
	if err != nil {
		return err
	}
	texts := sanitizer.SanitizeAll(messages)
	chain, err := markov.Build(
		markov.TokenizeAll(markov.NewDefaultTokenizer(), texts),
		config.Markov.Order,
		config.Markov.buildOptions(logger)...,
	)
	if err != nil {
		return fmt.Errorf("failed to build chain: %w", err)
	}
	if err = store.SaveChain(cmd.Context(), config.Markov.ModelName, chain); err != nil {
		return fmt.Errorf("failed to save chain: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Built model '%s' from %s messages in %s\n",
		config.Markov.ModelName, humanize.Comma(int64(len(texts))), time.Since(began).Round(time.Millisecond))
	printStats(out, chain.Stats())
	return nil
}

func runReply(cmd *cobra.Command, args []string) error {
	config, logger, store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	chain, err := loadSavedChain(cmd.Context(), store, config.Markov, config.Markov.ModelName, logger)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			return fmt.Errorf("model '%s' has not been built yet, run 'markovbaj build' first", config.Markov.ModelName)
		}
		return err
	}

	engine := newEngine(config.Markov, logger)
	engine.Load(chain)

	var rng markov.Rand
	if replySeed != 0 {
		rng = markov.NewSeededRand(replySeed)
	}
	reply, err := engine.GenerateReplyWith(cmd.Context(), strings.Join(args, " "), rng)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	config, logger, store, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	models, err := store.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(models) == 0 {
		_, _ = fmt.Fprintln(out, "No models saved.")
		return nil
	}
	for _, info := range models {
		chain, err := store.LoadChain(cmd.Context(), info.Name, config.Markov.loadOptions(info, logger)...)
		if err != nil {
			_, _ = fmt.Fprintf(out, "%s: failed to load: %v\n", info.Name, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s (order %d, %s normalizer)\n", info.Name, info.Order, info.Normalizer)
		printStats(out, chain.Stats())
	}
	return nil
}

func printStats(w io.Writer, s markov.Stats) {
	_, _ = fmt.Fprintf(w, "  vocabulary:   %s tokens (%s normalized)\n", humanize.Comma(int64(s.VocabSize)), humanize.Comma(int64(s.KeySize)))
	_, _ = fmt.Fprintf(w, "  prefixes:     %s\n", humanize.Comma(int64(s.Prefixes)))
	_, _ = fmt.Fprintf(w, "  transitions:  %s links, %s observations\n", humanize.Comma(int64(s.TotalChains)), humanize.Comma(int64(s.TotalFrequency)))
	_, _ = fmt.Fprintf(w, "  chain starts: %s windows, %s observations\n", humanize.Comma(int64(s.StartWindows)), humanize.Comma(int64(s.StartFrequency)))
}
