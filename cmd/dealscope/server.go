package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/dealscope/internal/analysis"
	"github.com/kalambet/dealscope/internal/api"
	"github.com/kalambet/dealscope/internal/chunker"
	"github.com/kalambet/dealscope/internal/config"
	"github.com/kalambet/dealscope/internal/engine"
	"github.com/kalambet/dealscope/internal/ingest"
	"github.com/kalambet/dealscope/internal/pipeline"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/search"
	"github.com/kalambet/dealscope/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dealscope server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dealscope server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dealscope system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dealscope.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func detectConfig(cfg config.Config) engine.DetectConfig {
	return engine.DetectConfig{
		LLMProvider:       cfg.LLM.Provider,
		LLMBaseURL:        cfg.LLM.BaseURL,
		LLMAPIKey:         cfg.LLM.APIKey,
		Temperature:       cfg.LLM.Temperature,
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingBaseURL:  cfg.Embedding.BaseURL,
		EmbeddingAPIKey:   cfg.Embedding.APIKey,
		OllamaBaseURL:     cfg.Ollama.BaseURL,
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "dealscope version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("dealscope is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("dealscope is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(detectConfig(cfg))
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.LLM.Model, cfg.Embedding.Model, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	var vectors retrieval.VectorStore
	switch strings.ToLower(cfg.Vector.Backend) {
	case "", "sqlite":
		vectors = retrieval.NewSQLiteStore(store.DB())
	case "postgres":
		pg, err := retrieval.OpenPostgres(ctx, cfg.Vector.PostgresDSN)
		if err != nil {
			return fmt.Errorf("opening postgres vector store: %w", err)
		}
		defer pg.Close()
		vectors = pg
	default:
		return fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
	slog.Info("vector store ready", "backend", cfg.Vector.Backend)

	embedder := retrieval.NewEmbedder(eng, cfg.Embedding.Model)
	retriever := retrieval.NewRetriever(embedder, vectors)

	searcher, err := search.New(ctx, cfg.Search.APIKey, cfg.Search.EngineID)
	if err != nil {
		slog.Warn("web search unavailable, continuing without it", "error", err)
		searcher = search.Disabled{}
	}

	var runs pipeline.RunStore = pipeline.NewMemoryRunStore()
	if cfg.Analysis.PersistRuns {
		persisted := store.Runs()
		n, err := persisted.RecoverRuns(ctx)
		if err != nil {
			return fmt.Errorf("recovering analysis runs: %w", err)
		}
		if n > 0 {
			slog.Warn("marked interrupted analyses as failed", "count", n)
		}
		runs = persisted
	}

	stages := analysis.Stages(&analysis.Env{
		Retriever: retriever,
		Searcher:  searcher,
		Invoker:   analysis.ChatInvoker{Engine: eng, Model: cfg.LLM.Model},
	})
	orch, err := pipeline.New(stages, runs, cfg.Analysis.Workers)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer func() {
		if err := orch.Close(30 * time.Second); err != nil {
			slog.Warn("analyses still running at shutdown", "error", err)
		}
	}()

	chunks := chunker.New(chunker.WithSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap))
	indexer := ingest.NewIndexer(chunks, embedder, vectors)
	documents := ingest.NewService(store, indexer)

	worker := ingest.NewWorker(store, indexer, 500*time.Millisecond)
	go worker.Run(ctx)

	deps := api.Deps{
		Documents: documents,
		Analyses:  orch,
		Chunks:    retriever,
		Token:     apiToken,
	}

	if cfg.Server.MCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "dealscope listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("dealscope is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dealscope (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dealscope (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Version string `json:"version"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d (version %s)", cfg.Server.Port, health.Version)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s / %s", cfg.LLM.Provider, cfg.LLM.Model)
	printStatus("Embeddings", "%s / %s", orDefault(cfg.Embedding.Provider, cfg.LLM.Provider), cfg.Embedding.Model)
	printStatus("Vector store", "%s", orDefault(cfg.Vector.Backend, "sqlite"))
	if cfg.Search.APIKey != "" && cfg.Search.EngineID != "" {
		printStatus("Web search", "enabled")
	} else {
		printStatus("Web search", "disabled")
	}

	if running {
		token, tokenErr := config.GetAPIToken(config.NewSecretStore())
		if tokenErr == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			if resp, err := c.get(context.Background(), "/analysis/list"); err == nil {
				var list analysisList
				if decodeJSON(resp, &list) == nil {
					printStatus("Analyses", "%d", list.Total)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
