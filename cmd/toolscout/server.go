package main

import (
	"context"
	"errors"
	"fmt"
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

	"toolscout/internal/advisor"
	"toolscout/internal/api"
	"toolscout/internal/catalog"
	"toolscout/internal/config"
	"toolscout/internal/extract"
	"toolscout/internal/ollama"
	"toolscout/internal/retrieval"
	"toolscout/internal/session"
	"toolscout/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the toolscout server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running toolscout server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show toolscout system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "toolscout.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "toolscout version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("toolscout is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("toolscout is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness, pulling the embedding model if needed.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
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

	// The catalog is the source of truth; refusing to start without it
	// beats serving answers grounded in nothing.
	items, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	index, err := catalog.NewIndex(items)
	if err != nil {
		return fmt.Errorf("indexing catalog: %w", err)
	}
	slog.Info("catalog loaded", "path", cfg.Catalog.Path, "items", index.Len())

	// Retrieval stack.
	registry := extract.DefaultRegistry()
	embedder := retrieval.NewOllamaEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteVectorStore(store.DB(), cfg.Ollama.EmbedModel)
	indexer := retrieval.NewIndexer(embedder, vectors)
	if err := ensureEmbeddings(ctx, indexer, vectors, index); err != nil {
		return err
	}
	retriever := retrieval.NewRetriever(registry, index, embedder, vectors,
		retrieval.WithMetadataFallback(cfg.Retrieval.MetadataFallback))

	// Sessions.
	var sessionStore session.Store
	if cfg.Storage.PersistSessions {
		sessionStore = session.NewSQLiteStore(store.DB())
	} else {
		sessionStore = session.NewMemoryStore()
	}
	sessions := session.NewManager(sessionStore, index,
		session.WithTTL(cfg.Session.TTLDuration()),
		session.WithResetPolicy(cfg.Session.ResetKeepsConstraints))
	go sessions.Run(ctx, cfg.Session.SweepDuration())

	adv := advisor.New(sessions, registry, index, retriever)

	reload := func(reloadCtx context.Context) (int, error) {
		fresh, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return 0, fmt.Errorf("loading catalog: %w", err)
		}
		if err := index.Reload(fresh); err != nil {
			return 0, fmt.Errorf("reloading catalog: %w", err)
		}
		n, err := indexer.Build(reloadCtx, index.Items())
		if err != nil {
			return 0, fmt.Errorf("rebuilding embeddings: %w", err)
		}
		slog.Info("catalog reloaded", "items", index.Len(), "embedded", n,
			"generation", index.Generation())
		return index.Len(), nil
	}

	handler := api.NewHandler(api.Deps{
		Advisor:  adv,
		Sessions: sessions,
		Catalog:  index,
		Reload:   reload,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Advisor: adv,
		Catalog: index,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "toolscout listening on %s\n", addr)
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

// ensureEmbeddings builds catalog vectors on first start or after the
// catalog file changed size. A matching count is taken as up to date;
// `toolscout index` forces a full rebuild.
func ensureEmbeddings(ctx context.Context, indexer *retrieval.Indexer, vectors *retrieval.SQLiteVectorStore, index *catalog.Index) error {
	count, err := vectors.Count()
	if err != nil {
		return fmt.Errorf("counting catalog vectors: %w", err)
	}
	if count == index.Len() {
		slog.Debug("catalog embeddings up to date", "vectors", count)
		return nil
	}

	slog.Info("building catalog embeddings", "items", index.Len(), "existing", count)
	n, err := indexer.Build(ctx, index.Items())
	if err != nil {
		return fmt.Errorf("building catalog embeddings: %w", err)
	}
	slog.Info("catalog embeddings built", "vectors", n)
	return nil
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
		printError("toolscout is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop toolscout (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to toolscout (PID %d)", pid)
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

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Catalog", "%s", cfg.Catalog.Path)

	if serverUp {
		statsResp, err := client.Get(serverURL + "/stats")
		if err == nil {
			var stats api.StatsResponse
			if decodeJSON(statsResp, &stats) == nil {
				printStatus("Catalog items", "%d (%d categories)",
					stats.Catalog.Items, stats.Catalog.Categories)
				printStatus("Active sessions", "%d (%d turns, %d clarifications)",
					stats.Sessions.ActiveSessions, stats.Sessions.TotalTurns, stats.Sessions.Clarifications)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
