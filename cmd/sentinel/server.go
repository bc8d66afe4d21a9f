package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/net/netutil"

	"github.com/kalambet/fcsentinel/internal/api"
	"github.com/kalambet/fcsentinel/internal/config"
	"github.com/kalambet/fcsentinel/internal/engine"
	"github.com/kalambet/fcsentinel/internal/evidence"
	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/oracle"
	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/planner"
	"github.com/kalambet/fcsentinel/internal/risk"
	"github.com/kalambet/fcsentinel/internal/simulation"
	"github.com/kalambet/fcsentinel/internal/sink"
	"github.com/kalambet/fcsentinel/internal/storage"
	"github.com/kalambet/fcsentinel/internal/worker"
)

// maxConnections caps concurrent API connections. Streamed cycles hold
// theirs open until the last FC finishes.
const maxConnections = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sentinel server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sentinel server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sentinel system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sentinel.pid")
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
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// services is the evaluation stack shared by serve and a local cycle run.
type services struct {
	scenarios    *simulation.Set
	orchestrator *pipeline.Orchestrator
	publisher    *sink.KafkaPublisher
}

func newServices(cfg config.Config, store *storage.Store, eng engine.Engine, metrics *observability.Metrics, workers int, logger *slog.Logger) *services {
	scenarios := simulation.NewSet(nil)

	aggregator := evidence.New(store, scenarios, evidence.Options{
		Window:         cfg.EvidenceWindow(),
		Limit:          cfg.Evidence.Limit,
		InventoryLimit: cfg.Evidence.InventoryLimit,
	})
	client := oracle.New(eng, oracle.Options{
		Model:             cfg.Oracle.Model,
		Timeout:           cfg.OracleTimeout(),
		RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
	}, metrics)
	plan := planner.New(store, planner.Config{
		MaxDistanceMiles: cfg.Planner.MaxDistanceMiles,
		MinCoverage:      cfg.Planner.MinCoverage,
		ScoreThreshold:   float64(cfg.Planner.ScoreThreshold),
	})

	s := &services{scenarios: scenarios}
	opts := pipeline.Options{Workers: workers, Logger: logger}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		s.publisher = sink.NewKafkaPublisher(brokers, cfg.Sink.KafkaTopic, metrics, logger)
		opts.Publisher = s.publisher
		logger.Info("publishing rows to kafka", "brokers", brokers, "topic", cfg.Sink.KafkaTopic)
	}
	s.orchestrator = pipeline.New(store, aggregator, client, plan, metrics, opts)
	return s
}

func (s *services) Close() error {
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}

// openEngine detects the oracle backend. An unreachable backend is not
// fatal: cycles fall back to the default verdict until it comes up.
func openEngine(ctx context.Context, cfg config.Config) (engine.Engine, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Backend: cfg.Oracle.Backend,
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting oracle backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Oracle.Model, os.Stderr); err != nil {
		slog.Warn("risk oracle not ready, cycles will use the default verdict", "backend", eng.Name(), "error", err)
	}
	return eng, nil
}

func runServer(stdio bool) error {
	fmt.Fprintf(os.Stderr, "sentinel version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
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
			printWarning("sentinel is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sentinel is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
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

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	svc := newServices(cfg, store, eng, metrics, cfg.Cycle.Workers, logger)
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("closing row publisher", "error", err)
		}
	}()

	w := worker.New(store, svc.orchestrator, metrics, nil, worker.Config{
		Interval:    cfg.CycleInterval(),
		Retention:   cfg.EvidenceRetention(),
		MaxAttempts: cfg.Cycle.MaxAttempts,
	})
	go w.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Cycles:     svc.orchestrator,
		Queue:      w,
		Simulation: svc.scenarios,
		Token:      apiToken,
	})

	if stdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Queue: w}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConnections)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sentinel listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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
		printError("sentinel is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sentinel (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sentinel (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Oracle", "%s %s at %s", cfg.Oracle.Backend, cfg.Oracle.Model, cfg.Oracle.BaseURL)
	if interval := cfg.CycleInterval(); interval > 0 {
		printStatus("Cycle interval", "%s", interval)
	} else {
		printStatus("Cycle interval", "disabled")
	}

	if running {
		token, tokenErr := config.GetAPIToken(config.NewKeychain())
		if tokenErr == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: httpClient}
			if rows, err := fetchRows(ctx, c); err == nil {
				printStatus("FCs", "%d (%s)", len(rows), riskBreakdown(rows))
			}
			if sim, err := fetchSimulation(ctx, c); err == nil && len(sim.Active) > 0 {
				printStatus("Simulating", "%s", strings.Join(sim.Active, ", "))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// riskBreakdown counts rows per status, e.g. "2 high, 1 medium, 4 low".
func riskBreakdown(rows []pipeline.Row) string {
	var high, medium, low, other int
	for _, r := range rows {
		switch r.Status {
		case string(risk.HighRisk):
			high++
		case string(risk.MediumRisk):
			medium++
		case string(risk.LowRisk):
			low++
		default:
			other++
		}
	}
	s := fmt.Sprintf("%d high, %d medium, %d low", high, medium, low)
	if other > 0 {
		s += fmt.Sprintf(", %d not evaluated", other)
	}
	return s
}
