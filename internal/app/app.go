package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/forkline/internal/config"
	"github.com/allaspectsdev/forkline/internal/metrics"
	"github.com/allaspectsdev/forkline/internal/server"
	"github.com/allaspectsdev/forkline/internal/store"
	"github.com/allaspectsdev/forkline/internal/tracing"
	"github.com/allaspectsdev/forkline/internal/vault"
	"github.com/allaspectsdev/forkline/internal/version"
)

const (
	logFilename = "forkline.log"
	dbFilename  = "forkline.db"

	shutdownTimeout = 30 * time.Second
	pruneInterval   = time.Hour
)

// Run initialises every subsystem, starts the request and admin servers,
// and blocks until SIGINT or SIGTERM is received or a server fails.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logFile, err := setupLogging(dataDir, cfg.Server.LogLevel, foreground)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("forkline starting")

	pidFile := NewPIDFile(dataDir)
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing enabled")
	}

	var st *store.Store
	if cfg.Audit.Enabled {
		dbPath := filepath.Join(dataDir, dbFilename)
		st, err = store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		log.Info().Str("db_path", dbPath).Msg("audit store opened")
	}

	collector := metrics.NewCollector()

	creds, err := vault.NewCredentials(vault.New(), cfg.Auth.Users)
	if err != nil {
		log.Warn().Err(err).Msg("some users have no resolvable password; they cannot authenticate")
	}

	deps := server.Deps{
		Logger:      log.Logger,
		Observer:    collector,
		Credentials: creds,
	}
	if st != nil {
		deps.Recorder = st
	}

	p, err := server.Build(cfg, deps)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	log.Info().Int("stages", p.Len()).Int("routes", len(cfg.Routes)).Msg("pipeline built")

	host := server.NewHost(p, collector, log.Logger, cfg.Server.MaxBodySize)
	reqServer := server.NewServer(host, cfg.Server, cfg.Tracing.Enabled)

	if w := watchConfig(dataDir, &reloader{host: host, creds: creds, deps: deps}); w != nil {
		defer w.Close()
	}

	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		if st != nil {
			runPruner(pruneCtx, st, cfg.Audit.RetentionDays, pruneInterval)
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		if cfg.Server.TLSEnabled {
			if err := reqServer.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- err
			}
			return
		}
		if err := reqServer.Start(); err != nil {
			errCh <- err
		}
	}()

	var admin *metrics.AdminServer
	if cfg.Metrics.Enabled {
		admin = metrics.NewAdminServer(collector, st, cfg.Server.AdminAddr(), cfg.Metrics.AllowedOrigins)
		go func() {
			if err := admin.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	logReady(cfg, foreground)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
	}
	if err := reqServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("request server shutdown error")
	}

	// Wait for the pruner before the deferred store close.
	pruneCancel()
	<-prunerDone

	log.Info().Msg("forkline stopped")
	return nil
}

// setupLogging points the global zerolog logger at the log file in dataDir,
// plus a console writer on stdout when running in the foreground.
func setupLogging(dataDir, level string, foreground bool) (*os.File, error) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	logPath := filepath.Join(dataDir, logFilename)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	writers := []io.Writer{logFile}
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "forkline").Logger()
	return logFile, nil
}

func logReady(cfg *config.Config, foreground bool) {
	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}

	ev := log.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("tls", cfg.Server.TLSEnabled)
	if cfg.Metrics.Enabled {
		ev = ev.Str("admin_addr", cfg.Server.AdminAddr())
	}
	ev.Msg("forkline is ready")

	if !foreground {
		return
	}
	fmt.Printf("\n  forkline is running!\n")
	fmt.Printf("  Requests: %s://localhost:%d\n", scheme, cfg.Server.Port)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Admin:    http://localhost:%d\n", cfg.Server.AdminPort)
	}
	fmt.Println()
}

// watchConfig starts hot-reload for the active config file, if one exists.
// A nil Watcher means reload is unavailable.
func watchConfig(dataDir string, r *reloader) *config.Watcher {
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, err := os.Stat(configFile); err != nil {
		return nil
	}

	w, err := config.Watch(configFile)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start config watcher; continuing without hot-reload")
		return nil
	}
	w.OnChange(r.apply)
	log.Info().Str("file", configFile).Msg("config watcher started")
	return w
}

// reloader rebuilds the pipeline from a reloaded config and swaps it into
// the running host. Listener settings and the audit store are fixed at
// startup and are not affected.
type reloader struct {
	host  *server.Host
	creds *vault.Credentials
	deps  server.Deps
}

func (r *reloader) apply(_, newCfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))

	if err := r.creds.Reload(newCfg.Auth.Users); err != nil {
		log.Warn().Err(err).Msg("some users have no resolvable password after reload")
	}

	p, err := server.Build(newCfg, r.deps)
	if err != nil {
		log.Error().Err(err).Msg("rebuilding pipeline failed; keeping the previous one")
		return
	}
	r.host.Swap(p)
	log.Info().Int("stages", p.Len()).Int("routes", len(newCfg.Routes)).Msg("configuration reloaded")
}

// Stop reads the PID file and sends SIGTERM to the running process.
func Stop() error {
	dataDir := config.Get().Server.DataDir

	pidFile := NewPIDFile(dataDir)
	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("forkline does not appear to be running: %w", err)
	}

	if !processAlive(pid) {
		if rmErr := pidFile.Remove(); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("forkline is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to forkline (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !processAlive(pid) {
			return nil
		}
	}
	return nil
}

// Status reports whether forkline is running and prints live counters from
// the admin API.
func Status(out io.Writer) error {
	cfg := config.Get()
	dataDir := cfg.Server.DataDir

	pid, running := NewPIDFile(dataDir).Running()
	if !running {
		fmt.Fprintln(out, "forkline is not running")
		return nil
	}

	fmt.Fprintf(out, "forkline is running (PID %d)\n", pid)

	if !cfg.Metrics.Enabled {
		return nil
	}

	stats, err := fetchStats(fmt.Sprintf("http://localhost:%d/api/stats", cfg.Server.AdminPort))
	if err != nil {
		fmt.Fprintln(out, "  (admin API unreachable)")
		return nil
	}
	printStats(out, stats)
	return nil
}

func fetchStats(url string) (*metrics.Stats, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var stats metrics.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &stats, nil
}

func printStats(out io.Writer, stats *metrics.Stats) {
	fmt.Fprintf(out, "\n  Uptime:         %s\n", stats.Uptime)
	fmt.Fprintf(out, "  Total Requests: %d\n", stats.TotalRequests)
	fmt.Fprintf(out, "  Errors:         %d (%d client / %d server)\n", stats.TotalErrors, stats.ClientErrors, stats.ServerErrors)
	fmt.Fprintf(out, "  Avg Latency:    %.1fms\n", stats.AvgLatencyMs)
	fmt.Fprintf(out, "  Cache Hit Rate: %.1f%% (%d hits / %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
	fmt.Fprintf(out, "  Active:         %d\n", stats.ActiveRequests)
}

// runPruner deletes audit records older than retentionDays every interval.
func runPruner(ctx context.Context, st *store.Store, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(st, retentionDays)
		}
	}
}

func pruneOnce(st *store.Store, retentionDays int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("audit pruner: recovered from panic")
		}
	}()
	n, err := st.Prune(retentionDays)
	if err != nil {
		log.Error().Err(err).Msg("audit pruning failed")
	} else if n > 0 {
		log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old audit records")
	}
}

// parseLogLevel converts a config log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
