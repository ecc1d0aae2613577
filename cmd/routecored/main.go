package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/route-beacon/xorp-routecore/internal/audit"
	"github.com/route-beacon/xorp-routecore/internal/config"
	"github.com/route-beacon/xorp-routecore/internal/db"
	"github.com/route-beacon/xorp-routecore/internal/eventbus"
	ribhttp "github.com/route-beacon/xorp-routecore/internal/http"
	"github.com/route-beacon/xorp-routecore/internal/metrics"
	"github.com/route-beacon/xorp-routecore/internal/nexthop"
	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/ribclient"
	"github.com/route-beacon/xorp-routecore/internal/xrltransport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: routecored <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the route-information core service")
	fmt.Println("  migrate   Run audit database migrations")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// mustNextHopTransport dials the RIB's next-hop registration endpoint.
// xrltransport.Client implements both nexthop.RibTransport and the HTTP
// server's TransportChecker, so the same value doubles as a /readyz probe.
func mustNextHopTransport(addr string, logger *zap.Logger) *xrltransport.Client {
	if addr == "" {
		logger.Fatal("nexthop.address is not configured")
	}
	return xrltransport.Dial(addr)
}

// mustRibTransport dials one RIB target's transactional FTI endpoint.
func mustRibTransport(addr string, logger *zap.Logger) *xrltransport.Client {
	if addr == "" {
		logger.Fatal("ribclient target address is not configured")
	}
	return xrltransport.Dial(addr)
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting routecored",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// --- Optional audit writer (§9.5) ---
	var auditWriter *audit.Writer
	var auditPool interface{ Close() }
	if cfg.Audit.Enabled() {
		pool, err := db.NewPool(ctx, cfg.Audit.DSN, cfg.Audit.MaxConns, cfg.Audit.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to audit database", zap.Error(err))
		}
		auditPool = pool
		auditWriter = audit.NewWriter(pool, logger.Named("audit"), 100, 2*time.Second)
		wg.Add(1)
		go func() { defer wg.Done(); auditWriter.Run(ctx) }()
		logger.Info("audit writer started", zap.String("dsn", cfg.Audit.DSN))
	}
	if auditPool != nil {
		defer auditPool.Close()
	}

	// --- Optional Kafka event bus (§9.4) ---
	var sink nexthop.DecisionSink
	if cfg.EventBus.Enabled() {
		tlsCfg, err := cfg.EventBus.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build event bus TLS config", zap.Error(err))
		}
		saslMech := cfg.EventBus.BuildSASLMechanism()
		publisher, err := eventbus.NewPublisher(cfg.EventBus.Brokers, cfg.EventBus.Topic, cfg.EventBus.ClientID, tlsCfg, saslMech, logger.Named("eventbus"))
		if err != nil {
			logger.Fatal("failed to create event bus publisher", zap.Error(err))
		}
		defer publisher.Close()
		sink = publisher
		logger.Info("event bus publisher started", zap.Strings("brokers", cfg.EventBus.Brokers), zap.String("topic", cfg.EventBus.Topic))
	}

	// --- NextHopResolver ---
	//
	// NextHopRibTransport is an XRL-facing concern (SPEC_FULL.md §6): the
	// resolver only depends on the interface. Here it is given this
	// module's xrltransport client, dialed at cfg.NextHop.Address.
	nextHopTransport := mustNextHopTransport(cfg.NextHop.Address, logger)
	resolver := nexthop.New[string](prefix.V4, nextHopTransport, sink, logger.Named("nexthop"), cfg.NextHop.RetryInterval())
	wg.Add(1)
	go func() { defer wg.Done(); resolver.Run(ctx) }()
	logger.Info("nexthop resolver started", zap.String("address", cfg.NextHop.Address))

	// --- RibClient instances, one per configured target ---
	//
	// auditWriter is a typed *audit.Writer that stays nil when auditing is
	// disabled; passing it directly as a TransactionObserver would wrap
	// that nil pointer in a non-nil interface value, so Client's
	// `observer != nil` check would wrongly fire. Route through an
	// interface-typed variable that only gets set when auditing is on.
	var observer ribclient.TransactionObserver
	if auditWriter != nil {
		observer = auditWriter
	}
	ribClients := make(map[string]*ribclient.Client, len(cfg.RibClient.Targets))
	ribCheckers := make(map[string]ribhttp.TransportChecker, len(cfg.RibClient.Targets))
	for _, t := range cfg.RibClient.Targets {
		transport := mustRibTransport(t.Address, logger)
		client := ribclient.New(t.Name, transport, cfg.RibClient.MaxOps, cfg.RibClient.RetryInterval(), logger.Named("ribclient."+t.Name), observer)
		wg.Add(1)
		go func() { defer wg.Done(); client.Run(ctx) }()
		ribClients[t.Name] = client
		ribCheckers[t.Name] = transport
		logger.Info("ribclient started", zap.String("target", t.Name), zap.String("address", t.Address))
	}

	// --- HTTP server ---
	var dbChecker ribhttp.DBChecker
	if auditWriter != nil {
		dbChecker = auditWriter
	}
	httpServer := ribhttp.NewServer(cfg.Service.HTTPListen, dbChecker, ribCheckers, nextHopTransport, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("routecored ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("routecored stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Audit.Enabled() {
		logger.Info("audit.dsn not configured, nothing to migrate")
		return
	}

	logger.Info("running audit migrations")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Audit.DSN, cfg.Audit.MaxConns, cfg.Audit.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to audit database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}
