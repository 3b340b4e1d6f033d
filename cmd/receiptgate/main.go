package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/receiptgate/core/pkg/config"
	"github.com/receiptgate/core/pkg/derive"
	"github.com/receiptgate/core/pkg/ledger"
	"github.com/receiptgate/core/pkg/observability"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rpc"
	"github.com/receiptgate/core/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out. Its return value is
// the process exit code, per §6.6: 0 clean shutdown, 1 configuration error,
// 2 migration failure, 3 fatal runtime error.
var startServer = runServer

// Run is the CLI entrypoint, dispatching on args[1] the way the teacher's
// helm binary dispatches subcommands.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer()
	}

	switch args[1] {
	case "server", "serve":
		return startServer()
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer()
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ReceiptGate")
	fmt.Fprintln(w, "An append-only, content-addressed receipt ledger.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  receiptgate <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server    Run the ReceiptGate JSON-RPC server (default)")
	fmt.Fprintln(w, "  health    Check server health (HTTP)")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

// runServer wires and runs the server, returning the process exit code
// (§6.6) rather than calling os.Exit directly so Run stays testable.
func runServer() int {
	ctx := context.Background()
	cfg := config.Load()
	logger := slog.Default()

	if profilePath := os.Getenv("RECEIPTGATE_PROFILE"); profilePath != "" {
		profile, err := config.LoadProfile(profilePath)
		if err != nil {
			log.Printf("[receiptgate] failed to load profile: %v", err)
			return 1
		}
		cfg.ApplyProfile(profile)
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("[receiptgate] invalid configuration: %v", err)
		return 1
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		if errors.Is(err, store.ErrMigrationFailed) {
			log.Printf("[receiptgate] migration failed: %v", err)
			return 2
		}
		log.Printf("[receiptgate] failed to open store: %v", err)
		return 3
	}
	defer st.Close()

	pool := store.NewPool(cfg.MaxConcurrentWrites())
	validator := receipt.NewValidator(int(cfg.ReceiptBodyMaxBytes))
	core := ledger.NewCore(st, validator, pool, ledger.WithEdgeProjection(cfg.EnableGraphLayer))
	engine := derive.NewEngine(st)

	srv := rpc.NewServer(core, engine)
	dispatcher := rpc.NewDispatcher()
	srv.Register(dispatcher)

	auth := rpc.NewAuthenticator(cfg.APIKey, cfg.AllowInsecureDev)
	if !auth.Ready() {
		log.Printf("[receiptgate] auth misconfigured: set RECEIPTGATE_API_KEY or RECEIPTGATE_ALLOW_INSECURE_DEV=true")
		return 1
	}

	shutdownTracing := observability.InstallTracerProvider("receiptgate")
	defer shutdownTracing(ctx)

	httpSrv := rpc.NewHTTPServer(dispatcher, auth, logger, func(pingCtx context.Context) error {
		db := st.DB()
		if db == nil {
			return nil
		}
		return db.PingContext(pingCtx)
	})

	go func() {
		logger.Info("receiptgate: health server listening", "addr", ":"+cfg.HealthPort)
		if err := http.ListenAndServe(":"+cfg.HealthPort, httpSrv.HealthHandler()); err != nil {
			logger.Error("receiptgate: health server error", "error", err)
		}
	}()

	logger.Info("receiptgate: ready", "addr", "http://localhost:"+cfg.Port+"/mcp")
	go func() {
		if err := http.ListenAndServe(":"+cfg.Port, httpSrv.Handler()); err != nil {
			logger.Error("receiptgate: rpc server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("receiptgate: shutting down")
	return 0
}

// openStore dispatches to the postgres or sqlite backend based on the
// database URL's scheme (§6.4), stripping the scheme ReceiptGate documents
// (sqlite:///… , postgres://…) down to what each driver actually expects.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres:") || strings.HasPrefix(cfg.DatabaseURL, "postgresql:"):
		return store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.AutoMigrate)
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"):
		return store.OpenSQLite(ctx, strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"), cfg.AutoMigrate)
	default:
		return store.OpenSQLite(ctx, cfg.DatabaseURL, cfg.AutoMigrate)
	}
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get("http://localhost:" + cfg.HealthPort + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}
