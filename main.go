package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/stevemurr/shopping-list-server/config"
	"github.com/stevemurr/shopping-list-server/handler"
	"github.com/stevemurr/shopping-list-server/schema"
	"github.com/stevemurr/shopping-list-server/store"
)

var appVersion = "dev"

var log = commonlog.GetLogger("shopping.server")

// corsMiddleware wraps an http.Handler with CORS headers. methods is
// advertised as-is to preflight requests.
func corsMiddleware(next http.Handler, allowedOrigins, methods []string) http.Handler {
	// Fast path: wildcard allows everything.
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowMethods := strings.Join(methods, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", allowMethods)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func configureLogging(level string) {
	// commonlog.Configure verbosity: 1=Error, 2=Warning, 3=Notice, 4=Info, 5=Debug
	verbosity := 4
	switch level {
	case "debug":
		verbosity = 5
	case "info":
		verbosity = 4
	case "notice":
		verbosity = 3
	case "warning", "warn":
		verbosity = 2
	case "error":
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
}

// newServer builds the store and the HTTP stack described by cfg. The
// returned backend must be closed by the caller.
func newServer(cfg config.Config) (*http.Server, store.Backend, error) {
	backend, err := store.NewBackend(cfg.Backend, cfg.DataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create store (backend=%s): %w", cfg.Backend, err)
	}

	opts := cfg.StoreOptions()
	if cfg.ValidateRecords {
		opts.Validator = schema.NewRegistry(cfg.Schemas)
	}
	s, err := store.NewDocumentStore(backend, opts)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	h := handler.New(s)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsMiddleware(h, cfg.AllowedOrigins, h.Methods()),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, backend, nil
}

func run(cfg config.Config) error {
	srv, backend, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Noticef("Shopping List Server starting on %s (store=%s, data=%s, policy=%s)",
			srv.Addr, cfg.Backend, cfg.DataPath, cfg.LoadPolicy)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Notice("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	var (
		showVersion bool
		configPath  string
		logLevel    string
	)

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warning, error (overrides config)")
	flag.Parse()

	if showVersion {
		fmt.Printf("shopping-list-server %s\n", appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shopping-list-server: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	configureLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Criticalf("server error: %v", err)
		os.Exit(1)
	}
}
