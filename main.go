package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/config"
	"github.com/gluk-w/pingmatrix/internal/directory"
	"github.com/gluk-w/pingmatrix/internal/handlers"
	"github.com/gluk-w/pingmatrix/internal/logging"
	"github.com/gluk-w/pingmatrix/internal/metrics"
	"github.com/gluk-w/pingmatrix/internal/middleware"
	"github.com/gluk-w/pingmatrix/internal/probe"
	"github.com/gluk-w/pingmatrix/internal/sink"
	"github.com/gluk-w/pingmatrix/internal/sshproxy"
	"github.com/gluk-w/pingmatrix/internal/storage"
	"github.com/gluk-w/pingmatrix/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config.Load()
	logging.Init(config.Cfg.LogLevel, config.Cfg.LogFormat, config.Cfg.LogPath)
	defer logging.Close()

	mode, args := "server", []string(nil)
	if len(os.Args) > 1 {
		mode, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch mode {
	case "server":
		err = runServer()
	case "agent":
		err = runAgent(args)
	case "keygen":
		err = runKeygen(args)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [server | agent [--once] | keygen [--key PATH]]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("exiting")
		logging.Close()
		os.Exit(1)
	}
}

func newServerRouter(allow *middleware.Allowlist, uiPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/pings", handlers.ListPings)
	r.With(middleware.RequireAllowlisted(allow), middleware.RequireJSON).Post("/pings", handlers.CreatePing)
	r.Get("/pings/stream", handlers.StreamPings)

	static := middleware.NewStaticDirHandler(uiPath)
	r.NotFound(static.ServeHTTP)
	r.MethodNotAllowed(static.ServeHTTP)
	return r
}

func runServer() error {
	allow, err := middleware.ParseAllowlist(config.Cfg.AllowedNetworks)
	if err != nil {
		return fmt.Errorf("PINGMATRIX_ALLOWED_NETWORKS: %w", err)
	}
	if allow.Empty() {
		log.Warn().Msg("allowlist is empty: every POST /pings will be rejected")
	}

	store, err := storage.Open(config.Cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	handlers.Store = store
	handlers.Stream = handlers.NewHub()

	srv := &http.Server{
		Addr:              config.Cfg.Listen,
		Handler:           newServerRouter(allow, config.Cfg.UIPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", config.Cfg.Listen).Str("storage", config.Cfg.StorageBackend).
			Str("allowed", allow.Raw).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func newDirectorySource() directory.Source {
	f := directory.Filter{
		ListA:  config.Cfg.DirectoryListA,
		ListB:  config.Cfg.DirectoryListB,
		Marker: config.Cfg.HostMarker,
	}
	if config.Cfg.DirectoryFile != "" {
		return &directory.FileDirectory{Path: config.Cfg.DirectoryFile, Filter: f}
	}
	return directory.NewHTTPDirectory(config.Cfg.DirectoryURL, f)
}

func newAgentRouter(agent handlers.AgentStatus, sessions handlers.SessionStates) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", handlers.AgentHealth(agent, sessions))
	r.Handle("/metrics", metrics.Handler())
	return r
}

func runAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	once := fs.Bool("once", false, "run a single round and exit")
	fs.Parse(args)

	if config.Cfg.SSHUser == "" {
		return errors.New("no SSH user: set PINGMATRIX_SSH_USER or SSH_USER")
	}
	signer, created, err := sshproxy.LoadOrCreateSigner(config.Cfg.SSHKeyPath)
	if err != nil {
		return fmt.Errorf("ssh identity: %w", err)
	}
	if created {
		log.Warn().Str("path", config.Cfg.SSHKeyPath).Str("public_key", sshproxy.AuthorizedKey(signer)).
			Msg("generated new SSH key; install the public key on every router")
	}
	hostKeys, err := sshproxy.HostKeyCallback(config.Cfg.KnownHosts)
	if err != nil {
		return fmt.Errorf("known hosts: %w", err)
	}

	cache := sshproxy.NewSessionCache(sshproxy.Options{
		User:            config.Cfg.SSHUser,
		Port:            config.Cfg.SSHPort,
		Signer:          signer,
		Timeout:         config.Cfg.SSHTimeout,
		HostKeyCallback: hostKeys,
	})
	defer func() {
		if err := cache.CloseAll(); err != nil {
			log.Warn().Err(err).Msg("closing router sessions")
		}
	}()

	pool := worker.NewPool(cache, probe.Prober{}, sink.NewHTTPSink(config.Cfg.ServerURL), worker.Options{
		ProbeCount:   config.Cfg.ProbeCount,
		ProbeTimeout: config.Cfg.ProbeTimeout,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := directory.NewWatcher(newDirectorySource(), config.Cfg.RefreshSchedule)
	if err := watcher.Start(sigCtx); err != nil {
		return err
	}

	agent := worker.NewAgent(pool, watcher, worker.AgentOptions{
		Concurrency: config.Cfg.Concurrency,
		Delay:       config.Cfg.ProbeDelay,
		Pause:       config.Cfg.RoundPause,
	})

	if *once {
		stats, err := agent.RunOnce(sigCtx)
		if err != nil && sigCtx.Err() == nil {
			return err
		}
		log.Info().Str("round", stats.RoundID).Int("succeeded", stats.Succeeded).Msg("single round complete")
		return nil
	}

	var srv *http.Server
	if config.Cfg.AgentListen != "" {
		srv = &http.Server{
			Addr:              config.Cfg.AgentListen,
			Handler:           newAgentRouter(agent, cache),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", config.Cfg.AgentListen).Msg("agent status listener starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("agent status listener failed")
			}
		}()
	}

	log.Info().Str("server", config.Cfg.ServerURL).Int("concurrency", config.Cfg.Concurrency).
		Dur("probe_delay", config.Cfg.ProbeDelay).Msg("agent starting")
	runErr := agent.Run(sigCtx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return runErr
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	path := fs.String("key", config.Cfg.SSHKeyPath, "private key path")
	fs.Parse(args)

	signer, created, err := sshproxy.LoadOrCreateSigner(*path)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("path", *path).Msg("generated SSH key")
	} else {
		log.Info().Str("path", *path).Msg("SSH key already exists")
	}
	fmt.Print(sshproxy.AuthorizedKey(signer))
	return nil
}
