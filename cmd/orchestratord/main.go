// Command orchestratord is the sandbox orchestrator's HTTP server: it wires
// config, logging, the sandbox coordinator/registry, and the optional
// audit/reaper/discovery ambient components, then serves the /sandbox API
// until signalled to shut down. Grounded in cmd/api-gateway/main.go's
// wiring and graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matchbox-labs/sandboxd/internal/audit"
	"github.com/matchbox-labs/sandboxd/internal/config"
	"github.com/matchbox-labs/sandboxd/internal/discovery"
	"github.com/matchbox-labs/sandboxd/internal/hostnet"
	"github.com/matchbox-labs/sandboxd/internal/httpapi"
	"github.com/matchbox-labs/sandboxd/internal/jailer"
	"github.com/matchbox-labs/sandboxd/internal/logging"
	"github.com/matchbox-labs/sandboxd/internal/reaper"
	"github.com/matchbox-labs/sandboxd/internal/sandbox"
)

func main() {
	configPath := flag.String("config", "config/sandboxd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewStdoutLogger(true, logging.Level(strings.ToUpper(cfg.Logging.Level)))

	coordinator := sandbox.NewCoordinator()
	coordinator.HostInterface = cfg.Network.HostInterface
	coordinator.Runner = hostnet.ExecRunner{}
	coordinator.JailerLauncher = jailer.Launcher{
		JailerPath:      cfg.Jailer.JailerPath,
		FirecrackerPath: cfg.Jailer.FirecrackerPath,
		ChrootBaseDir:   cfg.Jailer.ChrootBaseDir,
	}
	coordinator.KernelImagePath = cfg.VM.KernelImagePath
	coordinator.RootfsPath = cfg.VM.RootfsPath
	coordinator.DummyDrivePath = cfg.VM.DummyDrivePath
	coordinator.Logger = logger

	registry := sandbox.NewRegistry(coordinator)

	var trail *audit.Trail
	if cfg.Audit.Enabled {
		trail, err = audit.Open(audit.Config{
			Host:         cfg.Audit.Host,
			Port:         cfg.Audit.Port,
			User:         cfg.Audit.User,
			Password:     cfg.Audit.Password,
			Database:     cfg.Audit.Database,
			SSLMode:      cfg.Audit.SSLMode,
			MaxOpenConns: cfg.Audit.MaxOpenConns,
			MaxIdleConns: cfg.Audit.MaxIdleConns,
		})
		if err != nil {
			log.Fatalf("failed to open audit trail: %v", err)
		}
		if err := trail.RunMigrations("migrations"); err != nil {
			log.Fatalf("failed to run audit migrations: %v", err)
		}
		defer trail.Close()
	}

	var cleanupQueue *reaper.Reaper
	if cfg.Queue.Enabled {
		cleanupQueue = reaper.New(
			reaper.Config{RedisAddr: cfg.Queue.RedisAddr},
			cfg.Jailer.ChrootBaseDir,
			cfg.Jailer.FirecrackerPath,
			cfg.Network.HostInterface,
			hostnet.ExecRunner{},
			logger,
		)

		queueCtx, cancelQueue := context.WithCancel(context.Background())
		defer cancelQueue()
		go func() {
			if err := cleanupQueue.Start(queueCtx); err != nil {
				logger.Error(context.Background(), "cleanup queue stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	var registration *discovery.Registry
	if cfg.Discovery.ConsulAddr != "" {
		registration, err = discovery.New(discovery.Config{
			Address:        cfg.Discovery.ConsulAddr,
			ServiceName:    cfg.Discovery.ServiceName,
			ServiceID:      fmt.Sprintf("%s-%d", cfg.Discovery.ServiceName, os.Getpid()),
			ServiceAddress: cfg.Server.Host,
			ServicePort:    cfg.Server.Port,
		})
		if err != nil {
			log.Fatalf("failed to create consul registry: %v", err)
		}
		if err := registration.Register(fmt.Sprintf("http://%s:%d/sandbox", cfg.Server.Host, cfg.Server.Port)); err != nil {
			log.Fatalf("failed to register with consul: %v", err)
		}
		defer registration.Deregister()
	}

	srv := httpapi.New(registry, logger, trail)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	go func() {
		log.Printf("sandboxd listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down sandboxd...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	// Destroy every live sandbox before exiting.
	for _, view := range registry.List() {
		if _, err := registry.Delete(ctx, view.ID); err != nil {
			log.Printf("error destroying sandbox %s: %v", view.ID, err)
		}
	}
}
