// Package reaper dispatches sandbox cleanup through a durable, retryable
// job queue instead of a best-effort goroutine. It never carries sandbox
// definitions — only "clean up whatever id NNN left behind" jobs — so it
// cannot become a second, stale source of truth for live sandboxes; the
// in-memory sandbox.Registry remains the only one.
package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/matchbox-labs/sandboxd/internal/hostnet"
	"github.com/matchbox-labs/sandboxd/internal/ids"
	"github.com/matchbox-labs/sandboxd/internal/jailer"
	"github.com/matchbox-labs/sandboxd/internal/logging"
)

// TaskTypeCleanup is the only task type this queue ever carries.
const TaskTypeCleanup = "sandbox:cleanup"

// CleanupPayload names the orphaned sandbox to tear down and enough of its
// identifier to reconstruct the network and chroot paths without a live
// Sandbox value.
type CleanupPayload struct {
	ID                string `json:"id"`
	AddressBlockIndex int    `json:"address_block_index"`
}

// Config is the Redis connection and worker tuning asynq needs.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

// Reaper enqueues and processes sandbox cleanup jobs over asynq/Redis.
type Reaper struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux

	chrootBaseDir   string
	firecrackerPath string
	hostInterface   string
	runner          hostnet.Runner
	logger          logging.Logger
}

// New returns a Reaper wired against redisOpt, ready to Enqueue jobs. Call
// Start to begin processing them; Start is optional for a process that only
// enqueues (e.g. the API server delegates processing to a separate worker).
func New(cfg Config, chrootBaseDir, firecrackerPath, hostInterface string, runner hostnet.Runner, logger logging.Logger) *Reaper {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 5
	}

	r := &Reaper{
		client:          asynq.NewClient(redisOpt),
		mux:             asynq.NewServeMux(),
		chrootBaseDir:   chrootBaseDir,
		firecrackerPath: firecrackerPath,
		hostInterface:   hostInterface,
		runner:          runner,
		logger:          logger,
	}

	r.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"cleanup": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			r.logf("cleanup task %s failed: %v", task.Type(), err)
		}),
	})
	r.mux.HandleFunc(TaskTypeCleanup, r.handleCleanup)

	return r
}

// Enqueue schedules a best-effort cleanup of an orphaned sandbox's host
// resources: its jailer tmux session, its chroot directory, and its network
// namespace/veth/iptables rules.
func (r *Reaper) Enqueue(ctx context.Context, id string, blockIndex int) error {
	payload, err := json.Marshal(CleanupPayload{ID: id, AddressBlockIndex: blockIndex})
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeCleanup, payload, asynq.MaxRetry(5), asynq.Queue("cleanup"))
	if _, err := r.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue cleanup job for sandbox %s: %w", id, err)
	}
	return nil
}

// Start runs the asynq server until ctx is cancelled, then shuts down.
func (r *Reaper) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.server.Run(r.mux) }()

	select {
	case <-ctx.Done():
		r.server.Shutdown()
		return r.client.Close()
	case err := <-errCh:
		return err
	}
}

func (r *Reaper) handleCleanup(ctx context.Context, task *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal cleanup payload: %w", err)
	}

	if err := jailer.Kill(ctx, payload.ID); err != nil {
		r.logf("cleanup: failed to kill jailer session for %s: %v", payload.ID, err)
	}

	vmDir := jailer.VMDirectory(r.chrootBaseDir, r.firecrackerPath, payload.ID)
	if err := removeAll(vmDir); err != nil {
		r.logf("cleanup: failed to remove vm directory %s: %v", vmDir, err)
	}

	block := ids.VmIdentifier{ID: payload.ID, AddressBlockIndex: payload.AddressBlockIndex}.AddressBlock()
	network := hostnet.Orphaned(payload.ID, block, r.hostInterface, r.runner)
	network.Teardown(ctx, r.logf)

	return nil
}

func removeAll(path string) error {
	return os.RemoveAll(path)
}

func (r *Reaper) logf(format string, args ...interface{}) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(context.Background(), fmt.Sprintf(format, args...), nil)
}
