package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/cache"
	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/queue"
	"github.com/ShayCichocki/roundtable/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the research API",
	Long: `Start the HTTP API and the background job queue.

Submitted tasks are stored in the database, run by a pool of workers and
cached in Redis when it is enabled. Progress is available as server-sent
events at /api/research/{id}/events.

Changing logging.level in the config file takes effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8000)")
}

// watchedConfigPath returns the config file a running server follows.
func watchedConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if path := config.GetProjectConfigPath(); path != "" {
		return path
	}
	if _, err := os.Stat(config.GetUserConfigPath()); err == nil {
		return config.GetUserConfigPath()
	}
	return ""
}

// openCache connects to Redis. A cache that cannot be reached is still
// returned since lookups degrade to misses.
func openCache(ctx context.Context, c *config.Config) (*cache.Cache, error) {
	log := namedLogger("cache")
	rc, err := cache.New(c.Redis.URL, cache.WithTTL(c.Redis.TTL), cache.WithLogger(log))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warnw("redis unreachable, results will not be cached until it is", "error", err)
	}
	return rc, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := *cfg
	if serveAddr != "" {
		c.Server.Addr = serveAddr
	}
	log := namedLogger("serve")

	// Fail before listening when the model settings are unusable.
	if _, err := newEndpoint(&c); err != nil {
		return fmt.Errorf("create model endpoint: %w", err)
	}

	store, err := openStore(&c)
	if err != nil {
		return err
	}
	defer store.Close()

	if n, err := store.RecoverInterrupted(); err != nil {
		log.Warnw("failed to recover interrupted tasks", "error", err)
	} else if n > 0 {
		log.Infow("recovered interrupted tasks", "count", n)
	}

	broadcaster := queue.NewBroadcaster(64).WithLogger(namedLogger("events"))
	collector := metrics.NewCollector()
	teamLog := namedLogger("team")

	dispatcherOpts := []queue.Option{
		queue.WithWorkers(c.Queue.Workers),
		queue.WithBacklog(c.Queue.Backlog),
		queue.WithJobTimeout(c.Queue.JobTimeout),
		queue.WithBroadcaster(broadcaster),
		queue.WithLogger(namedLogger("queue")),
		queue.WithTokenModel(c.Model.Name),
		queue.WithRunOptions(runOptions(&c)...),
		queue.WithModelInfo(modelInfo(&c)),
	}
	serverOpts := []server.Option{
		server.WithBroadcaster(broadcaster),
		server.WithCollector(collector),
		server.WithAuth(c.Server.RequireAuth),
		server.WithConfig(&c),
		server.WithAllowedOrigins(c.Server.AllowedOrigins...),
		server.WithTrustedProxies(c.Server.TrustedProxies...),
		server.WithSubmitRate(c.Server.SubmitPerMinute),
		server.WithLogger(namedLogger("api")),
	}

	if c.Redis.Enabled {
		rc, err := openCache(ctx, &c)
		if err != nil {
			log.Warnw("result cache disabled", "error", err)
		} else {
			defer rc.Close()
			dispatcherOpts = append(dispatcherOpts, queue.WithCache(rc))
			serverOpts = append(serverOpts, server.WithCache(rc))
		}
	}

	factory := func() (queue.Runner, error) {
		t, err := newTeam(&c, collector, teamLog)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	dispatcher, err := queue.NewDispatcher(factory, store, dispatcherOpts...)
	if err != nil {
		return err
	}

	srv, err := server.New(store, dispatcher, serverOpts...)
	if err != nil {
		return err
	}

	if path := watchedConfigPath(); path != "" {
		err := config.Watch(path, func(next *config.Config, e fsnotify.Event) {
			if err := next.Validate(); err != nil {
				log.Warnw("ignoring invalid config change", "file", e.Name, "error", err)
				return
			}
			logging.SetLevel(next.Logging.Level)
			srv.SetConfig(next)
			log.Infow("config reloaded", "file", e.Name, "log_level", next.Logging.Level)
		}, log)
		if err != nil {
			log.Warnw("config changes will not be picked up", "file", path, "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(c.Server.Addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			shutdownDispatcher(dispatcher, c.Server.ShutdownTimeout)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infow("shutting down", "timeout", c.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop api: %w", err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop queue: %w", err))
	}
	<-errCh
	return errors.Join(errs...)
}

func shutdownDispatcher(d *queue.Dispatcher, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = d.Stop(ctx)
}
