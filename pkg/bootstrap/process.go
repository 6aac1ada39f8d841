// Package bootstrap holds the startup sequence shared by every binary:
// environment, config, logger, backing clients and graceful shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db"
	"github.com/angelmondragon/lackmarkt-backend/pkg/instance"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/migrate"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pubsub"
	"github.com/angelmondragon/lackmarkt-backend/pkg/redis"
	"github.com/angelmondragon/lackmarkt-backend/pkg/storage/gcs"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
)

// Process is one running binary. Clients opened through it are closed in
// reverse order by Close, and by Fatal before the process exits.
type Process struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(code int)
}

type closer struct {
	name string
	fn   func() error
}

// Start loads .env (optional), the config and the service logger. It exits
// the process when the config is invalid.
func Start(name string) *Process {
	p := &Process{Name: name, Logger: logger.New(logger.Options{ServiceName: name}), exit: os.Exit}

	if err := godotenv.Load(); err != nil {
		p.Logger.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		p.Fatal("failed to load config", err)
	}
	cfg.Service.Kind = name
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: name,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	return p
}

// Check ends the process when err is set. what names the component whose
// construction failed.
func (p *Process) Check(what string, err error) {
	if err != nil {
		p.Fatal("failed to create "+what, err)
	}
}

// Fatal logs err, closes everything opened so far and exits with status 1.
func (p *Process) Fatal(msg string, err error) {
	p.Logger.Error(context.Background(), msg, err)
	p.Close()
	p.exit(1)
}

// OnClose registers fn to run at shutdown.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers newest first and logs their failures.
func (p *Process) Close() {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	p.closers = nil
	if errs != nil {
		p.Logger.Error(context.Background(), "shutdown left resources open", errs)
	}
}

// Signals returns a context canceled on SIGINT or SIGTERM, tagged with the
// fields every log line of the process should carry.
func (p *Process) Signals() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logger.WithFields(ctx, map[string]any{
		"env":         p.Config.App.Env,
		"instance":    instance.ID(),
		"serviceKind": p.Config.Service.Kind,
	}), stop
}

// Database opens the pool and applies pending migrations in dev.
func (p *Process) Database() *db.Client {
	ctx := context.Background()
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		p.Fatal("failed to bootstrap database", err)
	}
	p.OnClose("database", client.Close)
	if err := migrate.AutoApply(ctx, p.Config, p.Logger, client); err != nil {
		p.Fatal("failed to run dev migrations", err)
	}
	return client
}

func (p *Process) Redis() *redis.Client {
	client, err := redis.New(context.Background(), p.Config.Redis, p.Logger)
	if err != nil {
		p.Fatal("failed to bootstrap redis", err)
	}
	p.OnClose("redis", client.Close)
	return client
}

func (p *Process) Storage() *gcs.Client {
	client, err := gcs.NewClient(context.Background(), p.Config.GCS, p.Config.GCP, p.Logger)
	if err != nil {
		p.Fatal("failed to bootstrap gcs", err)
	}
	p.OnClose("gcs", client.Close)
	return client
}

func (p *Process) PubSub(needs pubsub.Needs) *pubsub.Client {
	client, err := pubsub.NewClient(context.Background(), p.Config.GCP, p.Config.PubSub, needs, p.Logger)
	if err != nil {
		p.Fatal("failed to bootstrap pubsub", err)
	}
	p.OnClose("pubsub", client.Close)
	return client
}

func (p *Process) Stripe() *stripe.Client {
	client, err := stripe.NewClient(context.Background(), p.Config.Stripe, p.Logger)
	if err != nil {
		p.Fatal("failed to bootstrap stripe client", err)
	}
	return client
}

// Metrics returns a fresh registry with the Go runtime and process
// collectors registered.
func (p *Process) Metrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
