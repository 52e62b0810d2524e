package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"adoptline/internal/config"
	"adoptline/internal/db"
	"adoptline/internal/directory"
	"adoptline/internal/documents"
	"adoptline/internal/engine"
	"adoptline/internal/logging"
	"adoptline/internal/metrics"
	"adoptline/internal/migrate"
	"adoptline/internal/notify"
)

// App owns the process-wide collaborators built from a workspace config.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Engine    engine.Engine
	Log       *slog.Logger
	Metrics   *metrics.Metrics

	dispatcher *notify.Dispatcher
}

// Options override parts of the bootstrap; zero values keep config behaviour.
type Options struct {
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// SkipMigrate leaves the schema untouched.
	SkipMigrate bool
}

// Open loads the workspace config (defaults when adoptline.yml is absent),
// opens and migrates the database and wires the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config, opts Options) (*App, error) {
	if workspace == "" {
		workspace = "."
	}
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	log, err := logging.New(out, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: resolve(workspace, cfg.Database.Workspace),
	})
	if err != nil {
		return nil, err
	}
	if !opts.SkipMigrate {
		if err := migrate.Migrate(ctx, conn, dialect); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	m := metrics.New()
	docs, err := buildDocuments(ctx, workspace, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a := &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Dialect:   dialect,
		Log:       log,
		Metrics:   m,
	}
	deps := engine.Deps{
		Directory: buildDirectory(cfg),
		Log:       log,
		Metrics:   m,
	}
	if docs != nil {
		deps.Documents = docs
	}
	if next := buildNotifier(cfg, log); next != nil {
		a.dispatcher = notify.NewDispatcher(next, notify.DispatcherOptions{
			QueueSize:   cfg.Notifications.QueueSize,
			Workers:     cfg.Notifications.Workers,
			MaxAttempts: cfg.Notifications.MaxAttempts,
			Log:         log,
			Metrics:     m,
		})
		deps.Notifier = a.dispatcher
	}
	a.Engine = engine.New(conn, dialect, cfg, deps)
	log.Debug("workspace opened", "workspace", workspace, "dialect", dialect, "documents", cfg.Documents.Driver, "notifications", cfg.Notifications.Driver)
	return a, nil
}

// Close drains queued notifications until ctx ends, then closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func resolve(workspace, p string) string {
	switch {
	case p == "":
		return workspace
	case filepath.IsAbs(p):
		return p
	}
	return filepath.Join(workspace, p)
}

func buildDirectory(cfg *config.Config) directory.Directory {
	switch cfg.Directory.Driver {
	case "http":
		timeout := time.Duration(cfg.Directory.HTTP.TimeoutSeconds) * time.Second
		return directory.NewHTTPClient(cfg.Directory.HTTP.BaseURL, timeout)
	default:
		users := make(directory.Static, len(cfg.Directory.Users))
		for id, u := range cfg.Directory.Users {
			users[id] = directory.User{ID: id, DisplayName: u.DisplayName, Contact: u.Contact}
		}
		return users
	}
}

func buildDocuments(ctx context.Context, workspace string, cfg *config.Config) (*documents.Service, error) {
	var store documents.Store
	switch cfg.Documents.Driver {
	case "fs":
		fs, err := documents.NewFSStore(resolve(workspace, cfg.Documents.Dir), "")
		if err != nil {
			return nil, fmt.Errorf("documents: %w", err)
		}
		store = fs
	case "s3":
		s3cfg := cfg.Documents.S3
		s3store, err := documents.NewS3Store(ctx, documents.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			PathStyle:       s3cfg.PathStyle,
			AccessKeyID:     os.Getenv("ADOPTLINE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ADOPTLINE_S3_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, fmt.Errorf("documents: %w", err)
		}
		return documents.NewService(documents.NewTemplateGenerator(), s3store, s3cfg.Prefix), nil
	default:
		return nil, nil
	}
	return documents.NewService(documents.NewTemplateGenerator(), store, ""), nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notify.Notifier {
	switch cfg.Notifications.Driver {
	case "log":
		return notify.LogNotifier{Log: log}
	case "webhook":
		wh := cfg.Notifications.Webhook
		return notify.NewWebhookNotifier(wh.URL, wh.Secret, time.Duration(wh.TimeoutSeconds)*time.Second)
	default:
		return nil
	}
}
