package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nightshift/droplet-scheduler/internal/config"
	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	appfsm "github.com/nightshift/droplet-scheduler/pkg/fsm"
	"github.com/nightshift/droplet-scheduler/pkg/journal"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle"
	"github.com/nightshift/droplet-scheduler/pkg/storage"
)

const userAgent = "droplet-scheduler"

// loadConfig loads configuration, validating it when the command talks to
// the API, then switches the default logger to the configured level and
// format.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "config invalid")
		}
	}
	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ensureDirectories creates the parent directory of the journal and the FSM
// store directory when they are configured.
func ensureDirectories(journalPath, fsmDBPath string) error {
	if journalPath != "" {
		if err := os.MkdirAll(filepath.Dir(journalPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create journal directory")
		}
	}
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}
	return nil
}

func newAPIClient(cfg *config.Config) (*digitalocean.Client, error) {
	client, err := digitalocean.NewClient(digitalocean.Options{
		Token:     cfg.APIToken,
		BaseURL:   cfg.APIURL,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "API client failed")
	}
	return client, nil
}

func newReportStore(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, storage.Options{
		Bucket:    cfg.ReportBucket,
		Prefix:    cfg.ReportPrefix,
		Region:    cfg.ReportRegion,
		Endpoint:  cfg.ReportEndpoint,
		PathStyle: cfg.ReportPathStyle,
	})
	if err != nil {
		return nil, errors.Wrap(err, "S3 client failed")
	}
	return client, nil
}

func timings(cfg *config.Config) lifecycle.Timings {
	return lifecycle.Timings{
		PollInterval:  cfg.PollInterval,
		ActionTimeout: cfg.ActionTimeout,
		LockBackoff:   cfg.LockBackoff,
		RetryBackoff:  cfg.RetryBackoff,
	}
}

// newOrchestrator wires every dependency of a reconcile. The returned close
// function releases the journal.
func newOrchestrator(ctx context.Context, cfg *config.Config) (*appfsm.Orchestrator, func(), error) {
	if err := ensureDirectories(cfg.JournalPath, cfg.FSMDBPath); err != nil {
		return nil, nil, err
	}

	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	window, err := cfg.Window()
	if err != nil {
		return nil, nil, errors.Wrap(err, "run-hours invalid")
	}
	slog.Info("schedule_loaded", "run_hours", window.String(), "empty", window.Empty())

	ocfg := appfsm.OrchestratorConfig{
		MachineConfig: appfsm.MachineConfig{
			API:              api,
			Clock:            lifecycle.RealClock(),
			Window:           window,
			ImageNamespace:   cfg.ImageNamespace,
			DropletNamespace: cfg.DropletNamespace,
			Template: lifecycle.Template{
				Name:    cfg.DropletName,
				Region:  cfg.Region,
				Size:    cfg.Size,
				SSHKeys: cfg.SSHKeys,
				Tag:     cfg.DropletNamespace,
				IPv6:    cfg.IPv6,
			},
			Timings:    timings(cfg),
			MaxRetries: cfg.FSMMaxRetries,
		},
		FSMDBPath: cfg.FSMDBPath,
	}

	closeFn := func() {}
	if cfg.JournalPath != "" {
		repo, err := journal.NewRepository(cfg.JournalPath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "journal init failed")
		}
		ocfg.Journal = repo
		closeFn = func() { repo.Close() }
	}
	if cfg.ReportBucket != "" {
		reports, err := newReportStore(ctx, cfg)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		ocfg.Reports = reports
	}

	return appfsm.NewOrchestrator(ocfg), closeFn, nil
}

// openJournal opens the configured journal for reading.
func openJournal(cfg *config.Config) (*journal.Repository, error) {
	if cfg.JournalPath == "" {
		return nil, fmt.Errorf("journal-path is not set")
	}
	repo, err := journal.NewRepository(cfg.JournalPath)
	if err != nil {
		return nil, errors.Wrap(err, "journal init failed")
	}
	return repo, nil
}
