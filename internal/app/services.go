package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/cleanup"
	"github.com/nhle/mail-triage/internal/correction"
	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/digest"
	"github.com/nhle/mail-triage/internal/httpapi"
	"github.com/nhle/mail-triage/internal/labels"
	"github.com/nhle/mail-triage/internal/mailstore"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/schedule"
	"github.com/nhle/mail-triage/internal/store"
	"github.com/nhle/mail-triage/internal/triage"
)

// Services is the explicit dependency bundle: every component is
// constructed once here and handed its collaborators. Nothing in the
// program reaches for package-level state.
type Services struct {
	Config     *model.AppConfig
	Logger     *zap.Logger
	Store      store.Store
	Mailstore  mailstore.Mailstore
	Classifier classify.Classifier
	Labels     *labels.LabelMap
	Sweeper    *correction.Sweeper
	Engine     *triage.Engine
	Digest     *digest.Lifecycle
	Cleanup    *cleanup.Reconciler
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Runner     *schedule.Runner
	HTTP       *httpapi.Server

	sqlite *store.SQLiteStore
}

// Build constructs the full service graph from configuration and the
// credentials in the OS keyring. The label topology is initialized
// before anything else may touch the mailbox.
func Build(ctx context.Context, cfg *model.AppConfig, logger *zap.Logger) (*Services, error) {
	imapPassword, err := credential.Get(credential.KeyIMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("loading IMAP password: %w", err)
	}
	smtpPassword, err := credential.Get(credential.KeySMTPPassword)
	if err != nil {
		// SMTP commonly shares the IMAP credential.
		smtpPassword = imapPassword
	}
	apiKey, err := credential.Get(credential.KeyAnthropicAPI)
	if err != nil {
		return nil, fmt.Errorf("loading Anthropic API key: %w", err)
	}

	sqlite, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ms := mailstore.NewIMAPStore(
		cfg.IMAP.Host, cfg.IMAP.Port,
		cfg.IMAP.Username, imapPassword,
		cfg.IMAP.TLS,
		mailstore.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.IMAP.Username,
			Password: smtpPassword,
			TLS:      cfg.SMTP.TLS,
		},
	)

	classifier := classify.NewAnthropicClassifier(apiKey, cfg.AI)

	labelMap := labels.NewLabelMap(ms, logger)
	if err := labelMap.Initialize(ctx, cfg.Folders); err != nil {
		sqlite.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(registry)

	sweeper := correction.NewSweeper(sqlite, ms, labelMap, classifier, mt, logger)
	engine := triage.NewEngine(sqlite, ms, labelMap, classifier, sweeper, mt, cfg.Triage, logger)
	lifecycle := digest.NewLifecycle(sqlite, ms, classifier, cfg.Digest, cfg.Triage.SelfAddress, logger)
	reconciler := cleanup.NewReconciler(sqlite, ms, labelMap, logger)

	httpServer := httpapi.New(cfg.HTTP.ListenAddr, reconciler, mt, registry, logger)

	return &Services{
		Config:     cfg,
		Logger:     logger,
		Store:      sqlite,
		Mailstore:  ms,
		Classifier: classifier,
		Labels:     labelMap,
		Sweeper:    sweeper,
		Engine:     engine,
		Digest:     lifecycle,
		Cleanup:    reconciler,
		Metrics:    mt,
		Registry:   registry,
		Runner:     schedule.New(logger),
		HTTP:       httpServer,
		sqlite:     sqlite,
	}, nil
}

// RegisterJobs wires the triage and digest loops onto the runner.
func (s *Services) RegisterJobs() {
	s.Runner.Register("triage",
		time.Duration(s.Config.Triage.PollIntervalSec)*time.Second,
		s.Engine.RunCycle,
	)
	s.Runner.Register("digest",
		time.Duration(s.Config.Digest.IntervalSec)*time.Second,
		func(ctx context.Context) error {
			_, err := s.Digest.GenerateAndSend(ctx)
			if errors.Is(err, digest.ErrNothingToSend) {
				return nil
			}
			if err == nil {
				s.Metrics.DigestsSentTotal.Inc()
			}
			return err
		},
	)
}

// Close releases held resources.
func (s *Services) Close() error {
	return s.sqlite.Close()
}
