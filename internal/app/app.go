package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"slack2chat/internal/chat"
	"slack2chat/internal/checkpoint"
	"slack2chat/internal/config"
	"slack2chat/internal/export"
	"slack2chat/internal/files"
	"slack2chat/internal/metrics"
	"slack2chat/internal/migrate"
	"slack2chat/internal/progress"
	"slack2chat/internal/state"
	"slack2chat/internal/users"
	"slack2chat/internal/worker"
)

// Migrator represents the main migration application
type Migrator struct {
	cfg        *config.Config
	logger     *zap.Logger
	loader     *export.Loader
	client     chat.Client
	resolver   users.Resolver
	ledger     *state.Ledger
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	discovery  *migrate.Discovery
	processor  *migrate.ChannelProcessor
	workers    *worker.Pool
}

// New creates a new migrator instance
func New(cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	loader := export.NewLoader(cfg.Export.Root, logger)
	if err := loader.Validate(); err != nil {
		return nil, fmt.Errorf("invalid export: %w", err)
	}

	metricsCollector := metrics.New()
	client := buildClient(cfg, metricsCollector.ObserveAPICall)
	ledger := state.NewLedger()

	exportUsers, err := loader.Users()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	resolver := buildResolver(cfg, client, exportUsers, ledger, metricsCollector.ObserveAPICall, logger)

	var checkpointStore checkpoint.Store
	if cfg.Migration.Checkpoint != "" && !cfg.Migration.Validate {
		checkpointStore, err = checkpoint.NewSQLiteStore(cfg.Migration.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
	}

	opts := migrate.Options{
		Resume:               cfg.Migration.Resume,
		Validate:             cfg.Migration.Validate,
		IgnoreBots:           cfg.Migration.IgnoreBots,
		SpacePrefix:          cfg.Migration.SpacePrefix,
		SpaceMapping:         cfg.SpaceMapping,
		SendThrottle:         time.Duration(cfg.Migration.SendThrottleMs) * time.Millisecond,
		MembershipDelay:      time.Duration(cfg.Migration.MembershipDelayMs) * time.Millisecond,
		MaxFailurePercent:    cfg.Migration.MaxFailurePercent,
		DeleteSpacesOnErrors: cfg.Migration.DeleteSpacesOnErrs,
	}

	stager, err := buildStager(cfg, logger)
	if err != nil {
		return nil, err
	}

	reactions := migrate.NewReactionProcessor(opts, ledger, resolver, metricsCollector, logger)
	builder := migrate.NewBuilder(ledger, resolver)
	sender := migrate.NewSender(opts, ledger, resolver, builder, stager, reactions,
		checkpointStore, metricsCollector, logger)
	historical := migrate.NewHistoricalMembership(opts, client, resolver, ledger, metricsCollector, logger)
	regular := migrate.NewRegularMembership(opts, client, resolver, ledger, metricsCollector, logger)
	discovery := migrate.NewDiscovery(opts, client, ledger, logger)

	processor := migrate.NewChannelProcessor(opts, migrate.ChannelProcessorDeps{
		Ledger:     ledger,
		Resolver:   resolver,
		Loader:     loader,
		Client:     client,
		Sender:     sender,
		Historical: historical,
		Regular:    regular,
		Discovery:  discovery,
		Store:      checkpointStore,
		Metrics:    metricsCollector,
		Logger:     logger,
	})

	workerPool := worker.NewPool(cfg.Migration.Concurrency, processor, logger)

	return &Migrator{
		cfg:        cfg,
		logger:     logger,
		loader:     loader,
		client:     client,
		resolver:   resolver,
		ledger:     ledger,
		checkpoint: checkpointStore,
		metrics:    metricsCollector,
		discovery:  discovery,
		processor:  processor,
		workers:    workerPool,
	}, nil
}

func buildClient(cfg *config.Config, observe func(time.Duration)) chat.Client {
	if cfg.Migration.DryRun || cfg.Migration.Validate {
		return chat.NewDryRunClient()
	}
	token := cfg.Chat.Token
	return chat.NewHTTPClient(chat.HTTPClientOptions{
		BaseURL:       cfg.Chat.Endpoint,
		TokenProvider: func(context.Context) (string, error) { return token, nil },
		UserAgent:     "slack2chat",
		ObserveCall:   observe,
	})
}

func buildResolver(cfg *config.Config, admin chat.Client, exportUsers map[string]export.User,
	ledger *state.Ledger, observe func(time.Duration), logger *zap.Logger) users.Resolver {
	userMap := make(map[string]string, len(exportUsers))
	for id, u := range exportUsers {
		if u.Profile.Email != "" {
			userMap[id] = u.Profile.Email
		}
	}
	// Operator overrides win over the export's own emails.
	for id, email := range cfg.Workspace.UserOverrides {
		userMap[id] = email
	}

	var factory users.DelegateFactory
	if len(cfg.Chat.UserTokens) > 0 {
		endpoint := cfg.Chat.Endpoint
		tokens := cfg.Chat.UserTokens
		factory = func(email string) (chat.Client, error) {
			token, ok := tokens[email]
			if !ok {
				return nil, fmt.Errorf("no delegated token for %s", email)
			}
			return chat.NewHTTPClient(chat.HTTPClientOptions{
				BaseURL:       endpoint,
				TokenProvider: func(context.Context) (string, error) { return token, nil },
				UserAgent:     "slack2chat",
				ObserveCall:   observe,
			}), nil
		}
	}

	return users.NewDirectory(users.DirectoryOptions{
		Users:           exportUsers,
		UserMap:         userMap,
		WorkspaceDomain: cfg.Workspace.Domain,
		AdminEmail:      cfg.Workspace.AdminEmail,
		Admin:           admin,
		Delegates:       factory,
		Reporter:        ledger,
		Logger:          logger,
	})
}

func buildStager(cfg *config.Config, logger *zap.Logger) (files.Stager, error) {
	if !cfg.Attachments.Enabled || cfg.Migration.DryRun || cfg.Migration.Validate {
		return files.NoopStager{}, nil
	}
	stager, err := files.NewMinIOStager(files.Config{
		Endpoint:  cfg.Attachments.Endpoint,
		AccessKey: cfg.Attachments.AccessKey,
		SecretKey: cfg.Attachments.SecretKey,
		Bucket:    cfg.Attachments.Bucket,
		Secure:    cfg.Attachments.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment stager: %w", err)
	}
	logger.Info("Attachment staging enabled", zap.String("bucket", cfg.Attachments.Bucket))
	return stager, nil
}

// Run executes the migration process
func (m *Migrator) Run(ctx context.Context) error {
	m.logger.Info("Starting migration",
		zap.String("export", m.cfg.Export.Root),
		zap.Int("concurrency", m.cfg.Migration.Concurrency),
		zap.Bool("dry_run", m.cfg.Migration.DryRun),
		zap.Bool("resume", m.cfg.Migration.Resume),
		zap.Bool("validate", m.cfg.Migration.Validate),
	)

	m.ledger.ResetForRun()

	if m.cfg.Migration.Resume {
		if err := m.prepareResume(ctx); err != nil {
			return err
		}
	}

	channels, err := m.loader.Channels()
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}

	if m.cfg.Migration.MetricsAddr != "" {
		go func() {
			if err := m.metrics.StartServer(m.cfg.Migration.MetricsAddr); err != nil {
				m.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	totalMessages := m.countMessages(channels)
	m.metrics.SetTotals(int64(len(channels)), totalMessages)

	var progressDisplay *progress.Display
	if m.cfg.Migration.ShowProgress && !m.cfg.Migration.Validate && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(m.metrics.GetProgressTracker(), 2*time.Second)
		progressDisplay.Start()
	}

	tasks := make(chan worker.Task, m.cfg.Migration.Concurrency*2)
	var wg sync.WaitGroup
	m.workers.Start(ctx, tasks, &wg)

	// Deterministic channel order keeps runs comparable.
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

enqueue:
	for _, name := range names {
		select {
		case tasks <- worker.Task{Channel: channels[name]}:
		case <-ctx.Done():
			break enqueue
		}
	}
	close(tasks)
	wg.Wait()

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	m.report()
	return ctx.Err()
}

// prepareResume hydrates the ledger from the checkpoint store and from the
// destination's existing spaces.
func (m *Migrator) prepareResume(ctx context.Context) error {
	if m.checkpoint != nil {
		keys, err := m.checkpoint.ListSentKeys()
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		m.ledger.SeedSent(keys)

		records, err := m.checkpoint.ListProgress()
		if err != nil {
			return fmt.Errorf("failed to read channel progress: %w", err)
		}
		for _, rec := range records {
			m.ledger.SetLastProcessed(rec.Channel, rec.LastTimestamp)
		}
		m.logger.Info("Checkpoint loaded",
			zap.Int("sent_messages", len(keys)),
			zap.Int("channels", len(records)))
	}

	if err := m.discovery.LoadExistingMappings(ctx); err != nil {
		return fmt.Errorf("failed to discover existing spaces: %w", err)
	}
	return nil
}

func (m *Migrator) countMessages(channels map[string]export.Channel) int64 {
	var total int64
	for name := range channels {
		msgs, err := m.loader.Messages(name)
		if err != nil {
			m.logger.Warn("Failed to count messages", zap.String("channel", name), zap.Error(err))
			continue
		}
		total += int64(len(msgs))
	}
	return total
}

// report logs the final run summary: totals, failures, and everything the
// operator must act on before the next run.
func (m *Migrator) report() {
	s := m.ledger.Summary()
	m.logger.Info("Migration completed",
		zap.Int("channels", len(s.ChannelsProcessed)),
		zap.Int("spaces_created", s.SpacesCreated),
		zap.Int("messages_created", s.MessagesCreated),
		zap.Int("reactions_created", s.ReactionsCreated),
		zap.Int("files_created", s.FilesCreated),
		zap.Int("memberships_added", s.MembershipsAdded),
	)

	if failures := m.ledger.Failures(); len(failures) > 0 {
		m.logger.Warn("Messages failed to send", zap.Int("count", len(failures)))
		for _, f := range failures {
			m.logger.Debug("failed message",
				zap.String("channel", f.Channel),
				zap.String("ts", f.TS),
				zap.String("error", f.Error))
		}
	}
	if skipped := m.ledger.SkippedReactions(); len(skipped) > 0 {
		m.logger.Warn("Reactions skipped for unmapped users", zap.Int("count", len(skipped)))
	}
	if external := m.ledger.ExternalUsers(); len(external) > 0 {
		m.logger.Info("External users encountered", zap.Strings("emails", external))
	}
	if conflicts := m.ledger.Conflicts(); len(conflicts) > 0 {
		m.logger.Warn("Channels blocked by space conflicts, resolve via space_mapping",
			zap.Strings("channels", conflicts))
	}
	if incomplete := m.ledger.IncompleteImports(); len(incomplete) > 0 {
		for space, channel := range incomplete {
			m.logger.Warn("Space left in import mode",
				zap.String("space", space), zap.String("channel", channel))
		}
	}
	for channel, pct := range m.ledger.HighFailureRateChannels() {
		m.logger.Warn("Channel aborted on failure rate",
			zap.String("channel", channel), zap.Float64("percent", pct))
	}
}

// Close cleans up resources
func (m *Migrator) Close() error {
	if m.checkpoint != nil {
		m.checkpoint.Close()
	}
	return nil
}
