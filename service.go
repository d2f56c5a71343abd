package chartersync

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-charter-sync/core"
	"github.com/goliatone/go-charter-sync/events"
	"github.com/goliatone/go-charter-sync/reconcile"
	"github.com/goliatone/go-charter-sync/security"
	"github.com/goliatone/go-charter-sync/store/cached"
	"github.com/goliatone/go-charter-sync/webhooks"
	"github.com/goliatone/go-charter-sync/worker"
	"github.com/goliatone/go-charter-sync/workflow"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	metricsRecorder   core.MetricsRecorder
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	persistenceClient any
	repositoryFactory any
	stores            core.StoreProvider
	keyring           *security.Keyring
	clock             core.Clock
	cacheOperators    bool
	notifier          core.EventNotifier
}

type Option func(*serviceBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithPersistenceClient is handed to a RepositoryStoreFactory set through
// WithRepositoryFactory.
func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a core.RepositoryStoreFactory or a
// core.StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithStores(stores core.StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.stores = stores
	}
}

// WithKeyring overrides the keyring built from webhooks.signing_keys.
func WithKeyring(keyring *security.Keyring) Option {
	return func(b *serviceBuilder) {
		b.keyring = keyring
	}
}

func WithClock(clock core.Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

// WithOperatorCache puts a go-repository-cache read-through cache in front of
// operator profile lookups.
func WithOperatorCache(enabled bool) Option {
	return func(b *serviceBuilder) {
		b.cacheOperators = enabled
	}
}

// WithEventNotifier is called for every newly recorded event, for example
// to enqueue it on a go-job queue.
func WithEventNotifier(notifier core.EventNotifier) Option {
	return func(b *serviceBuilder) {
		b.notifier = notifier
	}
}

// Service is the composition root and the driving-process contract:
// ingest, claim, complete, fail, get-or-create conversation, find work.
type Service struct {
	config         Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	observer       *core.Observer
	clock          core.Clock

	stores     core.StoreProvider
	keyring    *security.Keyring
	parser     *events.Parser
	gateway    *webhooks.Gateway
	scheduler  *webhooks.Scheduler
	claims     *webhooks.ClaimManager
	engine     *workflow.Engine
	reconciler *reconcile.Reconciler
	processor  *worker.Processor
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{runtimeConfig: cfg}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("charter", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("charter"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = core.NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = core.GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, fmt.Errorf("chartersync: load config: %w", err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, fmt.Errorf("chartersync: resolve config: %w", err)
	}

	stores, err := resolveStores(builder)
	if err != nil {
		return nil, err
	}
	keyring := builder.keyring
	if keyring == nil {
		keyring, err = security.KeyringFromConfig(finalConfig.Webhooks.SigningKeys)
		if err != nil {
			return nil, fmt.Errorf("chartersync: build signing keyring: %w", err)
		}
	}
	parser, err := events.NewParser()
	if err != nil {
		return nil, fmt.Errorf("chartersync: build event parser: %w", err)
	}

	observer := core.NewObserver("charter", logger, builder.metricsRecorder)
	operators := stores.OperatorStore()
	if builder.cacheOperators {
		cacheService, cacheErr := cached.NewCacheService(finalConfig.Cache)
		if cacheErr != nil {
			return nil, fmt.Errorf("chartersync: build operator cache: %w", cacheErr)
		}
		operators, err = cached.NewOperatorStore(operators, cacheService)
		if err != nil {
			return nil, err
		}
	}

	engine := workflow.NewEngine(stores.RequestStore(), stores.WorkflowStore(),
		workflow.WithObserver(observer),
		workflow.WithClock(builder.clock),
	)
	reconciler, err := reconcile.New(stores, engine,
		reconcile.WithOperatorStore(operators),
		reconcile.WithObserver(observer),
	)
	if err != nil {
		return nil, err
	}
	scheduler := webhooks.NewScheduler(finalConfig.Retry)
	claims := webhooks.NewClaimManager(stores.WebhookEventStore(), scheduler,
		webhooks.WithClaimObserver(observer),
		webhooks.WithClaimClock(builder.clock),
	)
	gateway := webhooks.NewGateway(
		webhooks.NewKeyringVerifier(keyring, finalConfig.Webhooks),
		parser,
		stores.WebhookEventStore(),
		finalConfig,
	)
	gateway.Observer = observer
	gateway.Notifier = builder.notifier
	gateway.Now = builder.clock
	processor := worker.NewProcessor(claims, stores.WebhookEventStore(), parser, reconciler)
	processor.Observer = observer

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		observer:       observer,
		clock:          builder.clock,
		stores:         stores,
		keyring:        keyring,
		parser:         parser,
		gateway:        gateway,
		scheduler:      scheduler,
		claims:         claims,
		engine:         engine,
		reconciler:     reconciler,
		processor:      processor,
	}, nil
}

// Setup is NewService for callers that mirror the go-* service bootstrap.
func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func resolveStores(builder serviceBuilder) (core.StoreProvider, error) {
	if builder.stores != nil {
		return builder.stores, nil
	}
	switch factory := builder.repositoryFactory.(type) {
	case core.RepositoryStoreFactory:
		stores, err := factory.BuildStores(builder.persistenceClient)
		if err != nil {
			return nil, fmt.Errorf("chartersync: build stores: %w", err)
		}
		if stores == nil {
			return nil, fmt.Errorf("chartersync: repository factory returned no stores")
		}
		return stores, nil
	case core.StoreProvider:
		return factory, nil
	case nil:
		return nil, fmt.Errorf("chartersync: stores are required; use WithStores or WithRepositoryFactory")
	default:
		return nil, fmt.Errorf("chartersync: unsupported repository factory %T", builder.repositoryFactory)
	}
}

func (s *Service) Config() Config { return s.config }

func (s *Service) Logger() core.Logger { return s.logger }

func (s *Service) Stores() core.StoreProvider { return s.stores }

func (s *Service) Gateway() *webhooks.Gateway { return s.gateway }

func (s *Service) Engine() *workflow.Engine { return s.engine }

func (s *Service) Keyring() *security.Keyring { return s.keyring }

// HTTPHandler serves the inbound webhook endpoint.
func (s *Service) HTTPHandler() *webhooks.HTTPHandler {
	return webhooks.NewHTTPHandler(s.gateway)
}

// NewPoller returns the reference driving loop configured from worker.*.
func (s *Service) NewPoller() *worker.Poller {
	poller := worker.NewPoller(s.processor, s.config.Worker)
	poller.Now = s.clock
	return poller
}

func (s *Service) Ingest(ctx context.Context, req core.InboundRequest) (webhooks.IngestResult, error) {
	return s.gateway.Ingest(ctx, req)
}

func (s *Service) Claim(ctx context.Context, eventID string) (bool, error) {
	return s.claims.Claim(ctx, eventID)
}

func (s *Service) Complete(ctx context.Context, eventID string, linked core.LinkedIDs, parsed map[string]any) error {
	return s.claims.Complete(ctx, eventID, linked, parsed)
}

func (s *Service) Skip(ctx context.Context, eventID string, reason string, parsed map[string]any) error {
	return s.claims.Skip(ctx, eventID, reason, parsed)
}

func (s *Service) Fail(ctx context.Context, eventID string, cause error, stack string) (core.FailureDecision, error) {
	return s.claims.Fail(ctx, eventID, cause, stack)
}

func (s *Service) FailWithMessage(ctx context.Context, eventID string, message string, stack string) (core.FailureDecision, error) {
	return s.claims.FailWithMessage(ctx, eventID, message, stack)
}

// FindProcessable runs the pull query: pending and due for retry.
func (s *Service) FindProcessable(ctx context.Context, limit int) ([]core.WebhookEvent, error) {
	if limit <= 0 {
		limit = s.config.Worker.BatchSize
	}
	return s.stores.WebhookEventStore().FindProcessable(ctx, s.clock.Now(), limit)
}

func (s *Service) ReclaimExpired(ctx context.Context) (int, error) {
	return s.claims.ReclaimExpired(ctx, s.config.Worker.LeaseTimeout, s.config.Worker.BatchSize)
}

// ProcessEvent claims and processes one event end to end.
func (s *Service) ProcessEvent(ctx context.Context, eventID string) (worker.Report, error) {
	return s.processor.Process(ctx, eventID)
}

// Replay resets a terminal event to pending so it is reprocessed from its raw
// payload. The audit fields only reach the log.
func (s *Service) Replay(ctx context.Context, eventID string, agentID string, reason string) (event core.WebhookEvent, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.ObserveOperation(ctx, startedAt, core.OperationReplay, err, map[string]any{
			"event_id": eventID,
			"agent_id": agentID,
			"reason":   reason,
			"outcome":  string(event.Status),
		})
	}()
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.WebhookEvent{}, core.BadInputError("event id is required", nil)
	}
	return s.stores.WebhookEventStore().Replay(ctx, eventID, s.clock.Now())
}

func (s *Service) Transition(ctx context.Context, in workflow.TransitionInput) (workflow.TransitionResult, error) {
	return s.engine.Transition(ctx, in)
}

// GetOrCreateConversation returns the operator thread of a request, creating
// it once under concurrent callers.
func (s *Service) GetOrCreateConversation(ctx context.Context, requestID string) (core.Conversation, error) {
	return s.GetOrCreateConversationOfType(ctx, requestID, core.ConversationTypeOperator)
}

func (s *Service) GetOrCreateConversationOfType(
	ctx context.Context,
	requestID string,
	kind core.ConversationType,
) (core.Conversation, error) {
	if _, err := s.stores.RequestStore().Get(ctx, requestID); err != nil {
		return core.Conversation{}, err
	}
	return s.stores.ConversationStore().GetOrCreate(ctx, requestID, kind)
}
