package rentAuth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/MrEthical07/rentAuth/internal"
	internalaudit "github.com/MrEthical07/rentAuth/internal/audit"
	"github.com/MrEthical07/rentAuth/internal/flows"
	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/lockout"
	"github.com/MrEthical07/rentAuth/password"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Builder collects the engine's collaborators. Components not supplied
// explicitly are Redis-backed when WithRedis was called and process-local
// otherwise. A Builder builds exactly one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities  IdentityStore
	refreshes   refresh.Store
	revocations revocation.Registry
	guard       lockout.Guard

	clock     Clock
	random    io.Reader
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis shares revocations, lockout counters and refresh tokens across
// every instance using the same client and key prefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore is required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.refreshes = store
	return b
}

func (b *Builder) WithRevocationRegistry(registry revocation.Registry) *Builder {
	b.revocations = registry
	return b
}

func (b *Builder) WithLoginGuard(guard lockout.Guard) *Builder {
	b.guard = guard
	return b
}

func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithRandom replaces crypto/rand as the source for salts, ids and
// generated passwords.
func (b *Builder) WithRandom(r io.Reader) *Builder {
	b.random = r
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink the dispatcher delivers to. Auditing also
// needs Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, fmt.Errorf("%w: identity store required", ErrInvalidConfig)
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "rentauth"))

	hasher, err := password.NewHasherWithRandom(cfg.hasherConfig(), random)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	codecCfg := cfg.codecConfig()
	codecCfg.Now = clock.Now
	codecCfg.Random = random
	codec, err := jwt.NewCodec(codecCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	refreshes, revocations, guard, err := b.components(cfg, clock)
	if err != nil {
		return nil, err
	}

	// Login against an unknown email verifies against this hash.
	dummySecret, err := internal.NewID(random)
	if err != nil {
		return nil, fmt.Errorf("dummy hash secret: %w", err)
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	e := &Engine{
		config:      cfg,
		clock:       clock,
		random:      random,
		logger:      logger,
		hasher:      hasher,
		policy:      cfg.policy(),
		hashSlots:   semaphore.NewWeighted(int64(cfg.Password.MaxConcurrentHashes)),
		dummyHash:   dummyHash,
		codec:       codec,
		identities:  b.identities,
		refreshes:   refreshes,
		revocations: revocations,
		guard:       guard,
		metrics:     NewMetrics(cfg.Metrics),
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:         cfg.Audit.Enabled,
		BufferSize:      cfg.Audit.BufferSize,
		DropIfFull:      cfg.Audit.DropIfFull,
		DeliveryTimeout: cfg.Audit.DeliveryTimeout,
	}, b.auditSink)

	e.flows = flows.New(flows.Deps{
		Refresh: flows.RefreshDeps{
			VerifyRefresh: codec.VerifyRefresh,
			LookupRole: func(ctx context.Context, subjectID string) (string, error) {
				sctx, cancel := e.storeContext(ctx)
				defer cancel()
				identity, err := e.identities.FindByID(sctx, subjectID)
				if err != nil {
					return "", err
				}
				if identity == nil {
					return "", ErrIdentityNotFound
				}
				return identity.Role, nil
			},
			NewSuccessor: func(device string) (refresh.Successor, error) {
				return refresh.NewSuccessor(random, clock.Now(), codec.RefreshTTL(), device)
			},
			IssueAccess:       codec.IssueAccess,
			IssueRefresh:      codec.IssueRefresh,
			DeviceFromContext: userAgentFromContext,
			BlacklistFamily:   e.blacklistFamily,
			Store:             refreshes,
			StoreTimeout:      cfg.Timeouts.Store,
		},
		Validate: flows.ValidateDeps{
			VerifyAccess: codec.VerifyAccess,
			Registry:     revocations,
			StoreTimeout: cfg.Timeouts.Store,
		},
		Logout: flows.LogoutDeps{
			VerifyAccess:    func(token string) (*jwt.AccessClaims, error) { return codec.VerifyAccess(token, "") },
			VerifyRefresh:   codec.VerifyRefresh,
			BlacklistFamily: e.blacklistFamily,
			Registry:        revocations,
			Store:           refreshes,
			StoreTimeout:    cfg.Timeouts.Store,
		},
	})

	b.built = true
	return e, nil
}

// components fills in whichever of the three stateful collaborators were
// not supplied.
func (b *Builder) components(cfg Config, clock Clock) (refresh.Store, revocation.Registry, lockout.Guard, error) {
	refreshes, revocations, guard := b.refreshes, b.revocations, b.guard
	prefix := cfg.Redis.KeyPrefix

	if refreshes == nil {
		if b.redis != nil {
			refreshes = refresh.NewRedisStore(b.redis, refresh.RedisConfig{Prefix: prefix + ":rt", Now: clock.Now})
		} else {
			refreshes = refresh.NewMemoryStore(clock.Now)
		}
	}
	if revocations == nil {
		if b.redis != nil {
			revocations = revocation.NewRedisRegistry(b.redis, prefix+":rv", clock.Now)
		} else {
			revocations = revocation.NewMemoryRegistry(clock.Now)
		}
	}
	if guard == nil {
		var err error
		if b.redis != nil {
			guard, err = lockout.NewRedisGuard(b.redis, cfg.lockoutConfig(), prefix+":lg", clock.Now)
		} else {
			guard, err = lockout.NewMemoryGuard(cfg.lockoutConfig(), clock.Now)
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return refreshes, revocations, guard, nil
}
