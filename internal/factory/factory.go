package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"session-service/internal/audit"
	"session-service/internal/client"
	"session-service/internal/clock"
	"session-service/internal/config"
	"session-service/internal/policy"
	"session-service/internal/presence"
	"session-service/internal/session"
	"session-service/internal/store"
	"session-service/internal/tls"
	"session-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer
	tokenClient   *client.TokenClient

	// Session stack
	sessionStore store.DurableStore
	controller   *session.Controller
	signals      chan session.Signal
	monitor      *session.Monitor
	auditSink    *audit.Sink

	// Presence stack
	tracker *presence.Tracker
	channel *presence.Channel

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(tls.FromServerConfig(cfg))
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeSessionStack()
	factory.initializePresenceStack()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_enabled", cfg.Redis.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes the optional external clients. Neither Redis
// nor Kafka is required: the session stack falls back to the local state file
// and audit publishing is skipped.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.config.Redis.Enabled {
		if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			util.Warn("Redis initialization failed - falling back to file storage", util.ErrorField(err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				util.Warn("Redis health check failed - falling back to file storage", util.ErrorField(err))
				_ = f.redisClient.Close()
				f.redisClient = nil
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without audit publishing", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	f.tokenClient = client.NewTokenClient(f.config)

	return nil
}

// initializeSessionStack wires storage, the lifecycle controller, the input
// monitor and the audit sink.
func (f *Factory) initializeSessionStack() {
	sessionCfg := f.config.Session

	if f.redisClient != nil {
		f.sessionStore = store.NewRedisStore(f.redisClient, sessionCfg.Partition, sessionCfg.AbsoluteTimeout)
		util.Info("Session storage backed by Redis", util.String("partition", sessionCfg.Partition))
	} else {
		fileStore, err := store.NewFileStore(sessionCfg.StateFile)
		if err != nil {
			util.Warn("State file unavailable - session tracking is memory only", util.ErrorField(err))
			f.sessionStore = store.NewMemoryStore()
		} else {
			f.sessionStore = fileStore
			util.Info("Session storage backed by state file", util.String("path", sessionCfg.StateFile))
		}
	}

	f.controller = session.NewController(f.sessionStore, session.Options{
		Thresholds: policy.Thresholds{
			Absolute:    sessionCfg.AbsoluteTimeout,
			Idle:        sessionCfg.IdleTimeout,
			WarningLead: sessionCfg.WarningLead,
		},
		CheckInterval: sessionCfg.CheckInterval,
	})

	f.signals = make(chan session.Signal, 64)
	f.monitor = session.NewMonitor(f.controller, f.signals, sessionCfg.ActivityThrottle, clock.System())

	if f.kafkaProducer != nil {
		f.auditSink = audit.NewSink(f.kafkaProducer, f.config.Kafka.AuditTopic)
		f.auditSink.Attach(f.controller)
		util.Info("Audit sink attached", util.String("topic", f.config.Kafka.AuditTopic))
	}
}

// initializePresenceStack wires the tracker and the realtime channel, and
// ties the channel's identity to the session lifecycle.
func (f *Factory) initializePresenceStack() {
	presenceCfg := f.config.Presence

	f.tracker = presence.NewTracker(clock.System())
	f.channel = presence.NewChannel(presence.NewWebsocketDialer(), f.tracker, f.tokenClient, presence.Options{
		URL:                  presenceCfg.URL,
		HeartbeatInterval:    presenceCfg.HeartbeatInterval,
		MaxReconnectAttempts: presenceCfg.MaxReconnectAttempts,
		BaseReconnectDelay:   presenceCfg.BaseReconnectDelay,
		MaxReconnectDelay:    presenceCfg.MaxReconnectDelay,
		HandshakeTimeout:     presenceCfg.HandshakeTimeout,
		OnConnectionLost: func() {
			util.Error("presence connection lost permanently - restart required to reconnect")
		},
	})

	// A new session brings the presence channel up under its identity.
	// Session id rotation refreshes the presence credential; session end
	// drops the presence identity.
	f.controller.OnCreated(func(_ string) {
		if profile := f.controller.Profile(); profile != nil {
			f.channel.SetIdentity(&presence.Identity{
				UserID:   profile.ID,
				UserType: profile.Role,
			})
			f.channel.Connect()
		}
	})
	f.controller.OnRegenerated(func(_, _ string) {
		f.tokenClient.Invalidate()
		f.channel.Reauthenticate()
	})
	f.controller.OnInvalidated(func() {
		f.channel.SetIdentity(nil)
	})
	f.controller.OnExpired(func(_ session.ExpiryReason) {
		f.channel.SetIdentity(nil)
	})
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.config.Redis.Enabled {
		if f.redisClient != nil {
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				healthErrors["redis"] = err
			}
		} else {
			healthErrors["redis"] = fmt.Errorf("redis client not initialized")
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.controller == nil {
		healthErrors["session"] = fmt.Errorf("session controller not initialized")
	} else if f.controller.Degraded() {
		healthErrors["session_storage"] = fmt.Errorf("session storage degraded to memory only")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.channel != nil {
			f.channel.Close()
			util.Info("Presence channel closed")
		}

		if f.monitor != nil {
			f.monitor.Stop()
			util.Info("Activity monitor stopped")
		}

		if f.auditSink != nil {
			f.auditSink.Detach()
		}

		if f.controller != nil {
			f.controller.Close()
			util.Info("Session controller stopped")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Controller() *session.Controller {
	return f.controller
}

// Signals is the channel input devices feed raw activity into.
func (f *Factory) Signals() chan<- session.Signal {
	return f.signals
}

func (f *Factory) PresenceChannel() *presence.Channel {
	return f.channel
}

func (f *Factory) Tracker() *presence.Tracker {
	return f.tracker
}
