package app

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsamsiyu/themelio/internal/api/handlers"
	"github.com/tsamsiyu/themelio/internal/api/server"
	"github.com/tsamsiyu/themelio/internal/config"
	"github.com/tsamsiyu/themelio/internal/lib"
	"github.com/tsamsiyu/themelio/internal/metrics"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/internal/webhook"
	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/conversion"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
)

// CommonModule provides storage, services and their ambient dependencies
var CommonModule = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		NewETCDClient,
		NewValidator,
		naming.Default,
		definition.NewRegistry,
		metrics.New,
		repository.NewClientWrapper,
		repository.NewResourceStore,
		repository.NewDefinitionRepository,
		NewWatchManager,
		service.NewWatchOpener,
		NewConverter,
		NewAdmissionReviewer,
		NewResourceServiceConfig,
		service.NewResourceService,
		service.NewDefinitionService,
	),
	fx.Invoke(registerStorageLifecycle),
)

// APIModule provides dependencies specific to the API server
var APIModule = fx.Options(
	CommonModule,
	fx.Provide(
		handlers.NewWatchHandler,
		handlers.NewResourceHandler,
		handlers.NewDefinitionHandler,
		server.NewRouter,
		server.NewServer,
	),
	fx.Invoke(registerServerLifecycle),
)

// Module is kept for backward compatibility, defaults to APIModule
var Module = APIModule

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Logging.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(cfg.Logging.Level))
	zapConfig.Encoding = cfg.Logging.Format
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	zapConfig.DisableCaller = !cfg.Logging.EnableCaller
	zapConfig.DisableStacktrace = !cfg.Logging.EnableStacktrace

	return zapConfig.Build()
}

// NewValidator returns a validator that knows the naming convention tags
func NewValidator(conv *naming.Convention) (*validator.Validate, error) {
	v := validator.New()
	if err := conv.RegisterValidations(v); err != nil {
		return nil, errors.Wrap(err, "failed to register naming validations")
	}
	return v, nil
}

func NewETCDClient(cfg *config.Config) (*clientv3.Client, error) {
	etcdConfig := clientv3.Config{
		Endpoints:            cfg.ETCD.Endpoints,
		DialTimeout:          cfg.ETCD.DialTimeout,
		DialKeepAliveTime:    cfg.ETCD.DialKeepAliveTime,
		DialKeepAliveTimeout: cfg.ETCD.DialKeepAliveTimeout,
		MaxCallSendMsgSize:   cfg.ETCD.MaxCallSendMsgSize,
		MaxCallRecvMsgSize:   cfg.ETCD.MaxCallRecvMsgSize,
		Username:             cfg.ETCD.Username,
		Password:             cfg.ETCD.Password,
	}

	if cfg.ETCD.TLS.Enabled {
		tlsConfig, err := createTLSConfig(cfg.ETCD.TLS)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create TLS config")
		}
		etcdConfig.TLS = tlsConfig
	}

	client, err := clientv3.New(etcdConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create etcd client")
	}

	return client, nil
}

func createTLSConfig(tlsCfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: tlsCfg.InsecureSkipVerify,
	}

	if tlsCfg.CertFile != "" || tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if tlsCfg.CAFile != "" {
		pem, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("CA file %s contains no certificates", tlsCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func NewWatchManager(logger *zap.Logger, client repository.ClientWrapper, cfg *config.Config) *repository.WatchManager {
	return repository.NewWatchManager(logger, client, repository.WatchConfig{
		MaxRetries: cfg.Watch.MaxRetries,
		Backoff: lib.BackoffConfig{
			InitialBackoff:    cfg.Watch.InitialBackoff,
			MaxBackoff:        cfg.Watch.MaxBackoff,
			BackoffMultiplier: cfg.Watch.BackoffMultiplier,
			ResetAfter:        cfg.Watch.ResetAfter,
		},
		BookmarkInterval: cfg.Watch.BookmarkInterval,
	})
}

// NewConverter converts through webhooks bounded by the conversion timeout
func NewConverter(logger *zap.Logger, cfg *config.Config) conversion.Converter {
	return conversion.NewConverter(logger, webhook.NewClient(logger, cfg.Conversion.Timeout))
}

// NewAdmissionReviewer chains the required-labels policy with the configured webhooks. It returns
// nil when neither is configured.
func NewAdmissionReviewer(logger *zap.Logger, cfg *config.Config) (admission.Reviewer, error) {
	var reviewers []admission.Reviewer

	if cfg.Admission.RequiredLabels != "" {
		selectors, err := labels.ParseList(cfg.Admission.RequiredLabels)
		if err != nil {
			return nil, errors.Wrap(err, "invalid required labels")
		}
		reviewers = append(reviewers, admission.NewSelectorPolicy(selectors))
	}

	client := webhook.NewClient(logger, cfg.Admission.Timeout)
	for _, uri := range cfg.Admission.WebhookURLs {
		reviewers = append(reviewers, client.Admission(uri))
	}

	if len(reviewers) == 0 {
		return nil, nil
	}
	logger.Info("Admission configured",
		zap.Bool("requiredLabels", cfg.Admission.RequiredLabels != ""),
		zap.Strings("webhooks", cfg.Admission.WebhookURLs))
	return admission.Chain(reviewers...), nil
}

func NewResourceServiceConfig(cfg *config.Config) service.ResourceServiceConfig {
	return service.ResourceServiceConfig{StreamBuffer: cfg.Watch.StreamBuffer}
}

func registerStorageLifecycle(
	lc fx.Lifecycle,
	logger *zap.Logger,
	client *clientv3.Client,
	watches *repository.WatchManager,
	definitions service.DefinitionService,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return definitions.Load(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing watch sources", zap.Int("active", watches.Active()))
			err := watches.Close()
			if closeErr := client.Close(); closeErr != nil {
				logger.Error("Failed to close etcd client", zap.Error(closeErr))
			}
			return err
		},
	})
}

func registerServerLifecycle(lc fx.Lifecycle, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: srv.Stop,
	})
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
