package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"crmkit/codegen/snowflake"
	"crmkit/config"
	"crmkit/errors"
	"crmkit/logging"
	"crmkit/monitoring"
	"crmkit/notify"
	"crmkit/notify/natsjs"
	"crmkit/notify/redisstreams"
	"crmkit/storage/selector"
)

// OpenOptions 启动参数
type OpenOptions struct {
	Logger     logging.Logger
	Registerer prometheus.Registerer

	// Selector 透传给存储选择器（测试注入连接工厂等）
	Selector []selector.Option
}

// Open 按配置选择存储后端、建立通知发布者并创建引擎
func Open(ctx context.Context, cfg *config.Config, o OpenOptions) (*Engine, error) {
	logger := o.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	metrics := monitoring.NewMetrics(o.Registerer)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "load risk policies")
	}
	ids, err := snowflake.NewGenerator(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "configure id generator")
	}

	selOpts := append([]selector.Option{selector.WithLogger(logger), selector.WithMetrics(metrics)}, o.Selector...)
	store, err := selector.Select(ctx, cfg.Selector(), reg, selOpts...)
	if err != nil {
		return nil, err
	}

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		if cfg.Production() {
			_ = store.Close()
			return nil, errors.WrapError(err, errors.ErrCodeBackendUnavailable, "connect audit notifier").
				WithContext("driver", cfg.Notify.Driver)
		}
		logger.Warn(ctx, "audit notifier unavailable, notifications disabled",
			logging.String("driver", cfg.Notify.Driver), logging.Error(err))
		publisher = notify.Noop{}
	}
	publisher = notify.WithRetry(publisher, cfg.Notify.MaxAttempts, logger)

	return NewEngine(store, reg, ids,
		WithLogger(logger),
		WithMetrics(metrics),
		WithPublisher(publisher),
		WithLimits(cfg.Limits()),
	), nil
}

func openPublisher(cfg *config.Config, logger logging.Logger) (notify.Publisher, error) {
	switch cfg.Notify.Driver {
	case config.NotifyRedis:
		return redisstreams.New(redisstreams.Config{
			Addr:   cfg.Notify.RedisAddr,
			Stream: cfg.Notify.RedisStream,
			Logger: logger,
		})
	case config.NotifyNATS:
		return natsjs.New(natsjs.Config{
			URL:           cfg.Notify.NATSURL,
			SubjectPrefix: cfg.Notify.NATSSubject,
			Logger:        logger,
		})
	default:
		return notify.Noop{}, nil
	}
}
