// Package redisstreams 将审计通知追加到 Redis Stream。
package redisstreams

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"crmkit/logging"
	"crmkit/notify"
)

// client captures the subset of go-redis commands we rely on (for easier testing).
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Config describes how the publisher connects and trims the stream.
type Config struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int

	// Stream 目标流，默认 crmkit:audit
	Stream string

	// MaxLen 近似保留条数，0 表示不裁剪
	MaxLen int64

	// MaxPublishConcurrency 限制同时进行的 XADD 数，0 表示不限制
	MaxPublishConcurrency int

	Logger logging.Logger
}

// Publisher 基于 XADD 的通知发布者
type Publisher struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
	pubSem    chan struct{}
}

var _ notify.Publisher = (*Publisher)(nil)

// New 创建发布者；未提供 Client 时按 Addr 建立连接并在 Close 时释放
func New(cfg Config) (*Publisher, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redisstreams: redis address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newPublisher(cfg, cl, own), nil
}

func newPublisher(cfg Config, cl client, own bool) *Publisher {
	if cfg.Stream == "" {
		cfg.Stream = "crmkit:audit"
	}
	p := &Publisher{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger: logging.ComponentLogger(cfg.Logger, "notify.redisstreams").WithFields(
			logging.String("stream", cfg.Stream)),
	}
	if cfg.MaxPublishConcurrency > 0 {
		p.pubSem = make(chan struct{}, cfg.MaxPublishConcurrency)
	}
	return p
}

// Publish 追加一条通知
func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	if p.pubSem != nil {
		select {
		case p.pubSem <- struct{}{}:
			defer func() { <-p.pubSem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	values, err := encodeValues(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: p.cfg.Stream, Values: values}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return err
	}
	p.logger.Debug(ctx, "audit event appended", logging.String("event_id", e.ID), logging.String("entry_id", id))
	return nil
}

// Close 关闭自建的客户端
func (p *Publisher) Close() error {
	if p.ownClient {
		return p.client.Close()
	}
	return nil
}

// encodeValues 流条目字段：索引字段平铺，完整通知放在 payload
func encodeValues(e notify.Event) (map[string]any, error) {
	payload, err := notify.Encode(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"table":     e.Record.TableName,
		"entity_id": strconv.FormatInt(e.Record.EntityID, 10),
		"operation": string(e.Record.Operation),
		"risk":      string(e.Record.RiskLevel),
		"payload":   string(payload),
	}, nil
}
