// Package natsjs 将审计通知发布到 NATS JetStream。
//
// 主题为 <SubjectPrefix><table>.<operation>，消息 ID 使用审计记录 ID，由 JetStream 去重。
package natsjs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"crmkit/logging"
	"crmkit/notify"
)

// jetStream captures the subset of JetStream calls the publisher needs.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Config configures the JetStream publisher.
type Config struct {
	URL           string
	Conn          *nats.Conn
	Stream        string
	SubjectPrefix string

	// MaxAge 流内消息保留时长，0 表示不限
	MaxAge time.Duration

	// DuplicateWindow 去重窗口，0 使用服务端默认
	DuplicateWindow time.Duration

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = "CRMKIT_AUDIT"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "crmkit.audit."
	}
	return c
}

// Publisher JetStream 通知发布者
type Publisher struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	ownsConn bool
	js       jetStream
}

var _ notify.Publisher = (*Publisher)(nil)

// New 连接 NATS 并确保流存在
func New(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	p := &Publisher{cfg: cfg, logger: newLogger(cfg)}

	if cfg.Conn != nil {
		p.conn = cfg.Conn
	} else {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("crmkit-audit"))
		if err != nil {
			return nil, err
		}
		p.conn = conn
		p.ownsConn = true
	}

	js, err := p.conn.JetStream()
	if err != nil {
		p.closeConn()
		return nil, err
	}
	p.js = js
	if err := p.ensureStream(); err != nil {
		p.closeConn()
		return nil, err
	}
	return p, nil
}

func newWithJetStream(cfg Config, js jetStream) (*Publisher, error) {
	cfg = cfg.withDefaults()
	p := &Publisher{cfg: cfg, logger: newLogger(cfg), js: js}
	if err := p.ensureStream(); err != nil {
		return nil, err
	}
	return p, nil
}

func newLogger(cfg Config) logging.Logger {
	return logging.ComponentLogger(cfg.Logger, "notify.natsjs").WithFields(
		logging.String("stream", cfg.Stream))
}

// Publish 发布一条通知
func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	if p.js == nil {
		return errors.New("natsjs: publisher closed")
	}
	data, err := notify.Encode(e)
	if err != nil {
		return err
	}
	subject := p.subject(e)
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(e.ID))
	if err != nil {
		return err
	}
	if ack != nil && ack.Duplicate {
		p.logger.Debug(ctx, "duplicate audit event ignored by stream", logging.String("event_id", e.ID))
	}
	return nil
}

// Close 关闭自建连接
func (p *Publisher) Close() error {
	p.js = nil
	p.closeConn()
	return nil
}

func (p *Publisher) closeConn() {
	if p.ownsConn && p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
}

func (p *Publisher) subject(e notify.Event) string {
	return p.cfg.SubjectPrefix + e.Type
}

func (p *Publisher) ensureStream() error {
	_, err := p.js.StreamInfo(p.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	sc := &nats.StreamConfig{
		Name:      p.cfg.Stream,
		Subjects:  []string{p.cfg.SubjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    p.cfg.MaxAge,
	}
	if p.cfg.DuplicateWindow > 0 {
		sc.Duplicates = p.cfg.DuplicateWindow
	}
	if _, err := p.js.AddStream(sc); err != nil {
		return err
	}
	p.logger.Info(context.Background(), "audit stream created", logging.String("subjects", sc.Subjects[0]))
	return nil
}
