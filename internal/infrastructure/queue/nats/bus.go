package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/paper-rag-service/internal/infrastructure/resilience"
)

// Bus fans cache invalidations out to peer replicas over a NATS
// subject. Each message body is one request fingerprint; an empty body
// means "flush everything". Delivery is at-most-once on purpose: a
// missed invalidation only extends staleness up to the cache TTL.
type Bus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(url, subject string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("paper-rag-service"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishInvalidation(ctx context.Context, fingerprint string) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(b.subject, []byte(fingerprint)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats_publish_invalidation", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeInvalidation delivers fingerprints to handler until ctx is
// cancelled. Unlike work queues, every replica must see every message,
// so this is a plain subscription, not a queue group.
func (b *Bus) SubscribeInvalidation(ctx context.Context, handler func(ctx context.Context, fingerprint string)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		handler(handlerCtx, string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
