package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/logger"
)

// NATS is the cross-instance relay backend, enabled by setting
// bus.natsUrl. Subjects are passed through as plain strings; payloads are
// already-serialized protocol.Event JSON, so this package stays ignorant
// of the envelope's shape.
type NATS struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATS connects to url with a forgiving reconnect posture: unlimited
// reconnect attempts, a generous buffer so a brief network blip doesn't
// drop events.
func NewNATS(url string, log *logger.Logger) (*NATS, error) {
	b := &NATS{log: log}

	opts := []nats.Option{
		nats.Name("agentbridged"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats error", zap.String("subject", subject), zap.Error(err))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b.conn = conn
	log.Info("connected to nats relay", zap.String("url", url))
	return b, nil
}

func (b *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (b *NATS) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(context.Background(), msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATS) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.log.Warn("error draining nats connection", zap.Error(err))
		b.conn.Close()
	}
}

func (b *NATS) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

var _ EventBus = (*NATS)(nil)
