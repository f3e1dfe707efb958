package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// AlertMessage is the JSON document published for each alert.
type AlertMessage struct {
	Type        string       `json:"type"`
	Host        string       `json:"host"`
	PublishedAt time.Time    `json:"published_at"`
	Alert       domain.Alert `json:"alert"`
}

// NATSPublisher forwards alerts to a NATS subject.
type NATSPublisher struct {
	nc      conn
	subject string
	host    string
	logger  *zap.Logger
}

// Connect dials url and returns a publisher for subject. The connection
// reconnects on its own; disconnects are logged.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("guardian"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(nc conn, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	host, _ := os.Hostname()
	return &NATSPublisher{nc: nc, subject: subject, host: host, logger: logger}
}

func (p *NATSPublisher) Name() string {
	return "nats"
}

// NotifyAlert publishes alert and waits for the server to acknowledge the
// flush.
func (p *NATSPublisher) NotifyAlert(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(AlertMessage{
		Type:        "fim_alert",
		Host:        p.host,
		PublishedAt: time.Now().UTC(),
		Alert:       alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	p.logger.Debug("alert published", zap.String("subject", p.subject), zap.String("identity", alert.Identity))
	return nil
}

func (p *NATSPublisher) Close() {
	p.nc.Close()
}
