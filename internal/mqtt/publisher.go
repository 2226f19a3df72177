package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// pahoPublisher publishes through an Eclipse Paho client.
type pahoPublisher struct {
	client  paho.Client
	timeout time.Duration
}

// dial creates a client that keeps retrying the initial connection in the
// background, so a broker outage does not block daemon startup.
func dial(cfg Config, logger *zap.Logger) (*pahoPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		})

	client := paho.NewClient(opts)
	tok := client.Connect()
	if tok.WaitTimeout(cfg.Timeout) && tok.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, tok.Error())
	}
	return &pahoPublisher{client: client, timeout: cfg.Timeout}, nil
}

var errPublishTimeout = errors.New("publish timed out")

func (p *pahoPublisher) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	tok := p.client.Publish(topic, qos, retained, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("%s: %w", topic, errPublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}
