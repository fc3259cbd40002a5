package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/smukkama/awair-bridge/internal/protocol"
)

// Publisher is the producer side of a Kafka topic
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Kafka writes updates and alerts to their topics, keyed by device serial
type Kafka struct {
	updates Publisher
	alerts  Publisher
}

// NewKafka creates a Kafka sink. alerts may be nil to drop alert events.
func NewKafka(updates, alerts Publisher) *Kafka {
	return &Kafka{updates: updates, alerts: alerts}
}

func (k *Kafka) Publish(ctx context.Context, u protocol.Update) error {
	data, err := protocol.EncodeUpdate(&u)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	if err := k.updates.Publish(ctx, u.Device.Serial, data); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", u.Characteristic, u.Device.Serial, err)
	}
	return nil
}

func (k *Kafka) PublishAlert(ctx context.Context, a protocol.AlertEvent) error {
	if k.alerts == nil {
		return nil
	}
	data, err := protocol.EncodeAlertEvent(&a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := k.alerts.Publish(ctx, a.Device.Serial, data); err != nil {
		return fmt.Errorf("failed to publish alert for %s: %w", a.Device.Serial, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	err := k.updates.Close()
	if k.alerts != nil {
		err = errors.Join(err, k.alerts.Close())
	}
	return err
}
