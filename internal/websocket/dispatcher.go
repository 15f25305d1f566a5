package websocket

import (
	"context"
	"encoding/json"
	"time"

	"groupchat/internal/metrics"

	"go.uber.org/zap"
)

// Relay forwards a fan-out to other processes. Implementations must not
// deliver back to the publishing process.
type Relay interface {
	Publish(ctx context.Context, data []byte, recipients []int64) error
}

// BroadcastDispatcher writes a payload to every connected recipient.
// Delivery is best effort per recipient: failures are logged and skipped.
type BroadcastDispatcher struct {
	registry *SessionRegistry
	relay    Relay
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewBroadcastDispatcher(registry *SessionRegistry, log *zap.Logger, m *metrics.Metrics) *BroadcastDispatcher {
	return &BroadcastDispatcher{
		registry: registry,
		log:      log,
		metrics:  m,
	}
}

// SetRelay enables cross-process fan-out. Call before serving traffic.
func (d *BroadcastDispatcher) SetRelay(r Relay) {
	d.relay = r
}

// Broadcast marshals payload once and delivers it to the recipients.
func (d *BroadcastDispatcher) Broadcast(payload any, recipients []int64) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("marshal broadcast payload", zap.Error(err))
		return
	}

	d.DeliverLocal(data, recipients)

	if d.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.relay.Publish(ctx, data, recipients); err != nil {
			d.log.Warn("relay publish failed", zap.Int("recipients", len(recipients)), zap.Error(err))
		}
	}
}

// DeliverLocal writes data to recipients connected to this process and
// returns how many accepted it.
func (d *BroadcastDispatcher) DeliverLocal(data []byte, recipients []int64) int {
	delivered := 0
	for _, id := range recipients {
		c, ok := d.registry.Lookup(id)
		if !ok {
			continue
		}
		if err := c.Send(data); err != nil {
			d.metrics.DeliveryFailed()
			d.log.Debug("deliver to recipient failed",
				zap.Int64("user_id", id), zap.String("conn_id", c.ID()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo writes payload to a single connection.
func (d *BroadcastDispatcher) SendTo(c Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Send(data)
}
