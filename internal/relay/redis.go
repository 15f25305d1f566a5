package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"groupchat/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is what travels over the pub/sub channel.
type envelope struct {
	Node       string          `json:"node"`
	Recipients []int64         `json:"recipients"`
	Data       json.RawMessage `json:"data"`
}

// DeliverFunc hands a relayed payload to local sessions.
type DeliverFunc func(data []byte, recipients []int64) int

// RedisRelay forwards fan-outs between server processes over Redis pub/sub.
// Each process only delivers to the sessions it holds.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	node    string
	log     *zap.Logger
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedisRelay(rdb *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		node:    uuid.NewString(),
		log:     log,
	}
}

func (r *RedisRelay) Node() string { return r.node }

func (r *RedisRelay) Publish(ctx context.Context, data []byte, recipients []int64) error {
	payload, err := encode(r.node, data, recipients)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes to the channel and delivers foreign envelopes until ctx ends.
func (r *RedisRelay) Run(ctx context.Context, deliver DeliverFunc) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("node", r.node))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

func (r *RedisRelay) handle(payload string, deliver DeliverFunc) {
	env, err := decode(payload)
	if err != nil {
		r.log.Warn("drop malformed relay envelope", zap.Error(err))
		return
	}
	if env.Node == r.node {
		return
	}
	n := deliver(env.Data, env.Recipients)
	r.log.Debug("relayed fan-out delivered",
		zap.String("from", env.Node), zap.Int("recipients", len(env.Recipients)), zap.Int("delivered", n))
}

func encode(node string, data []byte, recipients []int64) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("relay payload is not json")
	}
	return json.Marshal(envelope{Node: node, Recipients: recipients, Data: data})
}

func decode(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, err
	}
	if env.Node == "" || len(env.Data) == 0 {
		return envelope{}, fmt.Errorf("incomplete envelope")
	}
	return env, nil
}
