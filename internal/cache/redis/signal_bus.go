package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/redis/go-redis/v9"
)

// signalStream is the Redis stream carrying inbound trade signals.
const signalStream = "signals"

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Streams with a consumer
// group, so signals survive bot restarts and each signal is delivered to
// exactly one consumer.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish appends a trade signal to the signal stream as a JSON payload,
// trimming the stream to roughly streamMaxLen entries.
func (sb *SignalBus) Publish(ctx context.Context, sig domain.TradeSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", sig.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: signalStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", signalStream, err)
	}
	return nil
}

// Fetch reads up to count pending signals for the consumer group, creating
// the group on first use. Entries whose payload fails to decode are
// acknowledged and skipped so a malformed signal cannot wedge the stream.
func (sb *SignalBus) Fetch(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]domain.SignalEnvelope, error) {
	if err := sb.ensureGroup(ctx, group); err != nil {
		return nil, err
	}

	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{signalStream, ">"},
		Count:    count,
		Block:    block,
	}

	results, err := sb.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", signalStream, err)
	}

	var envelopes []domain.SignalEnvelope
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"].(string)
			if !ok {
				_ = sb.rdb.XAck(ctx, signalStream, group, msg.ID).Err()
				continue
			}

			var sig domain.TradeSignal
			if err := json.Unmarshal([]byte(payload), &sig); err != nil {
				_ = sb.rdb.XAck(ctx, signalStream, group, msg.ID).Err()
				continue
			}

			envelopes = append(envelopes, domain.SignalEnvelope{
				StreamID: msg.ID,
				Signal:   sig,
			})
		}
	}

	return envelopes, nil
}

// Ack acknowledges handled stream entries for the consumer group.
func (sb *SignalBus) Ack(ctx context.Context, group string, streamIDs ...string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, signalStream, group, streamIDs...).Err(); err != nil {
		return fmt.Errorf("redis: stream ack %s: %w", signalStream, err)
	}
	return nil
}

// ensureGroup creates the consumer group at the start of the stream if it
// does not exist yet. BUSYGROUP means it already does.
func (sb *SignalBus) ensureGroup(ctx context.Context, group string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, signalStream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("redis: create group %s: %w", group, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
