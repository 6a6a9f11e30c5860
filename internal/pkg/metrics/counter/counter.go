// Package counter keeps delivery counters for the notification workers in
// Redis so every instance contributes to the same totals.
package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/Taskly/internal/pkg/cache"
)

const deliveriesKey = "notify:counters:deliveries"

// Delivery outcomes
const (
	OutcomeSent     = "sent"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Deliveries counts notification outcomes per channel in a Redis hash
// keyed "<channel>:<outcome>".
type Deliveries struct {
	client *redis.Client
}

// NewDeliveries uses the shared cache connection
func NewDeliveries() *Deliveries {
	return &Deliveries{client: cache.GetClient()}
}

// NewDeliveriesWithClient uses client
func NewDeliveriesWithClient(client *redis.Client) *Deliveries {
	return &Deliveries{client: client}
}

// Record increments the counter for channel and outcome
func (d *Deliveries) Record(ctx context.Context, channel, outcome string) error {
	return d.client.HIncrBy(ctx, deliveriesKey, channel+":"+outcome, 1).Err()
}

// Snapshot returns all counters
func (d *Deliveries) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := d.client.HGetAll(ctx, deliveriesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset drops all counters
func (d *Deliveries) Reset(ctx context.Context) error {
	return d.client.Del(ctx, deliveriesKey).Err()
}
