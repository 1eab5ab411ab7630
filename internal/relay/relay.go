// Package relay moves committed outbox rows to the places that announce them:
// the local display hub, a Redis channel shared by every instance and a Kafka
// topic for downstream consumers.
package relay

import (
	"context"
	"expvar"
	"sync/atomic"
	"time"

	"clinicqueue/internal/hub"
	"clinicqueue/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	relayedEvents = expvar.NewInt("relay_events_published")
	relayFailures = expvar.NewInt("relay_batch_failures")
	purgedEvents  = expvar.NewInt("relay_events_purged")
)

const (
	defaultBatchSize = 100
	purgeEvery       = time.Minute
)

// Sink receives a batch of events. Returning an error leaves the whole batch
// unpublished so the next tick retries it; sinks must tolerate repeats.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []hub.Event) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

type Relay struct {
	store     store.OutboxStore
	sinks     []Sink
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
	running   int32
	lastPurge time.Time
}

func New(outbox store.OutboxStore, sinks []Sink, cfg Config, logger zerolog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Relay{store: outbox, sinks: sinks, cfg: cfg, logger: logger, now: time.Now}
}

// RunOnce publishes batches until the outbox is drained or a sink fails.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.ClaimOutbox(ctx, r.cfg.BatchSize, func(batch []store.OutboxEvent) error {
			events := make([]hub.Event, len(batch))
			for i, row := range batch {
				events[i] = ToEvent(row)
			}
			for _, sink := range r.sinks {
				if err := sink.Publish(ctx, events); err != nil {
					return errors.Wrapf(err, "sink %s", sink.Name())
				}
			}
			return nil
		})
		total += n
		relayedEvents.Add(int64(n))
		if err != nil {
			relayFailures.Add(1)
			return total, err
		}
		if n < r.cfg.BatchSize {
			return total, nil
		}
	}
}

// Purge deletes published rows older than the retention window. A zero
// retention keeps everything.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := r.store.PurgeOutbox(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, err
	}
	purgedEvents.Add(n)
	return n, nil
}

// Start ticks until ctx is done. A tick that finds the previous one still
// running is skipped.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.logger.Info().Dur("interval", r.cfg.Interval).Int("sinks", len(r.sinks)).Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("relay stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&r.running, 0)

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if n, err := r.RunOnce(runCtx); err != nil {
		r.logger.Error().Err(err).Int("published", n).Msg("relay batch")
	} else if n > 0 {
		r.logger.Debug().Int("published", n).Msg("relay batch")
	}

	if now := r.now(); now.Sub(r.lastPurge) >= purgeEvery {
		r.lastPurge = now
		if n, err := r.Purge(runCtx); err != nil {
			r.logger.Error().Err(err).Msg("purge outbox")
		} else if n > 0 {
			r.logger.Info().Int64("purged", n).Msg("purge outbox")
		}
	}
}

func ToEvent(row store.OutboxEvent) hub.Event {
	return hub.Event{
		Type:      row.Type,
		ServiceID: row.ServiceID,
		Payload:   row.Payload,
		CreatedAt: row.CreatedAt,
	}
}
