// Package surbbalancer implements the SURB production control loop
// (component H): a periodic, rate-controlled refill that keeps a
// session's reply-block runway near a target size.
//
// Grounded on the teacher's config-reload loop in
// backend/stakepoold/server.go's runMain: a time.Ticker firing on a
// fixed interval, calling a refill function and logging (not failing)
// on error, repurposed here from "reload ticket/user data from MySQL"
// to "produce enough SURBs to hold the runway at its target."
package surbbalancer

import (
	"context"
	"sync"
	"time"
)

// Producer builds n fresh SURBs (component C's outgoing Sphinx path,
// pre-built for a future reply) and reports how many it actually
// produced — fewer than requested if, e.g., no known relay path exists
// yet.
type Producer interface {
	ProduceSurbs(ctx context.Context, n int) (produced int, err error)
}

// Config is the balancer's tunables, mirroring the teacher's
// configTicker interval plus a target buffer size.
type Config struct {
	// TargetBuffer is the SURB runway the balancer tries to maintain.
	TargetBuffer uint64
	// Interval is how often the balancer checks the runway and refills.
	Interval time.Duration
}

// DefaultConfig is a reasonable starting point: a 64-SURB runway,
// rechecked every 5 seconds.
func DefaultConfig() Config {
	return Config{TargetBuffer: 64, Interval: 5 * time.Second}
}

// Snapshot mirrors the reference implementation's SurbSnapshot: the
// counters exposed to metrics/introspection.
type Snapshot struct {
	ProducedTotal  uint64
	ConsumedTotal  uint64
	BufferEstimate uint64
	TargetBuffer   uint64
	RatePerSec     float64
	RefillInFlight bool
}

// Balancer runs the SURB refill loop against a Producer, tracking a
// produced/consumed counter pair and an EWMA-free rate estimate (SURBs
// produced since the last snapshot divided by the wall time elapsed since
// it).
type Balancer struct {
	producer Producer
	cfg      Config

	mu             sync.Mutex
	buffered       uint64
	producedTotal  uint64
	consumedTotal  uint64
	refillInFlight bool

	lastRateAt    time.Time
	lastRateTotal uint64
}

// NewBalancer returns a Balancer that refills through producer on cfg's
// schedule.
func NewBalancer(producer Producer, cfg Config) *Balancer {
	return &Balancer{producer: producer, cfg: cfg, lastRateAt: time.Now()}
}

// Consume records n SURBs having been spent (e.g. attached to an
// outgoing Start message or a session frame), decrementing the buffer
// estimate.
func (b *Balancer) Consume(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumedTotal += n
	if n > b.buffered {
		n = b.buffered
	}
	b.buffered -= n
}

// Tick runs one refill check: if the buffer is below target and no
// refill is already in flight, it asks the producer for the shortfall
// and folds the result back into the buffer estimate. Errors from the
// producer are swallowed (like the teacher's updateTicketDataFromMySQL
// failures, which log and retry next tick) since a single failed
// refill just means the next tick tries again.
func (b *Balancer) Tick(ctx context.Context) {
	b.mu.Lock()
	if b.refillInFlight || b.buffered >= b.cfg.TargetBuffer {
		b.mu.Unlock()
		return
	}
	shortfall := int(b.cfg.TargetBuffer - b.buffered)
	b.refillInFlight = true
	b.mu.Unlock()

	produced, _ := b.producer.ProduceSurbs(ctx, shortfall)

	b.mu.Lock()
	b.refillInFlight = false
	if produced > 0 {
		b.buffered += uint64(produced)
		b.producedTotal += uint64(produced)
	}
	b.mu.Unlock()
}

// Run blocks, calling Tick on cfg.Interval until ctx is cancelled —
// the teacher's `for range configTicker.C { ... }` loop, generalized
// to stop on context cancellation instead of running for process
// lifetime.
func (b *Balancer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Snapshot returns the current counters, plus a rate_per_sec computed
// over the time since the previous Snapshot call.
func (b *Balancer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRateAt).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(b.producedTotal-b.lastRateTotal) / elapsed
	}
	b.lastRateAt = now
	b.lastRateTotal = b.producedTotal

	return Snapshot{
		ProducedTotal:  b.producedTotal,
		ConsumedTotal:  b.consumedTotal,
		BufferEstimate: b.buffered,
		TargetBuffer:   b.cfg.TargetBuffer,
		RatePerSec:     rate,
		RefillInFlight: b.refillInFlight,
	}
}
