// Package receipt issues tenant-scoped receipt numbers.
//
// Numbers come from a Sequencer that performs a single atomic
// increment-and-read per tenant. When the sequencer stays unreachable after the
// configured retries, the Allocator either fails with
// domain.ErrAllocatorUnavailable or, if the clock fallback is enabled, issues a
// number from a strictly monotonic clock that lives in its own namespace and is
// flagged as degraded.
package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kasirinaja/posledger/internal/domain"
)

type Sequencer interface {
	NextReceiptSequence(ctx context.Context, tenantID string) (int64, error)
}

type Allocator interface {
	Next(ctx context.Context, tenantID string) (domain.ReceiptNumber, error)
}

type Options struct {
	Prefix        string
	Attempts      int
	Backoff       time.Duration
	ClockFallback bool
	Logger        *slog.Logger
	// OnDegraded is called once per fallback number issued.
	OnDegraded func(tenantID string)
}

type SequenceAllocator struct {
	seq        Sequencer
	prefix     string
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
	onDegraded func(tenantID string)
	clock      *monotonicClock
}

func New(seq Sequencer, opts Options) *SequenceAllocator {
	if opts.Prefix == "" {
		opts.Prefix = "RCP"
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &SequenceAllocator{
		seq:        seq,
		prefix:     strings.ToUpper(opts.Prefix),
		attempts:   opts.Attempts,
		backoff:    opts.Backoff,
		logger:     opts.Logger,
		onDegraded: opts.OnDegraded,
	}
	if opts.ClockFallback {
		a.clock = newMonotonicClock(time.Now)
	}
	return a
}

func (a *SequenceAllocator) Next(ctx context.Context, tenantID string) (domain.ReceiptNumber, error) {
	if strings.TrimSpace(tenantID) == "" {
		return domain.ReceiptNumber{}, fmt.Errorf("receipt: tenant id required")
	}

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		seq, err := a.seq.NextReceiptSequence(ctx, tenantID)
		if err == nil {
			return domain.ReceiptNumber{
				TenantID: tenantID,
				Sequence: seq,
				Value:    Format(a.prefix, seq),
			}, nil
		}
		lastErr = err
		a.logger.Warn("receipt sequence unavailable",
			slog.String("tenant_id", tenantID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if ctx.Err() != nil {
			break
		}
		if attempt < a.attempts && a.backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * a.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	if a.clock == nil || ctx.Err() != nil {
		return domain.ReceiptNumber{}, &domain.AllocatorUnavailableError{
			TenantID: tenantID,
			Attempts: a.attempts,
			Err:      lastErr,
		}
	}

	value := a.clock.format(a.prefix)
	a.logger.Warn("receipt allocator degraded: issued clock-derived receipt number",
		slog.String("tenant_id", tenantID),
		slog.String("receipt_number", value),
		slog.Any("error", lastErr))
	if a.onDegraded != nil {
		a.onDegraded(tenantID)
	}
	return domain.ReceiptNumber{TenantID: tenantID, Value: value, Degraded: true}, nil
}

func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%08d", prefix, seq)
}

// monotonicClock hands out strictly increasing nanosecond stamps within the
// process. The node id separates processes that read the same wall clock.
type monotonicClock struct {
	mu   sync.Mutex
	last int64
	node string
	now  func() time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{
		node: strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		now:  now,
	}
}

func (c *monotonicClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := c.now().UnixNano()
	if stamp <= c.last {
		stamp = c.last + 1
	}
	c.last = stamp
	return stamp
}

func (c *monotonicClock) format(prefix string) string {
	return fmt.Sprintf("%s-F%d-%s", prefix, c.next(), c.node)
}
