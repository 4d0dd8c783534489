package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/ocrbatch/internal/queue"
	"golang.org/x/sync/errgroup"
)

const ackTimeout = 10 * time.Second

// Handler processes one delivery. Engine is the production implementation.
type Handler interface {
	Handle(ctx context.Context, d queue.Delivery) (bool, error)
}

type PollerOptions struct {
	Receive      queue.ReceiveOptions
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
	Logger       *slog.Logger

	// BatchParallelism caps concurrent handlers per batch; 0 means no cap.
	BatchParallelism int
}

// Poller runs the receive loop of one worker. Several pollers may share a
// queue; they never coordinate.
type Poller struct {
	queue   queue.Queue
	handler Handler
	opts    PollerOptions
	logger  *slog.Logger
}

func NewPoller(q queue.Queue, h Handler, opts PollerOptions) *Poller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{queue: q, handler: h, opts: opts, logger: opts.Logger}
}

// Run blocks until ctx is cancelled. Each iteration performs one receive and
// then handles exactly one of three outcomes: a batch, an empty poll or a
// receive error. A batch in flight when ctx is cancelled is finished and
// acked before Run returns.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"max_messages", p.opts.Receive.MaxMessages,
		"wait", p.opts.Receive.WaitTime,
		"visibility_timeout", p.opts.Receive.VisibilityTimeout)

	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}

		deliveries, err := p.queue.Receive(ctx, p.opts.Receive)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("receive failed", "error", err, "backoff", p.opts.ErrorBackoff)
			sleep(ctx, p.opts.ErrorBackoff)
		case len(deliveries) == 0:
			sleep(ctx, p.opts.IdleBackoff)
		default:
			p.processBatch(ctx, deliveries)
		}
	}
}

// processBatch handles every delivery concurrently and acks those that
// succeeded. Handling and acking are detached from ctx cancellation; handling
// is bounded by handleBudget so that acks land before the messages become
// visible again.
func (p *Poller) processBatch(ctx context.Context, deliveries []queue.Delivery) {
	base := context.WithoutCancel(ctx)
	handleCtx := base
	if vt := p.opts.Receive.VisibilityTimeout; vt > 0 {
		var cancel context.CancelFunc
		handleCtx, cancel = context.WithTimeout(base, handleBudget(vt))
		defer cancel()
	}

	acks := make([]bool, len(deliveries))
	var g errgroup.Group
	if p.opts.BatchParallelism > 0 {
		g.SetLimit(p.opts.BatchParallelism)
	}
	for i, d := range deliveries {
		g.Go(func() error {
			ack, err := p.handler.Handle(handleCtx, d)
			if err != nil {
				p.logger.Error("message left for redelivery", "message_id", d.MessageID, "error", err)
			}
			acks[i] = ack
			return nil
		})
	}
	// Handlers report failures through acks; the group only bounds and joins them.
	_ = g.Wait()

	ackCtx, cancel := context.WithTimeout(base, ackTimeout)
	defer cancel()
	for i, d := range deliveries {
		if !acks[i] {
			continue
		}
		if err := p.queue.Ack(ackCtx, d.ReceiptHandle); err != nil {
			p.logger.Error("ack failed", "message_id", d.MessageID, "error", err)
			continue
		}
		p.logger.Debug("message acked", "message_id", d.MessageID)
	}
}

// handleBudget is the handling deadline for a batch received with visibility
// timeout vt. It reserves ackTimeout for acking but never drops below half of vt.
func handleBudget(vt time.Duration) time.Duration {
	budget := vt - ackTimeout
	if budget < vt/2 {
		budget = vt / 2
	}
	return budget
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
