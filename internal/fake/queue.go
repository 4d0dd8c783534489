package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/ocrbatch/internal/queue"
)

// Queue satisfies queue.Queue. Receive serves scripted batches in order and
// then blocks until the context is done, like an empty long poll.
type Queue struct {
	mu       sync.Mutex
	seq      int
	batches  [][]queue.Delivery
	errs     []error
	Enqueued []queue.Message
	Acked    []string

	EnqueueErr func(msg queue.Message) error
	AckErr     error

	// Received is signalled each time Receive is entered.
	Received chan struct{}
}

func NewQueue() *Queue {
	return &Queue{Received: make(chan struct{}, 64)}
}

func (q *Queue) Enqueue(_ context.Context, msg queue.Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		if err := q.EnqueueErr(msg); err != nil {
			return "", err
		}
	}
	q.seq++
	q.Enqueued = append(q.Enqueued, msg)
	return fmt.Sprintf("msg-%d", q.seq), nil
}

// PushBatch scripts the next Receive result.
func (q *Queue) PushBatch(deliveries ...queue.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, deliveries)
	q.errs = append(q.errs, nil)
}

// PushError scripts the next Receive call to fail.
func (q *Queue) PushError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, nil)
	q.errs = append(q.errs, err)
}

func (q *Queue) Receive(ctx context.Context, _ queue.ReceiveOptions) ([]queue.Delivery, error) {
	select {
	case q.Received <- struct{}{}:
	default:
	}

	q.mu.Lock()
	if len(q.batches) > 0 {
		batch, err := q.batches[0], q.errs[0]
		q.batches, q.errs = q.batches[1:], q.errs[1:]
		q.mu.Unlock()
		return batch, err
	}
	q.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *Queue) Ack(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.AckErr != nil {
		return q.AckErr
	}
	q.Acked = append(q.Acked, receiptHandle)
	return nil
}

// AckedHandles returns a snapshot of acked receipt handles.
func (q *Queue) AckedHandles() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.Acked...)
}

// Messages returns a snapshot of enqueued messages.
func (q *Queue) Messages() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Message(nil), q.Enqueued...)
}

// Delivery encodes msg into a delivery with the given receipt handle and receive count.
func Delivery(msg queue.Message, receipt string, receiveCount int) queue.Delivery {
	body, err := queue.Encode(msg)
	if err != nil {
		panic(err)
	}
	return queue.Delivery{Body: body, ReceiptHandle: receipt, MessageID: receipt, ReceiveCount: receiveCount}
}

var _ queue.Queue = (*Queue)(nil)
