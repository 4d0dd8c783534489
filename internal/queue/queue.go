// Package queue carries one message per job item from intake to the workers.
// Delivery is at least once: a message that is not acked becomes visible
// again after its visibility timeout and is redelivered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrMalformedMessage = errors.New("malformed queue message")

// Queue is the work queue interface.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) (string, error)
	Receive(ctx context.Context, opts ReceiveOptions) ([]Delivery, error)
	Ack(ctx context.Context, receiptHandle string) error
}

// Message is the body of one work unit.
type Message struct {
	JobID      uuid.UUID `json:"jobId"`
	ItemID     uuid.UUID `json:"itemId"`
	Bucket     string    `json:"bucket"`
	ContentKey string    `json:"contentKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Delivery is a received message together with the handle needed to ack it.
type Delivery struct {
	Body          []byte
	ReceiptHandle string
	MessageID     string
	// ReceiveCount is how many times the queue has handed out this message,
	// including this delivery. Zero when the queue does not report it.
	ReceiveCount int
}

type ReceiveOptions struct {
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// Encode serialises msg to its JSON wire form.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return body, nil
}

// Decode parses a message body. Every failure wraps ErrMalformedMessage.
func Decode(body []byte) (Message, error) {
	var wire struct {
		JobID      string    `json:"jobId"`
		ItemID     string    `json:"itemId"`
		Bucket     string    `json:"bucket"`
		ContentKey string    `json:"contentKey"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	jobID, err := uuid.Parse(wire.JobID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: jobId: %v", ErrMalformedMessage, err)
	}
	itemID, err := uuid.Parse(wire.ItemID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: itemId: %v", ErrMalformedMessage, err)
	}
	if wire.ContentKey == "" {
		return Message{}, fmt.Errorf("%w: contentKey is empty", ErrMalformedMessage)
	}

	return Message{
		JobID:      jobID,
		ItemID:     itemID,
		Bucket:     wire.Bucket,
		ContentKey: wire.ContentKey,
		CreatedAt:  wire.CreatedAt,
	}, nil
}
