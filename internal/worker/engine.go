// Package worker consumes item messages from the work queue, runs text
// extraction and commits each item's resulting state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/kiranshivaraju/ocrbatch/internal/extract"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/queue"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Aggregator re-evaluates a job after one of its items reaches DONE.
type Aggregator interface {
	Aggregate(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type Engine struct {
	store      store.Store
	content    content.Store
	extractor  models.Extractor
	aggregator Aggregator
	logger     *slog.Logger

	// notFoundMaxReceives bounds how often a message naming a missing item
	// is left for redelivery before it is acked and dropped.
	notFoundMaxReceives int
}

type EngineOptions struct {
	ItemNotFoundMaxReceives int
	Logger                  *slog.Logger
}

func NewEngine(s store.Store, c content.Store, ex models.Extractor, agg Aggregator, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ItemNotFoundMaxReceives < 1 {
		opts.ItemNotFoundMaxReceives = 1
	}
	return &Engine{
		store:               s,
		content:             c,
		extractor:           ex,
		aggregator:          agg,
		logger:              opts.Logger,
		notFoundMaxReceives: opts.ItemNotFoundMaxReceives,
	}
}

// Handle processes one delivery and reports whether it may be acked. A false
// result leaves the message on the queue for redelivery after its visibility
// timeout. Extraction failures are recorded on the item and are not errors.
func (e *Engine) Handle(ctx context.Context, d queue.Delivery) (bool, error) {
	msg, err := queue.Decode(d.Body)
	if err != nil {
		metrics.MessagesUnacked.WithLabelValues("malformed").Inc()
		return false, err
	}
	log := e.logger.With("job_id", msg.JobID, "item_id", msg.ItemID, "message_id", d.MessageID)
	log.Debug("message received", "content_key", msg.ContentKey, "receive_count", d.ReceiveCount)

	data, err := e.content.Get(ctx, msg.ContentKey)
	if err != nil {
		metrics.MessagesUnacked.WithLabelValues("content").Inc()
		return false, fmt.Errorf("fetch content %s: %w", msg.ContentKey, err)
	}

	if _, err := e.store.UpdateJobItem(ctx, msg.ItemID, claim); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.itemNotFound(log, d), nil
		}
		metrics.MessagesUnacked.WithLabelValues("claim").Inc()
		return false, fmt.Errorf("claim item: %w", err)
	}

	start := time.Now()
	text, exErr := e.extractor.Extract(ctx, data)
	metrics.ExtractDuration.WithLabelValues(e.extractor.Name()).Observe(time.Since(start).Seconds())

	if exErr != nil && ctx.Err() != nil {
		// Abandoned mid-extraction; the item stays PROCESSING until redelivery.
		metrics.MessagesUnacked.WithLabelValues("cancelled").Inc()
		return false, fmt.Errorf("extract: %w", ctx.Err())
	}

	var mutate store.ItemMutation
	if exErr == nil {
		mutate = succeed(text)
	} else {
		mutate = fail(extract.Message(exErr))
	}

	item, err := e.store.UpdateJobItem(ctx, msg.ItemID, mutate)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The job was deleted while the item was being processed.
			log.Warn("item removed during processing", "error", exErr)
			return true, nil
		}
		metrics.MessagesUnacked.WithLabelValues("commit").Inc()
		return false, fmt.Errorf("commit item: %w", err)
	}

	if exErr != nil {
		if item.Status == models.ItemStatusDone {
			log.Warn("extraction failed on redelivery, keeping earlier result", "error", exErr)
			return true, nil
		}
		metrics.ItemsProcessed.WithLabelValues(string(models.ItemStatusError)).Inc()
		log.Warn("item failed", "error", *item.ErrorMessage)
		return true, nil
	}

	metrics.ItemsProcessed.WithLabelValues(string(models.ItemStatusDone)).Inc()
	log.Info("item done", "text_len", len(text))

	if _, err := e.aggregator.Aggregate(ctx, msg.JobID); err != nil {
		metrics.MessagesUnacked.WithLabelValues("aggregate").Inc()
		return false, fmt.Errorf("aggregate job: %w", err)
	}
	return true, nil
}

func (e *Engine) itemNotFound(log *slog.Logger, d queue.Delivery) bool {
	if d.ReceiveCount >= e.notFoundMaxReceives {
		log.Warn("consistency warning: item not found, dropping message",
			"receive_count", d.ReceiveCount, "max_receives", e.notFoundMaxReceives)
		return true
	}
	metrics.MessagesUnacked.WithLabelValues("item_not_found").Inc()
	log.Warn("consistency warning: item not found, leaving message for redelivery",
		"receive_count", d.ReceiveCount, "max_receives", e.notFoundMaxReceives)
	return false
}

// claim marks the item PROCESSING. A DONE item is left as is so that a
// redelivered message never demotes a completed item.
func claim(item *models.JobItem) error {
	if item.Status != models.ItemStatusDone {
		item.Status = models.ItemStatusProcessing
	}
	return nil
}

func succeed(text string) store.ItemMutation {
	text = storable(text)
	return func(item *models.JobItem) error {
		item.Status = models.ItemStatusDone
		item.ExtractedText = &text
		item.ErrorMessage = nil
		return nil
	}
}

// fail records msg unless the item already holds a DONE result from another
// delivery.
func fail(msg string) store.ItemMutation {
	msg = storable(msg)
	return func(item *models.JobItem) error {
		if item.Status == models.ItemStatusDone {
			return nil
		}
		item.Status = models.ItemStatusError
		item.ErrorMessage = &msg
		item.ExtractedText = nil
		return nil
	}
}

// storable makes s acceptable to a Postgres TEXT column, which rejects NUL
// bytes and invalid UTF-8.
func storable(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
