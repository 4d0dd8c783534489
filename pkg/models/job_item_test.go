package models_test

import (
	"testing"

	"github.com/kiranshivaraju/ocrbatch/pkg/models"
	"github.com/stretchr/testify/assert"
)

var allItemStatuses = []models.ItemStatus{
	models.ItemStatusPending,
	models.ItemStatusProcessing,
	models.ItemStatusDone,
	models.ItemStatusError,
}

func TestItemStatus_NeverBackToPending(t *testing.T) {
	for _, from := range allItemStatuses {
		assert.False(t, from.CanTransitionTo(models.ItemStatusPending), "%s -> PENDING", from)
	}
}

func TestItemStatus_ProcessingFromAnyState(t *testing.T) {
	for _, from := range allItemStatuses {
		assert.True(t, from.CanTransitionTo(models.ItemStatusProcessing), "%s -> PROCESSING", from)
	}
}

func TestItemStatus_TerminalRequiresClaim(t *testing.T) {
	assert.False(t, models.ItemStatusPending.CanTransitionTo(models.ItemStatusDone))
	assert.False(t, models.ItemStatusPending.CanTransitionTo(models.ItemStatusError))

	assert.True(t, models.ItemStatusProcessing.CanTransitionTo(models.ItemStatusDone))
	assert.True(t, models.ItemStatusProcessing.CanTransitionTo(models.ItemStatusError))
}

func TestItemStatus_ConcurrentDeliveriesMayFinishInAnyOrder(t *testing.T) {
	assert.True(t, models.ItemStatusDone.CanTransitionTo(models.ItemStatusDone))
	assert.True(t, models.ItemStatusDone.CanTransitionTo(models.ItemStatusError))
	assert.True(t, models.ItemStatusError.CanTransitionTo(models.ItemStatusDone))
}

func TestItemStatus_UnknownTarget(t *testing.T) {
	assert.False(t, models.ItemStatusProcessing.CanTransitionTo("RUNNING"))
	assert.False(t, models.ItemStatus("RUNNING").CanTransitionTo(models.ItemStatusProcessing))
}

func TestItemStatus_Terminal(t *testing.T) {
	assert.True(t, models.ItemStatusDone.Terminal())
	assert.True(t, models.ItemStatusError.Terminal())
	assert.False(t, models.ItemStatusPending.Terminal())
	assert.False(t, models.ItemStatusProcessing.Terminal())
}

func TestJobStatus_Valid(t *testing.T) {
	assert.True(t, models.JobStatusExpired.Valid())
	assert.False(t, models.JobStatus("done").Valid())
}
