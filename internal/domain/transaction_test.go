package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusInitiated, StatusReserved},
		{StatusInitiated, StatusAbandoned},
		{StatusReserved, StatusCompleted},
		{StatusReserved, StatusFailed},
		{StatusReserved, StatusPendingWebhook},
		{StatusReserved, StatusAbandoned},
		{StatusDispatched, StatusCompleted},
		{StatusPendingWebhook, StatusCompleted},
		{StatusPendingWebhook, StatusFailed},
		{StatusPendingWebhook, StatusReversed},
		{StatusPendingSettlement, StatusCompleted},
		{StatusCompleted, StatusReversed},
		{StatusFailed, StatusReversed},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]string{
		{StatusInitiated, StatusCompleted},
		{StatusInitiated, StatusFailed},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusCompleted},
		{StatusReversed, StatusCompleted},
		{StatusAbandoned, StatusReserved},
		{StatusPendingWebhook, StatusReserved},
		{StatusCompleted, StatusCompleted},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusCompleted, StatusFailed, StatusReversed, StatusAbandoned} {
		assert.True(t, IsTerminal(status), status)
	}
	for _, status := range []string{StatusInitiated, StatusReserved, StatusDispatched, StatusPendingWebhook, StatusPendingSettlement} {
		assert.False(t, IsTerminal(status), status)
	}
}
