package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusNew, StatusPartiallyFilled},
		{StatusNew, StatusFilled},
		{StatusNew, StatusPartiallyCanceled},
		{StatusNew, StatusCanceled},
		{StatusNew, StatusExpired},
		{StatusNew, StatusRejected},
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusPartiallyCanceled},
		{StatusPartiallyFilled, StatusCanceled},
		{StatusPartiallyFilled, StatusExpired},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	// Terminal states never move again.
	for _, from := range TerminalStatuses {
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	// No self transitions, and partially_filled cannot be rejected.
	assert.False(t, CanTransition(StatusNew, StatusNew))
	assert.False(t, CanTransition(StatusPartiallyFilled, StatusPartiallyFilled))
	assert.False(t, CanTransition(StatusPartiallyFilled, StatusRejected))
}
