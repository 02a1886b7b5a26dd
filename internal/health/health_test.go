package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyRegistryIsOK(t *testing.T) {
	r := NewRegistry()
	report := r.Status(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Empty(t, report.Components)
	assert.True(t, r.Healthy(context.Background()))
}

func TestDegradedOnFailingCheck(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(context.Context) error { return nil })
	r.Register("scheduler", func(context.Context) error { return errors.New("loop stalled") })

	report := r.Status(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "healthy", report.Components["store"])
	assert.Equal(t, "unhealthy: loop stalled", report.Components["scheduler"])
	assert.False(t, r.Healthy(context.Background()))
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("store", func(context.Context) error { return errors.New("down") })
	r.Register("store", func(context.Context) error { return nil })
	assert.True(t, r.Healthy(context.Background()))
}
