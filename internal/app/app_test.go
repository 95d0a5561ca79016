package app

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNew_InMemory(t *testing.T) {
	cfg := &domain.Config{
		Profile: domain.ProfileConfig{Driver: "memory"},
		Stream:  domain.StreamConfig{Enabled: true},
	}

	a, err := New(context.Background(), cfg, testLogger(), Options{Stream: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.IsType(t, &repository.MemoryRepository{}, a.Assessments)
	assert.NotNil(t, a.Hub)
	assert.NotNil(t, a.Prophet)
	assert.NotNil(t, a.Variants)
	assert.NotNil(t, a.Guidelines)

	checks := a.HealthChecks()
	require.Contains(t, checks, "cache")
	assert.NotContains(t, checks, "database")
	assert.NoError(t, checks["cache"](context.Background()))
}

func TestNew_StreamNotRequested(t *testing.T) {
	cfg := &domain.Config{Stream: domain.StreamConfig{Enabled: true}}

	a, err := New(context.Background(), cfg, testLogger(), Options{})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Hub)
}

func TestNew_UnknownProfileDriver(t *testing.T) {
	cfg := &domain.Config{Profile: domain.ProfileConfig{Driver: "mongo"}}

	_, err := New(context.Background(), cfg, testLogger(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile store")
}

func TestClose_ReverseOrder(t *testing.T) {
	a := &App{}
	var order []int
	a.onClose(func() { order = append(order, 1) })
	a.onClose(func() { order = append(order, 2) })

	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}
