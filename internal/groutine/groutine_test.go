package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesContextAndClosesDone(t *testing.T) {
	names := make(chan string, 1)
	done := Go(context.Background(), "worker-42", nil, func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done channel was not closed")
	}
	assert.Equal(t, "worker-42", <-names)
}

func TestGoRecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()

	done := Go(context.Background(), "panicker", logger, func(ctx context.Context) {
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking goroutine did not finish")
	}

	entry := hook.LastEntry()
	require.NotNil(t, entry, "panic MUST be logged")
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "panicker", entry.Data["goroutine"])
	assert.Contains(t, entry.Data, "stack")
}

func TestRecoverHandsOverError(t *testing.T) {
	logger, _ := test.NewNullLogger()

	var got error
	func() {
		defer Recover(logger, func(err error) { got = err })
		panic("tick failed")
	}()

	require.Error(t, got)
	assert.Equal(t, "panic: tick failed", got.Error())
}

func TestGetNameWithoutLabel(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck
	assert.NotZero(t, GetGID())
}
