package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "sweeper")
		panic("boom")
	})

	records := decodeRecords(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "PANIC recovered", records[0]["msg"])
	assert.Equal(t, "boom", records[0]["panic"])
	assert.Equal(t, "sweeper", records[0]["context"])
	assert.NotEmpty(t, records[0]["stack"])
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
		panic("x")
	}()
	assert.True(t, called)

	called = false
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
	}()
	assert.False(t, called)
}

func TestPanicError(t *testing.T) {
	assert.NoError(t, PanicError(nil))
	assert.EqualError(t, PanicError("bad"), "panic: bad")
}
