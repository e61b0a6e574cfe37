package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "WARN", " error "} {
		l, err := New(lvl, "json")
		require.NoError(t, err, lvl)
		require.NotNil(t, l)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}

func TestNewNop_ContextHelpersDoNotPanic(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.InfoContext(context.Background(), "hello", StringField("k", "v"), IntField("n", 1))
		l.ErrorContext(context.Background(), "bad", ErrorField(assert.AnError))
		l.With(Field("ticker", "AAPL")).DebugContext(context.Background(), "child")
	})
}
