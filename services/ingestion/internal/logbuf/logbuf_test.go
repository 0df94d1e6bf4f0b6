package logbuf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuffer_KeepsNewestLines(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		_, err := fmt.Fprintf(b, "line %d\n", i)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, b.Lines(0))
	assert.Equal(t, []string{"line 4", "line 5"}, b.Lines(2))
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, b.Lines(10))
}

func TestBuffer_PartiallyFilled(t *testing.T) {
	b := New(5)
	_, _ = b.Write([]byte("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, b.Lines(0))
	assert.Empty(t, New(2).Lines(0))
}

func TestBuffer_Tee(t *testing.T) {
	b := New(10)
	logger := zap.NewNop().WithOptions(b.Tee(zapcore.InfoLevel))

	logger.Debug("hidden")
	logger.Info("cycle completed", zap.Int("terms", 2))

	lines := b.Lines(0)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "cycle completed")
	assert.Contains(t, lines[0], `"terms": 2`)
}
