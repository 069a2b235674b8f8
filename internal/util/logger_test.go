package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGlobalsAreSafeForConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	loggers := make([]interface{}, 16)
	tracers := make([]interface{}, 16)
	for i := range loggers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loggers[i] = GetLogger()
			tracers[i] = GetTracer()
		}(i)
	}
	wg.Wait()

	for i := range loggers {
		require.NotNil(t, loggers[i])
		assert.Same(t, loggers[0], loggers[i])
		assert.Equal(t, tracers[0], tracers[i])
	}
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("production", "warn"))
	defer SyncLogger()

	l := GetLogger()
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitLogger("development", ""))
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, InitLogger("development", "loud"))
}
