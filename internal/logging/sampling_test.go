package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(cfg SamplingConfig) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	return &Logger{zap: zap.New(newSampledCore(core, cfg)), config: NewDefaultConfig()}, observed
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	logger, observed := sampledLogger(SamplingConfig{
		Enabled: true,
		Tick:    time.Minute,
		Levels:  DefaultLevelSamplingConfig(),
	})

	for i := 0; i < 150; i++ {
		logger.Error(context.Background(), "delete failed")
	}
	assert.Equal(t, 150, observed.FilterMessage("delete failed").Len())
}

func TestNewSampledCore_PerLevelRates(t *testing.T) {
	logger, observed := sampledLogger(SamplingConfig{
		Enabled: true,
		Tick:    time.Minute,
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
			zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
		},
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Debug(ctx, "page fetched")
		logger.Info(ctx, "item created")
		logger.Warn(ctx, "status skipped")
	}

	assert.Equal(t, 2, observed.FilterMessage("page fetched").Len())
	assert.Equal(t, 5, observed.FilterMessage("item created").Len())
	assert.Equal(t, 20, observed.FilterMessage("status skipped").Len(), "unlisted level passes through")
}

func TestNewSampledCore_ChildKeepsFilter(t *testing.T) {
	logger, observed := sampledLogger(SamplingConfig{
		Enabled: true,
		Tick:    time.Minute,
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 1, Thereafter: 0},
		},
	})

	child := logger.With(zap.String("tracker", "Risks"))
	for i := 0; i < 3; i++ {
		child.Info(context.Background(), "scan")
	}
	assert.Equal(t, 1, observed.FilterMessage("scan").Len())
}
