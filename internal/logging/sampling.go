package logging

import (
	"sort"

	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core so that each level listed in cfg.Levels gets its own
// sampler. Unlisted levels, and Error and above, always pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]bool, len(cfg.Levels))
	levels := make([]zapcore.Level, 0, len(cfg.Levels))
	for lvl := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		sampled[lvl] = true
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	cores := make([]zapcore.Core, 0, len(levels)+1)
	cores = append(cores, &levelFilterCore{
		Core:  core,
		allow: func(l zapcore.Level) bool { return !sampled[l] },
	})
	for _, lvl := range levels {
		lvl := lvl
		rate := cfg.Levels[lvl]
		only := &levelFilterCore{
			Core:  core,
			allow: func(l zapcore.Level) bool { return l == lvl },
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick, rate.Initial, rate.Thereafter))
	}

	return zapcore.NewTee(cores...)
}

// levelFilterCore passes through only the levels allow accepts.
type levelFilterCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// With preserves the filter on child cores.
func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:  c.Core.With(fields),
		allow: c.allow,
	}
}
