package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/telemetry"
)

type fakeCompleter struct {
	reply   string
	err     error
	calls   int
	system  string
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.calls++
	f.system = system
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestClient_Generate(t *testing.T) {
	fc := &fakeCompleter{reply: "```yaml\n- name: Hover\n  description: Stays aloft\n```"}
	tl := logging.NewTestLogger()
	tt := telemetry.NewTestTelemetry()
	c := NewClient(fc, WithLogger(tl.Underlying()), WithTracerProvider(tt.TracerProvider()))

	out, err := c.Generate(context.Background(), Request{
		Kind: KindTopLevel, Product: "Drone", TrackerName: "System Requirements", TrackerType: "Requirement", Count: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "- name: Hover\n  description: Stays aloft", out)
	assert.Equal(t, 1, fc.calls, "exactly one completion call")
	assert.Equal(t, "You are a helpful assistant.", fc.system)

	tl.AssertLogged(t, zapcore.InfoLevel, "content received")
	tt.AssertSpanExists(t, "synthesis.generate")
	tt.AssertSpanAttribute(t, "synthesis.generate", "synthesis.kind", "top_level")
}

func TestClient_GenerateFailureIsErrSynthesis(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("API error (500): boom")}
	c := NewClient(fc)

	_, err := c.Generate(context.Background(), Request{Kind: KindTestSteps, Product: "Drone", TestCaseName: "tc"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSynthesis))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, fc.calls, "no retry")
}

func TestClient_InvalidRequestSkipsCompletion(t *testing.T) {
	fc := &fakeCompleter{}
	c := NewClient(fc)

	_, err := c.Generate(context.Background(), Request{Kind: KindParts})
	require.Error(t, err)
	assert.Equal(t, 0, fc.calls)
}
