package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Brownie44l1/xray-api/internal/errors"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *recordingTransport) Configure(sentry.ClientOptions) {}
func (r *recordingTransport) SendEvent(e *sentry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}
func (r *recordingTransport) Flush(time.Duration) bool                { return true }
func (r *recordingTransport) FlushWithContext(context.Context) bool { return true }
func (r *recordingTransport) Close()                                {}

func TestInitWithoutDSNIsDisabled(t *testing.T) {
	require.NoError(t, Init(Config{}))
	assert.False(t, Enabled())
	// Must not panic without a client.
	CaptureError(apperrors.NewInferenceError("boom", nil), nil)
	Flush(time.Millisecond)
}

func TestCaptureErrorFiltersByKind(t *testing.T) {
	transport := &recordingTransport{}
	require.NoError(t, sentry.Init(sentry.ClientOptions{
		Dsn:       "https://public@example.com/1",
		Transport: transport,
	}))
	enabled.Store(true)
	t.Cleanup(func() { enabled.Store(false) })

	CaptureError(apperrors.NewDecodeError("bad upload", nil), nil)
	CaptureError(apperrors.NewInferenceError("run failed", errors.New("oom")), map[string]string{"route": "/predict/image"})
	CaptureError(nil, nil)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.events, 1)
	assert.Equal(t, "inference", transport.events[0].Tags["kind"])
	assert.Equal(t, "/predict/image", transport.events[0].Tags["route"])
}

func TestInitSetsRelease(t *testing.T) {
	require.NoError(t, Init(Config{
		DSN:         "https://public@example.com/1",
		Environment: "test",
		Release:     "xray-api@1.2.3",
	}))
	t.Cleanup(func() { enabled.Store(false) })

	assert.True(t, Enabled())
	opts := sentry.CurrentHub().Client().Options()
	assert.Equal(t, "xray-api@1.2.3", opts.Release)
	assert.Equal(t, "test", opts.Environment)
}
