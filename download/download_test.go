package download

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xpool"
)

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")
	err := Transient(base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, xpool.ErrTransientFailure)
	assert.Equal(t, "transient: connection reset", err.Error())

	wrapped := fmt.Errorf("fetch: %w", err)
	assert.True(t, IsTransient(wrapped))

	assert.False(t, IsTransient(base))
	assert.NoError(t, Transient(nil))
}

func TestTransportRegistry(t *testing.T) {
	var got map[string]any
	require.NoError(t, RegisterTransport("test-echo", func(cfg map[string]any) (Transport, error) {
		got = cfg
		return TransportFunc(func(context.Context, Request, Progress) error { return nil }), nil
	}))

	tr, err := NewTransport("test-echo", map[string]any{"k": 1})
	require.NoError(t, err)
	assert.NoError(t, tr.Download(context.Background(), Request{}, nil))
	assert.Equal(t, map[string]any{"k": 1}, got)

	_, err = NewTransport("test-missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)

	assert.Error(t, RegisterTransport("", func(map[string]any) (Transport, error) { return nil, nil }))
	assert.Error(t, RegisterTransport("test-nil", nil))
}

func TestTaskResetAndRequest(t *testing.T) {
	tk := newTask()
	tk.DestinationPath = "/tmp/a"
	tk.SourceURI = "mem://a"
	tk.FlushThreshold = 512
	tk.Downloaded = 99
	tk.Err = errors.New("x")
	tk.SerialID = 7
	tk.SetTimeout(time.Second)

	req := tk.request()
	assert.Equal(t, Request{
		Serial:          7,
		SourceURI:       "mem://a",
		DestinationPath: "/tmp/a",
		FlushThreshold:  512,
		Timeout:         time.Second,
	}, req)
	assert.Equal(t, "mem://a", tk.SourceKey())

	tk.Reset()
	assert.Empty(t, tk.SourceURI)
	assert.Equal(t, int64(0), tk.Downloaded)
	assert.NoError(t, tk.Err)
	assert.Equal(t, int64(0), tk.SerialID)
	assert.Equal(t, time.Duration(0), tk.Timeout())
	assert.Equal(t, StatusTodo, tk.Status())
}

func TestEventResets(t *testing.T) {
	f := &FailureEvent{Serial: 1, Err: errors.New("x"), TimedOut: true}
	f.Reset()
	assert.Equal(t, FailureEvent{}, *f)

	u := &UpdateEvent{Serial: 1, Delta: 5}
	u.Reset()
	assert.Equal(t, UpdateEvent{}, *u)

	ids := []int{StartEventID, UpdateEventID, SuccessEventID, FailureEventID}
	seen := map[int]bool{}
	for _, id := range ids {
		assert.Greater(t, id, xpool.ReservedEventIDs)
		seen[id] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, SuccessEventID, (&SuccessEvent{}).EventID())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("XPOOL_DOWNLOAD_MAX_CONCURRENT", "8")
	t.Setenv("XPOOL_DOWNLOAD_TIMEOUT", "2m")
	t.Setenv("XPOOL_DOWNLOAD_FLUSH_SIZE", "1024")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, int64(1024), cfg.FlushSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.ProgressWindow)

	t.Setenv("XPOOL_DOWNLOAD_FLUSH_SIZE", "0")
	_, err = LoadConfigFromEnv()
	assert.ErrorIs(t, err, xpool.ErrConfiguration)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Defaults().Validate())

	cases := map[string]func(*Config){
		"negative concurrency": func(c *Config) { c.MaxConcurrent = -1 },
		"negative timeout":     func(c *Config) { c.Timeout = -time.Second },
		"zero flush size":      func(c *Config) { c.FlushSize = 0 },
		"negative retries":     func(c *Config) { c.MaxRetries = -1 },
		"zero window":          func(c *Config) { c.ProgressWindow = 0 },
		"zero report buffer":   func(c *Config) { c.ReportBuffer = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), xpool.ErrConfiguration)
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"max_concurrent":  0,
		"timeout":         "1500ms",
		"flush_size":      int64(4096),
		"max_retries":     -2,
		"progress_window": 10 * time.Second,
		"report_buffer":   "lots",
	})

	assert.Equal(t, 0, cfg.MaxConcurrent)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, int64(4096), cfg.FlushSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.ProgressWindow)
	assert.Equal(t, 256, cfg.ReportBuffer)

	assert.Equal(t, int64(100), ConfigFromMap(map[string]any{"flush_size": 100}).FlushSize)
	assert.Equal(t, 30*time.Second, ConfigFromMap(map[string]any{"timeout": "soon"}).Timeout)
}
