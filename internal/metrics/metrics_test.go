package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Records.Inc()
	m.Records.Inc()
	m.Skipped.Inc()
	assert.Equal(t, 2.0, CounterValue(m.Records))
	assert.Equal(t, 1.0, CounterValue(m.Skipped))
	assert.Equal(t, 0.0, CounterValue(m.Batches))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"bibstore_loader_records_total",
		"bibstore_loader_skipped_total",
		"bibstore_loader_batches_total",
		"bibstore_reader_overloaded_total",
	}, names)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_RunStopsOnCancel(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.Records.Add(42)

	var out syncBuffer
	r := &Reporter{
		Counter:  m.Records,
		Name:     "records",
		Interval: 5 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(&out, nil)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "msg=progress") >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reporter.Run did not return after cancel")
	}
	assert.Contains(t, out.String(), "meter=records")
	assert.Contains(t, out.String(), "count=42")
}

func TestReporter_ZeroIntervalReportsOnce(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	var out syncBuffer
	r := &Reporter{Counter: m.Batches, Name: "batches", Logger: slog.New(slog.NewTextHandler(&out, nil))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)
	assert.Equal(t, 1, strings.Count(out.String(), "msg=progress"))
}
