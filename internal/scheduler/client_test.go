package scheduler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/internal/handler"
	"github.com/aadvita/dues-engine/pkg/logger"
)

type countingRunner struct {
	calls int32
}

func (r *countingRunner) RunMonthlyTick(context.Context) (*domain.TickResult, error) {
	atomic.AddInt32(&r.calls, 1)
	return &domain.TickResult{Generated: 4, Skipped: 2, Failed: 1}, nil
}

// newTickServer serves the tick endpoint behind the same secret check as the API server.
func newTickServer(t *testing.T, runner *countingRunner) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler.TickSecret("s3cret")(http.HandlerFunc(handler.NewTickHandler(runner).Run)))
	t.Cleanup(server.Close)
	return server
}

func TestTickClient_Trigger(t *testing.T) {
	runner := &countingRunner{}
	server := newTickServer(t, runner)

	result, err := NewTickClient(server.URL, "s3cret", time.Second).Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.TickResult{Generated: 4, Skipped: 2, Failed: 1}, result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestTickClient_Rejected(t *testing.T) {
	runner := &countingRunner{}
	server := newTickServer(t, runner)

	_, err := NewTickClient(server.URL, "wrong", time.Second).Trigger(context.Background())
	assert.ErrorContains(t, err, "tick returned 403")
	assert.Zero(t, atomic.LoadInt32(&runner.calls))
}

func TestTickClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	_, err := NewTickClient(server.URL, "s3cret", 50*time.Millisecond).Trigger(context.Background())
	assert.Error(t, err)
}

func TestJob_LogsResult(t *testing.T) {
	server := newTickServer(t, &countingRunner{})

	var buf bytes.Buffer
	Job(NewTickClient(server.URL, "s3cret", time.Second), logger.NewWithWriter(&buf, "info", "json"))()

	assert.Contains(t, buf.String(), `"msg":"monthly tick finished"`)
	assert.Contains(t, buf.String(), `"generated":4`)
}

func TestNewCron_ParsesMonthlySpec(t *testing.T) {
	c := NewCron(time.UTC, logger.Discard())

	id, err := c.AddFunc("0 0 0 1 * *", func() {})
	require.NoError(t, err)

	next := c.Entry(id).Schedule.Next(time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), next)
}
