package video

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/medibot/internal/backend"
)

const tick = 10 * time.Millisecond

// fakeClient assigns "v-<summary>" ids and replays a per-id status script;
// the last scripted status repeats forever.
type fakeClient struct {
	mu        sync.Mutex
	submits   []string
	submitErr error
	script    map[string][]backend.VideoStatus
	statusErr error
	checks    map[string]int
	hold      chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		script: map[string][]backend.VideoStatus{},
		checks: map[string]int{},
	}
}

func (f *fakeClient) SubmitVideo(ctx context.Context, summary string) (string, error) {
	f.mu.Lock()
	f.submits = append(f.submits, summary)
	hold, err := f.hold, f.submitErr
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "v-" + summary, nil
}

func (f *fakeClient) VideoStatus(ctx context.Context, id string) (backend.VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[id]++
	if f.statusErr != nil {
		return backend.VideoStatus{}, f.statusErr
	}
	seq := f.script[id]
	if len(seq) == 0 {
		return backend.VideoStatus{Status: backend.StatusPending}, nil
	}
	n := f.checks[id] - 1
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (f *fakeClient) checkCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[id]
}

func (f *fakeClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type memStore struct {
	mu   sync.Mutex
	jobs []Job
}

func (s *memStore) SaveJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *memStore) states(key string) []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []State
	for _, j := range s.jobs {
		if j.Key == key {
			out = append(out, j.State)
		}
	}
	return out
}

func waitDone(t *testing.T, p *Poller) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := p.Wait(ctx)
	require.NoError(t, err)
	return j
}

func TestPendingThenReady(t *testing.T) {
	client := newFakeClient()
	client.script["v-flu symptoms"] = []backend.VideoStatus{
		{Status: "pending"},
		{Status: "ready", HostedURL: "https://x/v1.mp4"},
	}
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, err := p.RequestVideo(context.Background(), "flu symptoms")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateReady, j.State)
	assert.Equal(t, "https://x/v1.mp4", j.ResultURL)
	assert.Equal(t, "v-flu symptoms", j.ID)
	assert.Equal(t, 2, j.Attempts)

	time.Sleep(5 * tick)
	assert.Equal(t, 2, client.checkCount("v-flu symptoms"))
}

func TestReadyWithoutURLKeepsPolling(t *testing.T) {
	client := newFakeClient()
	client.script["v-s"] = []backend.VideoStatus{
		{Status: "ready"},
		{Status: "processing"},
		{Status: "ready", HostedURL: "https://x/s.mp4"},
	}
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateReady, j.State)
	assert.Equal(t, 3, client.checkCount("v-s"))
}

func TestNewSummarySupersedesPolling(t *testing.T) {
	client := newFakeClient()
	store := &memStore{}
	p := New(client, Config{Interval: tick, MaxPollDuration: 10 * time.Second}, WithStore(store))
	defer p.Close()

	first, err := p.RequestVideo(context.Background(), "s1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.checkCount("v-s1") >= 2 }, time.Second, tick)

	_, err = p.RequestVideo(context.Background(), "s2")
	require.NoError(t, err)
	s1Checks := client.checkCount("v-s1")

	require.Eventually(t, func() bool { return client.checkCount("v-s2") >= 3 }, time.Second, tick)
	assert.Equal(t, s1Checks, client.checkCount("v-s1"), "s1 polled after being superseded")

	cur, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "s2", cur.OwnerSummary)
	assert.Equal(t, StatePolling, cur.State)

	states := store.states(first.Key)
	require.NotEmpty(t, states)
	assert.Equal(t, StateCancelled, states[len(states)-1])
}

func TestSameSummaryIsNoop(t *testing.T) {
	client := newFakeClient()
	p := New(client, Config{Interval: tick, MaxPollDuration: 10 * time.Second})
	defer p.Close()

	a, err := p.RequestVideo(context.Background(), "same")
	require.NoError(t, err)
	b, err := p.RequestVideo(context.Background(), "same")
	require.NoError(t, err)

	assert.Equal(t, a.Key, b.Key)
	require.Eventually(t, func() bool { return client.checkCount("v-same") >= 1 }, time.Second, tick)
	assert.Equal(t, 1, client.submitCount())
}

func TestCancelStopsChecks(t *testing.T) {
	client := newFakeClient()
	var idle atomic.Bool
	p := New(client, Config{Interval: tick, MaxPollDuration: 10 * time.Second}, WithObserver(func(j Job) {
		if j.State == StateIdle {
			idle.Store(true)
		}
	}))

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.checkCount("v-s") >= 1 }, time.Second, tick)

	p.Cancel()
	n := client.checkCount("v-s")
	time.Sleep(5 * tick)
	assert.Equal(t, n, client.checkCount("v-s"))

	_, ok := p.Current()
	assert.False(t, ok)
	assert.True(t, idle.Load())

	p.Cancel()
	p.Close()
}

func TestCancelWhenIdle(t *testing.T) {
	var calls int
	p := New(newFakeClient(), Config{}, WithObserver(func(Job) { calls++ }))
	p.Cancel()
	p.Cancel()
	assert.Zero(t, calls)
}

func TestCancelDuringSubmission(t *testing.T) {
	client := newFakeClient()
	client.hold = make(chan struct{})
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.submitCount() == 1 }, time.Second, tick)

	p.Cancel()
	time.Sleep(3 * tick)
	assert.Zero(t, client.checkCount("v-s"))
}

func TestMaxPollDuration(t *testing.T) {
	client := newFakeClient()
	limit := 80 * time.Millisecond
	p := New(client, Config{Interval: tick, MaxPollDuration: limit})

	start := time.Now()
	_, err := p.RequestVideo(context.Background(), "never")
	require.NoError(t, err)

	j := waitDone(t, p)
	elapsed := time.Since(start)
	assert.Equal(t, StateFailed, j.State)
	assert.True(t, j.TimedOut)
	assert.Equal(t, PollTimeoutText, j.ErrorMessage)
	assert.Less(t, elapsed, limit+250*time.Millisecond)

	n := client.checkCount("v-never")
	assert.Positive(t, n)
	time.Sleep(5 * tick)
	assert.Equal(t, n, client.checkCount("v-never"))
}

func TestMaxAttempts(t *testing.T) {
	client := newFakeClient()
	p := New(client, Config{Interval: tick, MaxPollDuration: 10 * time.Second, MaxAttempts: 3})

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateFailed, j.State)
	assert.True(t, j.TimedOut)
	time.Sleep(3 * tick)
	assert.Equal(t, 3, client.checkCount("v-s"))
}

func TestSubmitFailures(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		want    string
		timeout bool
	}{
		{"server message", &backend.ServiceError{Op: "video submit", StatusCode: 400, Message: "summary too long"}, "summary too long", false},
		{"no message", &backend.ServiceError{Op: "video submit", StatusCode: 500}, SubmitFailedText, false},
		{"missing id", &backend.MalformedResponseError{Op: "video submit", Reason: "missing videoId"}, SubmitFailedText, false},
		{"network", &backend.NetworkError{Op: "video submit", Err: errors.New("refused")}, NetworkErrorText, false},
		{"timeout", &backend.TimeoutError{Op: "video submit", Err: context.DeadlineExceeded}, RequestTimeoutText, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client := newFakeClient()
			client.submitErr = c.err
			p := New(client, Config{Interval: tick})

			_, err := p.RequestVideo(context.Background(), "s")
			require.NoError(t, err)

			j := waitDone(t, p)
			assert.Equal(t, StateFailed, j.State)
			assert.Equal(t, c.want, j.ErrorMessage)
			assert.Equal(t, c.timeout, j.TimedOut)
			assert.Empty(t, j.ResultURL)
			assert.Zero(t, client.checkCount("v-s"))
		})
	}
}

func TestStatusCheckFailureStopsPolling(t *testing.T) {
	client := newFakeClient()
	client.statusErr = &backend.NetworkError{Op: "video status", Err: errors.New("reset")}
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, StatusCheckFailedText, j.ErrorMessage)
	time.Sleep(3 * tick)
	assert.Equal(t, 1, client.checkCount("v-s"))
}

func TestServiceReportedFailure(t *testing.T) {
	client := newFakeClient()
	client.script["v-s"] = []backend.VideoStatus{{Status: "failed", Error: "render crashed"}}
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, "render crashed", j.ErrorMessage)
}

func TestRetryAfterFailure(t *testing.T) {
	client := newFakeClient()
	client.submitErr = &backend.NetworkError{Op: "video submit", Err: errors.New("offline")}
	client.script["v-s"] = []backend.VideoStatus{{Status: "ready", HostedURL: "https://x/s.mp4"}}
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second})

	_, ok := p.Retry(context.Background())
	assert.False(t, ok, "retry with no job")

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)
	j := waitDone(t, p)
	require.Equal(t, StateFailed, j.State)

	client.mu.Lock()
	client.submitErr = nil
	client.mu.Unlock()

	retried, ok := p.Retry(context.Background())
	require.True(t, ok)
	assert.Equal(t, "s", retried.OwnerSummary)
	assert.NotEqual(t, j.Key, retried.Key)

	j = waitDone(t, p)
	assert.Equal(t, StateReady, j.State)
	assert.Equal(t, 2, client.submitCount())

	_, ok = p.Retry(context.Background())
	assert.False(t, ok, "retry from ready")
}

func TestEmptySummary(t *testing.T) {
	client := newFakeClient()
	p := New(client, Config{})
	_, err := p.RequestVideo(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySummary)
	assert.Zero(t, client.submitCount())
}

func TestObserverSequence(t *testing.T) {
	client := newFakeClient()
	client.script["v-s"] = []backend.VideoStatus{
		{Status: "pending"},
		{Status: "ready", HostedURL: "https://x/s.mp4"},
	}
	var mu sync.Mutex
	var states []State
	p := New(client, Config{Interval: tick, MaxPollDuration: time.Second}, WithObserver(func(j Job) {
		mu.Lock()
		states = append(states, j.State)
		mu.Unlock()
	}))

	_, err := p.RequestVideo(context.Background(), "s")
	require.NoError(t, err)
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSubmitting, StatePolling, StatePolling, StateReady}, states)
}

// TestAgainstHTTPService runs the poller against the real client and an
// httptest service: one pending status, then ready.
func TestAgainstHTTPService(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/video":
			w.Write([]byte(`{"videoId":"v1"}`))
		case strings.HasPrefix(r.URL.Path, "/api/video-status/v1"):
			if statusCalls.Add(1) == 1 {
				w.Write([]byte(`{"status":"pending"}`))
				return
			}
			w.Write([]byte(`{"status":"ready","hosted_url":"https://x/v1.mp4"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(backend.New(srv.URL), Config{Interval: tick, MaxPollDuration: 5 * time.Second})
	_, err := p.RequestVideo(context.Background(), "flu symptoms")
	require.NoError(t, err)

	j := waitDone(t, p)
	assert.Equal(t, StateReady, j.State)
	assert.Equal(t, "https://x/v1.mp4", j.ResultURL)

	time.Sleep(5 * tick)
	assert.Equal(t, int32(2), statusCalls.Load())
}
