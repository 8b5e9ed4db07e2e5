package obs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (f *fakeSession) Call(context.Context, string, any) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeSession) Done() <-chan struct{} {
	return f.done
}

func (f *fakeSession) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func newTestController(dial func(ctx context.Context) (session, error)) *RealController {
	c := NewRealController(zerolog.Nop(), ControllerConfig{Address: "ws://obs.invalid", SourceName: "RewardClip"})
	c.dial = dial
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestConnectBackoff(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2*time.Second, connectBackoff(1))
	require.Equal(t, 4*time.Second, connectBackoff(2))
	require.Equal(t, 5*time.Second, connectBackoff(3))
	require.Equal(t, 5*time.Second, connectBackoff(5))
}

func TestRealController_PlayMedia(t *testing.T) {
	t.Parallel()

	fake := &fakeOBS{password: "secret"}
	server := newFakeOBSServer(t, fake)
	defer server.Close()

	c := NewRealController(zerolog.Nop(), ControllerConfig{
		Address:    wsURL(server),
		Password:   "secret",
		SourceName: "RewardClip",
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.PlayMedia(ctx, "/clips/tasty-clip.mp4"))

	requests := fake.getRequests()
	require.Len(t, requests, 2)

	require.Equal(t, "SetInputSettings", requests[0].RequestType)
	settings := requests[0].RequestData.(map[string]any)
	require.Equal(t, "RewardClip", settings["inputName"])
	require.Equal(t, true, settings["overlay"])
	require.Equal(t, "/clips/tasty-clip.mp4", settings["inputSettings"].(map[string]any)["local_file"])

	require.Equal(t, "TriggerMediaInputAction", requests[1].RequestType)
	action := requests[1].RequestData.(map[string]any)
	require.Equal(t, "RewardClip", action["inputName"])
	require.Equal(t, restartMediaAction, action["mediaAction"])

	require.Equal(t, int32(1), fake.connections.Load())
}

func TestRealController_PlayMediaFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeOBS{
		fail: map[string]requestStatus{
			"SetInputSettings": {Result: false, Code: 600, Comment: "No source was found by the name of `RewardClip`."},
		},
	}
	server := newFakeOBSServer(t, fake)
	defer server.Close()

	c := NewRealController(zerolog.Nop(), ControllerConfig{Address: wsURL(server), SourceName: "RewardClip"})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.PlayMedia(ctx, "/clips/a.mp4")

	var playbackErr *PlaybackError
	require.True(t, errors.As(err, &playbackErr))
	require.Equal(t, "SetInputSettings", playbackErr.Step)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, 600, reqErr.Code)

	// restart is never attempted after a failed settings update
	require.Len(t, fake.getRequests(), 1)
}

func TestRealController_ConcurrentEnsureConnectedDialsOnce(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	release := make(chan struct{})
	sess := newFakeSession()

	c := newTestController(func(ctx context.Context) (session, error) {
		dials.Add(1)
		<-release
		return sess, nil
	})

	results := make(chan session, 2)
	wg := &sync.WaitGroup{}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.ensureConnected(context.Background())
			assert.NoError(t, err)
			results <- s
		}()
	}

	require.Eventually(t, func() bool {
		return dials.Load() == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for s := range results {
		require.Same(t, sess, s)
	}
	require.Equal(t, int32(1), dials.Load())
}

func TestRealController_RetriesUntilConnected(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	sess := newFakeSession()

	c := newTestController(func(ctx context.Context) (session, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return sess, nil
	})

	require.NoError(t, c.Init(context.Background()))
	require.Equal(t, int32(3), dials.Load())
}

func TestRealController_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	refused := errors.New("connection refused")

	c := newTestController(func(ctx context.Context) (session, error) {
		dials.Add(1)
		return nil, refused
	})

	err := c.Init(context.Background())

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	require.Equal(t, maxConnectAttempts, connErr.Attempts)
	require.ErrorIs(t, err, refused)
	require.Equal(t, int32(maxConnectAttempts), dials.Load())

	// the failed flight is forgotten, a new call dials again
	_ = c.Init(context.Background())
	require.Equal(t, int32(2*maxConnectAttempts), dials.Load())
}

func TestRealController_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	c := newTestController(func(ctx context.Context) (session, error) {
		return nil, errors.New("connection refused")
	})
	c.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Init(ctx)

	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRealController_BackoffUsesClock(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	sess := newFakeSession()

	c := newTestController(func(ctx context.Context) (session, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return sess, nil
	})
	clock := clockwork.NewFakeClock()
	c.clock = clock
	c.backoff = connectBackoff

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Init(ctx)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.Equal(t, int32(1), dials.Load())

	clock.Advance(connectBackoff(1) - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), dials.Load(), "dialed again before the backoff passed")

	clock.Advance(time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.Equal(t, int32(2), dials.Load())
	clock.Advance(connectBackoff(2))

	require.NoError(t, <-errCh)
	require.Equal(t, int32(3), dials.Load())
	require.Same(t, sess, c.current())
}

func TestRealController_CloseDuringConnect(t *testing.T) {
	t.Parallel()

	dialing := make(chan struct{})
	release := make(chan struct{})
	sess := newFakeSession()

	c := newTestController(func(ctx context.Context) (session, error) {
		close(dialing)
		<-release
		return sess, nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Init(context.Background())
	}()

	<-dialing
	require.NoError(t, c.Close())
	close(release)

	err := <-errCh
	require.ErrorIs(t, err, ErrControllerClosed)
	require.Nil(t, c.current())

	select {
	case <-sess.Done():
	default:
		t.Fatal("session connected after close was not closed")
	}

	// no new dials once closed
	require.ErrorIs(t, c.Init(context.Background()), ErrControllerClosed)
}

func TestRealController_ReconnectsAfterDisconnect(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	first := newFakeSession()
	second := newFakeSession()

	c := newTestController(func(ctx context.Context) (session, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	})

	require.NoError(t, c.Init(context.Background()))

	// OBS went away
	first.Close()

	require.Eventually(t, func() bool {
		return c.current() == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, c.PlayMedia(context.Background(), "/clips/a.mp4"))
	require.Equal(t, int32(2), dials.Load())
	require.Same(t, second, c.current())
}

func TestNewController_DryRun(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	c := NewController(logger, ControllerConfig{
		Address:    "ws://127.0.0.1:1",
		SourceName: "RewardClip",
		DryRun:     true,
	})

	_, ok := c.(*DryRunController)
	require.True(t, ok)

	require.NoError(t, c.Init(context.Background()))
	require.NoError(t, c.PlayMedia(context.Background(), "/clips/tasty-clip.mp4"))
	require.NoError(t, c.Close())

	require.Contains(t, buf.String(), "would play /clips/tasty-clip.mp4 on RewardClip")
}
