package relay

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/status"
	tmock "github.com/MrWong99/voicebridge/internal/transport/mock"
	"github.com/MrWong99/voicebridge/pkg/audio"
	amock "github.com/MrWong99/voicebridge/pkg/audio/mock"
)

// statusLog records every reported status line.
type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLog) Report(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

func (s *statusLog) contains(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.lines, text)
}

func (s *statusLog) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines)
}

// delayLog replaces the manager's sleep hook and records requested delays
// without actually waiting.
type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayLog) sleep(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delayLog) snapshot() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.delays)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fastTiming keeps every interval short enough for tests.
func fastTiming() Timing {
	return Timing{
		ConnectTimeout: time.Second,
		PingInterval:   20 * time.Millisecond,
		PingTimeout:    50 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		WriteTimeout:   time.Second,
	}
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

type fixture struct {
	mgr     *Manager
	dialer  *tmock.Dialer
	queue   *Queue
	output  *amock.OutputStream
	status  *statusLog
	delays  *delayLog
	errc    chan error
	stopped bool
}

func newFixture(t *testing.T, dialer *tmock.Dialer, capture *CaptureSession) *fixture {
	t.Helper()
	f := &fixture{
		dialer: dialer,
		queue:  NewQueue(256),
		output: &amock.OutputStream{},
		status: &statusLog{},
		delays: &delayLog{},
	}
	mgr, err := NewManager(ManagerConfig{
		Dialer:   dialer,
		URL:      "ws://peer.test:8765/",
		Queue:    f.queue,
		Output:   f.output,
		Capture:  capture,
		Reporter: f.status,
		Metrics:  testMetrics(t),
		Timing:   fastTiming(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	mgr.sleep = f.delays.sleep
	f.mgr = mgr
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.errc = make(chan error, 1)
	go func() { f.errc <- f.mgr.Run(context.Background()) }()
	t.Cleanup(f.stop)
}

func (f *fixture) stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	f.mgr.Stop()
	<-f.errc
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := NewManager(ManagerConfig{})
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"dialer", "URL", "queue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestManager_StopWithoutRunIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, tmock.NewDialer(), nil)

	f.mgr.Stop()
	f.mgr.Stop()

	if f.mgr.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", f.mgr.State())
	}
	if f.dialer.CallCount() != 0 {
		t.Errorf("dialed %d times", f.dialer.CallCount())
	}
	if got := f.status.snapshot(); len(got) != 0 {
		t.Errorf("unexpected status updates: %v", got)
	}
}

func TestManager_StopWhileDisconnected(t *testing.T) {
	t.Parallel()
	dialer := tmock.NewDialer()
	dialer.Fallback = refused()
	f := newFixture(t, dialer, nil)
	f.mgr.sleep = sleepCtx // really wait so Stop lands during a backoff sleep
	f.start(t)

	<-dialer.Dialed()
	f.stop()
	f.mgr.Stop()

	if f.mgr.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", f.mgr.State())
	}
	if f.mgr.Active() {
		t.Error("manager still active after Stop")
	}
}

func TestManager_RunTwiceFails(t *testing.T) {
	t.Parallel()
	dialer := tmock.NewDialer()
	f := newFixture(t, dialer, nil)
	f.start(t)
	<-dialer.Dialed()

	if err := f.mgr.Run(t.Context()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run err = %v, want ErrAlreadyRunning", err)
	}
}

func TestManager_BackoffGrowsThenResets(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	dialer := tmock.NewDialer(
		tmock.DialResult{Err: refused()},
		tmock.DialResult{Err: refused()},
		tmock.DialResult{Err: refused()},
		tmock.DialResult{Err: refused()},
		tmock.DialResult{Conn: conn},
		tmock.DialResult{Err: refused()},
	)
	f := newFixture(t, dialer, nil)
	f.start(t)

	eventually(t, 2*time.Second, "connection", f.mgr.Connected)
	conn.Drop()
	eventually(t, 2*time.Second, "fifth backoff", func() bool { return len(f.delays.snapshot()) >= 5 })
	f.stop()

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 1 * time.Second}
	if got := f.delays.snapshot()[:5]; !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
	for _, line := range []string{
		status.Retrying("Connection failed (refused)", time.Second),
		status.Retrying("Connection failed (refused)", 8*time.Second),
		status.Connected,
		status.LostReceive,
	} {
		if !f.status.contains(line) {
			t.Errorf("missing status %q in %v", line, f.status.snapshot())
		}
	}
}

func TestManager_SendsFramesInOrder(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), nil)

	const n = 40
	for i := range n {
		f.queue.Push(audio.AudioFrame{Data: []byte{byte(i)}})
	}
	f.start(t)

	eventually(t, 2*time.Second, "all frames written", func() bool { return len(conn.Written()) == n })
	for i, msg := range conn.Written() {
		if msg[0] != byte(i) {
			t.Fatalf("message %d carries frame %d", i, msg[0])
		}
	}
	f.stop()

	if conn.CallCountClose != 1 {
		t.Errorf("graceful close called %d times, want 1", conn.CallCountClose)
	}
}

func TestManager_ReceivesToPlaybackAndCapture(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	sink := &amock.FileSink{}
	capture, err := NewCaptureSession("received.wav", 5*time.Second, audio.DefaultFormat, sink)
	if err != nil {
		t.Fatalf("NewCaptureSession: %v", err)
	}
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), capture)
	f.start(t)
	eventually(t, 2*time.Second, "connection", f.mgr.Connected)

	// 220 buffers of 1024 samples exceed five seconds at 44.1 kHz.
	const buffers = 220
	chunk := make([]byte, audio.DefaultFramesPerBuffer*2)
	for range buffers {
		if !conn.Deliver(chunk) {
			t.Fatal("connection closed while delivering")
		}
	}
	eventually(t, 5*time.Second, "playback of every buffer", func() bool { return len(f.output.Written()) == buffers })
	f.stop()

	if sink.CallCount() != 1 {
		t.Fatalf("WriteWAV called %d times, want exactly 1", sink.CallCount())
	}
	call := sink.Recorded()[0]
	if got := call.Format.Samples(len(call.PCM)); got < 5*audio.DefaultSampleRate {
		t.Errorf("saved %d samples, want ≥ %d", got, 5*audio.DefaultSampleRate)
	}
	if !f.status.contains(status.Saved("received.wav", capture.Duration())) {
		t.Errorf("missing saved status in %v", f.status.snapshot())
	}
}

func TestManager_PartialCaptureFlushedOnStop(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	sink := &amock.FileSink{}
	capture, err := NewCaptureSession("partial.wav", 5*time.Second, audio.DefaultFormat, sink)
	if err != nil {
		t.Fatalf("NewCaptureSession: %v", err)
	}
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), capture)
	f.start(t)
	eventually(t, 2*time.Second, "connection", f.mgr.Connected)

	conn.Deliver(make([]byte, 2048))
	eventually(t, 2*time.Second, "playback", func() bool { return len(f.output.Written()) == 1 })
	f.stop()

	if sink.CallCount() != 1 {
		t.Fatalf("WriteWAV called %d times, want 1", sink.CallCount())
	}
	if got := len(sink.Recorded()[0].PCM); got != 2048 {
		t.Errorf("partial flush wrote %d bytes, want 2048", got)
	}
}

func TestManager_LivenessFailureTearsDown(t *testing.T) {
	t.Parallel()
	first := tmock.NewConn()
	dialer := tmock.NewDialer(tmock.DialResult{Conn: first})
	f := newFixture(t, dialer, nil)
	f.start(t)
	eventually(t, 2*time.Second, "connection", f.mgr.Connected)
	eventually(t, 2*time.Second, "a successful ping", func() bool { return first.Pings() > 0 })

	failedAt := time.Now()
	first.SetPingError(errors.New("pong timeout"))

	// One ping interval to notice plus one poll interval to tear down, with
	// generous slack for scheduler noise.
	eventually(t, time.Second, "teardown", first.Closed)
	if elapsed := time.Since(failedAt); elapsed > 200*time.Millisecond {
		t.Errorf("teardown took %v", elapsed)
	}
	if first.CallCountCloseNow != 1 {
		t.Errorf("CloseNow called %d times, want 1", first.CallCountCloseNow)
	}
	eventually(t, time.Second, "reconnect attempt", func() bool { return dialer.CallCount() >= 2 })
	if f.mgr.Connected() {
		t.Error("manager reports connected after liveness failure")
	}
	if !f.status.contains(status.Reconnecting) {
		t.Errorf("missing reconnect status in %v", f.status.snapshot())
	}
}

func TestManager_ReconnectsAfterPeerDrop(t *testing.T) {
	t.Parallel()
	first, second := tmock.NewConn(), tmock.NewConn()
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: first}, tmock.DialResult{Conn: second}), nil)
	f.start(t)
	eventually(t, 2*time.Second, "connection", f.mgr.Connected)

	first.Drop()
	eventually(t, 2*time.Second, "second connection", func() bool { return f.dialer.CallCount() == 2 && f.mgr.Connected() })

	f.queue.Push(audio.AudioFrame{Data: []byte{42}})
	eventually(t, 2*time.Second, "frame on new connection", func() bool { return len(second.Written()) == 1 })
	if len(f.delays.snapshot()) != 0 {
		t.Errorf("reconnect after a drop should not back off, slept %v", f.delays.snapshot())
	}
}

func TestManager_StopMidStreamNeverWritesAfterClose(t *testing.T) {
	t.Parallel()
	for range 20 {
		conn := tmock.NewConn()
		f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), nil)
		f.start(t)
		eventually(t, 2*time.Second, "connection", f.mgr.Connected)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; !conn.Closed(); i++ {
				f.queue.Push(audio.AudioFrame{Data: []byte{byte(i)}})
			}
		}()
		eventually(t, 2*time.Second, "traffic", func() bool { return len(conn.Written()) > 5 })
		f.stop()
		<-done

		if n := conn.WritesAfterClose(); n != 0 {
			t.Fatalf("%d writes after close", n)
		}
		if f.mgr.State() != StateDisconnected {
			t.Fatalf("state = %v after stop", f.mgr.State())
		}
	}
}

func TestManager_PlaybackErrorDoesNotEndPipeline(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), nil)
	f.output.WriteError = errors.New("underrun")
	f.start(t)
	eventually(t, 2*time.Second, "connection", f.mgr.Connected)

	conn.Deliver([]byte{1, 2})
	conn.Deliver([]byte{3, 4})
	time.Sleep(50 * time.Millisecond)

	if !f.mgr.Connected() {
		t.Error("playback failure tore the connection down")
	}
	if f.dialer.CallCount() != 1 {
		t.Errorf("dialed %d times, want 1", f.dialer.CallCount())
	}
}

func TestManager_TransientWriteErrorRetriesInPlace(t *testing.T) {
	t.Parallel()
	conn := tmock.NewConn()
	conn.WriteError = errors.New("buffer full")
	f := newFixture(t, tmock.NewDialer(tmock.DialResult{Conn: conn}), nil)
	f.queue.Push(audio.AudioFrame{Data: []byte{1}})
	f.start(t)

	eventually(t, 2*time.Second, "send error status", func() bool { return f.status.contains(status.SendError) })
	if !f.mgr.Connected() {
		t.Error("transient write error tore the connection down")
	}
}
