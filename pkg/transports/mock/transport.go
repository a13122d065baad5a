package mock

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	recvCh chan frames.Frame
	sentCh chan frames.Frame
	closed atomic.Bool
	mu     sync.Mutex

	streams  map[string]bool
	closedBy map[string]int
	hangups  []string
	handlers map[string]http.Handler
}

func New() *Transport {
	return &Transport{
		recvCh:   make(chan frames.Frame, 256),
		sentCh:   make(chan frames.Frame, 4096),
		streams:  make(map[string]bool),
		closedBy: make(map[string]int),
		handlers: make(map[string]http.Handler),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		close(t.sentCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	if t.closed.Load() {
		return transports.ErrStreamClosed
	}
	streamID := f.Meta()[frames.MetaStreamID]
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return transports.ErrStreamClosed
	}
	if streamID != "" && !t.streams[streamID] {
		return transports.ErrStreamClosed
	}
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

// Open marks a stream as connected so Send and Connected accept it.
func (t *Transport) Open(streamID string) {
	t.mu.Lock()
	t.streams[streamID] = true
	t.mu.Unlock()
}

func (t *Transport) Connected(streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[streamID]
}

func (t *Transport) CloseStream(streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closedBy[streamID]++
	delete(t.streams, streamID)
	return nil
}

// CloseCount reports how often CloseStream was called for a stream.
func (t *Transport) CloseCount(streamID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closedBy[streamID]
}

func (t *Transport) Hangup(ctx context.Context, callSID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups = append(t.hangups, callSID)
	return nil
}

// Hangups lists the call ids passed to Hangup.
func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hangups...)
}

func (t *Transport) Handle(pattern string, handler http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[pattern] = handler
}

// Handler returns the handler mounted at pattern, if any.
func (t *Transport) Handler(pattern string) (http.Handler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handlers[pattern]
	return h, ok
}

// Push injects an inbound frame into the transport.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	t.recvCh <- f
}

// Sent exposes outbound frames for inspection.
func (t *Transport) Sent() <-chan frames.Frame { return t.sentCh }
