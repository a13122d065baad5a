package transports

import (
	"context"
	"errors"
	"net/http"

	"github.com/harunnryd/callprobe/pkg/frames"
)

// ErrStreamClosed is returned when sending to a stream that is no longer attached.
var ErrStreamClosed = errors.New("stream closed")

// Transport defines a vendor-agnostic I/O boundary for call audio.
// Inbound audio frames carry PCM16; system frames announce call start and end.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
	// Connected reports whether the stream can still accept outbound audio.
	Connected(streamID string) bool
	// CloseStream force-closes one stream. The transport still emits call_end for it.
	CloseStream(streamID string) error
}

// CallTerminator ends the telephony leg behind a stream.
type CallTerminator interface {
	Hangup(ctx context.Context, callSID string) error
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
	// Timeout is the ring timeout in seconds; zero keeps the carrier default.
	Timeout int
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// HandlerRegistrar lets other components mount HTTP routes on the transport's server.
type HandlerRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
