// Package twilio terminates Twilio Media Streams and drives the Twilio REST API
// for outbound calls and hangups.
package twilio

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/transports"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// SampleRate is the media stream rate in both directions.
const SampleRate = 8000

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	FromNumber         string   `mapstructure:"from_number"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	SendQueueSize      int      `mapstructure:"send_queue_size"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if c.SendQueueSize <= 0 {
		// 512 frames is about ten seconds of 20ms playback.
		c.SendQueueSize = 512
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport terminates Twilio Media Streams. Inbound mu-law is decoded to PCM16
// before it leaves the transport; outbound PCM16 is re-encoded to mu-law.
type Transport struct {
	cfg    Config
	server *http.Server
	recvCh chan frames.Frame
	logger *slog.Logger
	// systemWait bounds how long a call start or end waits for queue space.
	systemWait time.Duration

	// updater completes calls; nil builds a REST client from cfg.
	updater callUpdater

	mu      sync.Mutex
	streams map[string]*stream // by stream sid
	byCall  map[string]string  // call sid -> stream sid
	routes  []route

	draining atomic.Bool
	stopOnce sync.Once
}

// stream is one attached media socket and the identity it announced.
type stream struct {
	conn *mediaConn
	meta map[string]string
}

type route struct {
	pattern string
	handler http.Handler
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

func New(cfg Config) *Transport {
	return &Transport{
		cfg:        cfg.withDefaults(),
		recvCh:     make(chan frames.Frame, 1024),
		systemWait: 2 * time.Second,
		logger:     slog.Default().With(slog.String("component", "twilio_transport")),
		streams:    make(map[string]*stream),
		byCall:     make(map[string]string),
	}
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         publicURL(t.cfg, t.cfg.VoicePath),
		"status_callback_url": publicURL(t.cfg, t.cfg.StatusCallbackPath),
		"media_stream_path":   t.cfg.WebsocketPath,
	}
}

// Handle mounts an extra route on the transport's HTTP server. Call before Start.
func (t *Transport) Handle(pattern string, handler http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, route{pattern: pattern, handler: handler})
}

// Handler builds the HTTP handler serving webhooks, the media socket and extra routes.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.Handle(t.cfg.WebsocketPath, http.HandlerFunc(t.serveMedia))
	t.mu.Lock()
	extra := append([]route(nil), t.routes...)
	t.mu.Unlock()
	for _, r := range extra {
		mux.Handle(r.pattern, r.handler)
	}
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new media sockets and closes the attached ones.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.draining.Store(true)
		if t.server != nil {
			_ = t.server.Close()
		}
		t.mu.Lock()
		open := make([]*mediaConn, 0, len(t.streams))
		for _, st := range t.streams {
			open = append(open, st.conn)
		}
		t.mu.Unlock()
		for _, c := range open {
			_ = c.close()
		}
	})
	return nil
}

// Send writes one outbound audio frame to its stream.
func (t *Transport) Send(f frames.Frame) error {
	af, ok := f.(frames.AudioFrame)
	if !ok {
		return nil
	}
	streamID := af.MetaValue(frames.MetaStreamID)
	c := t.conn(streamID)
	if c == nil {
		return transports.ErrStreamClosed
	}
	payload := af.RawPayload()
	if af.Encoding() == frames.EncodingPCM16 {
		payload = audio.EncodeMuLaw(payload)
	}
	return c.enqueue(outboundMedia(streamID, payload))
}

// Connected reports whether streamID still has a live socket.
func (t *Transport) Connected(streamID string) bool {
	c := t.conn(streamID)
	return c != nil && !c.closed.Load()
}

// CloseStream closes the socket for streamID; the read loop then emits call_end.
func (t *Transport) CloseStream(streamID string) error {
	if c := t.conn(streamID); c != nil {
		return c.close()
	}
	return nil
}

func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	return NewDialer(t.cfg).Dial(ctx, to, from, url)
}

func (t *Transport) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	return NewDialer(t.cfg).DialWithOptions(ctx, to, from, url, opts)
}

// Hangup marks the call completed through the REST API, which tears down the
// media stream on Twilio's side as well.
func (t *Transport) Hangup(ctx context.Context, callSID string) error {
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid required")
	}
	if err := ctx.Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportHangup)
	}
	updater := t.updater
	if updater == nil {
		if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
			return errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonTransportHangup)
		}
		updater = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: t.cfg.AccountSID,
			Password: t.cfg.AuthToken,
		}).Api
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := updater.UpdateCall(callSID, params)
	return errorsx.Wrap(err, errorsx.ReasonTransportHangup)
}

// emit queues f for the engine. Audio is dropped when the queue is full;
// call start and end frames wait up to systemWait since losing one strands a
// session.
func (t *Transport) emit(f frames.Frame) {
	select {
	case t.recvCh <- f:
		return
	default:
	}
	if f.Kind() == frames.KindSystem {
		timer := time.NewTimer(t.systemWait)
		defer timer.Stop()
		select {
		case t.recvCh <- f:
			return
		case <-timer.C:
		}
	}
	t.logger.Warn("twilio_recv_queue_full", slog.String("kind", string(f.Kind())))
}

func (t *Transport) emitCallEnd(streamID string, meta map[string]string, reason string) {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[frames.MetaReason] = reason
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, out))
}

// attach registers c under streamID and returns any connection it displaced:
// either an older socket for the same call or a duplicate stream sid.
func (t *Transport) attach(streamID string, c *mediaConn, meta map[string]string) *mediaConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	var displaced *mediaConn
	if prev, ok := t.streams[streamID]; ok {
		displaced = prev.conn
	}
	if callSID := meta[frames.MetaCallSID]; callSID != "" {
		if old := t.byCall[callSID]; old != "" && old != streamID {
			if prev, ok := t.streams[old]; ok {
				displaced = prev.conn
				delete(t.streams, old)
			}
		}
		t.byCall[callSID] = streamID
	}
	t.streams[streamID] = &stream{conn: c, meta: meta}
	return displaced
}

// detach forgets streamID only while it still belongs to c.
func (t *Transport) detach(streamID string, c *mediaConn) {
	t.mu.Lock()
	if st, ok := t.streams[streamID]; ok && st.conn == c {
		delete(t.streams, streamID)
		if callSID := st.meta[frames.MetaCallSID]; t.byCall[callSID] == streamID {
			delete(t.byCall, callSID)
		}
	}
	t.mu.Unlock()
	_ = c.close()
}

func (t *Transport) conn(streamID string) *mediaConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.streams[streamID]; ok {
		return st.conn
	}
	return nil
}

// lookupCall returns the stream and a copy of its meta for an attached call.
func (t *Transport) lookupCall(callSID string) (string, *mediaConn, map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	streamID := t.byCall[callSID]
	st, ok := t.streams[streamID]
	if !ok {
		return "", nil, nil
	}
	meta := make(map[string]string, len(st.meta))
	for k, v := range st.meta {
		meta[k] = v
	}
	return streamID, st.conn, meta
}
