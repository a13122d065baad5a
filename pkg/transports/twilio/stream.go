package twilio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/transports"
)

// streamEvent is one inbound Media Streams message. Only the fields the
// engine needs are decoded.
type streamEvent struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Start     *struct {
		CallSID   string `json:"callSid"`
		StreamSID string `json:"streamSid"`
		From      string `json:"from"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		Reason string `json:"reason"`
	} `json:"stop,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type mediaMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

func outboundMedia(streamID string, mulaw []byte) mediaMessage {
	return mediaMessage{
		Event:     "media",
		StreamSID: streamID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

// serveMedia upgrades a Media Streams socket and pumps its events until the
// stream stops or the socket drops.
func (t *Transport) serveMedia(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var (
		streamID string
		meta     map[string]string
		conn     *mediaConn
	)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var evt streamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil || evt.Start.StreamSID == "" {
				continue
			}
			streamID = evt.Start.StreamSID
			meta = map[string]string{
				frames.MetaStreamID:   streamID,
				frames.MetaCallSID:    evt.Start.CallSID,
				frames.MetaTraceID:    uuid.NewString(),
				frames.MetaFromNumber: evt.Start.From,
				frames.MetaSource:     "transport",
			}
			conn = newMediaConn(ws, t.cfg.SendQueueSize)
			if old := t.attach(streamID, conn, meta); old != nil {
				old.replaced.Store(true)
				_ = old.close()
			}
			t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallStart, meta))
		case "media":
			if conn == nil || evt.Media == nil {
				continue
			}
			if evt.Media.Track != "" && evt.Media.Track != "inbound" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				t.logger.Debug("twilio_media_decode_failed", slog.String("stream_sid", streamID))
				continue
			}
			t.emit(frames.NewAudioFrame(streamID, time.Now().UnixNano(), audio.DecodeMuLaw(payload), SampleRate, meta))
		case "stop":
			if conn == nil {
				return
			}
			reason := ""
			if evt.Stop != nil {
				reason = endReason(evt.Stop.Reason)
			}
			if reason == "" {
				reason = "completed"
			}
			t.emitCallEnd(streamID, meta, reason)
			t.detach(streamID, conn)
			return
		}
	}
	if conn != nil && !conn.replaced.Load() {
		t.emitCallEnd(streamID, meta, "transport_closed")
		t.detach(streamID, conn)
	}
}

// mediaConn serializes writes to one socket through a bounded queue.
type mediaConn struct {
	ws       *websocket.Conn
	out      chan []byte
	mu       sync.Mutex
	closed   atomic.Bool
	replaced atomic.Bool
}

func newMediaConn(ws *websocket.Conn, queue int) *mediaConn {
	c := &mediaConn{ws: ws, out: make(chan []byte, queue)}
	go c.writeLoop()
	return c
}

func (c *mediaConn) enqueue(msg mediaMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return transports.ErrStreamClosed
	}
	select {
	case c.out <- b:
		return nil
	default:
		return errorsx.Wrap(errors.New("send queue full"), errorsx.ReasonTransportSend)
	}
}

func (c *mediaConn) writeLoop() {
	for b := range c.out {
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.close()
		}
	}
}

func (c *mediaConn) close() error {
	c.mu.Lock()
	first := c.closed.CompareAndSwap(false, true)
	if first {
		close(c.out)
	}
	c.mu.Unlock()
	if !first {
		return nil
	}
	return c.ws.Close()
}

// endReasons maps Twilio stop reasons and call statuses onto call_end reasons.
// In-progress statuses map to "" and are ignored.
var endReasons = map[string]string{
	"queued":            "",
	"initiated":         "",
	"ringing":           "",
	"in-progress":       "",
	"inprogress":        "",
	"completed":         "completed",
	"call_ended":        "completed",
	"call-ended":        "completed",
	"completed_by_user": "completed",
	"hangup":            "completed",
	"busy":              "busy",
	"no-answer":         "no_answer",
	"no_answer":         "no_answer",
	"noanswer":          "no_answer",
	"failed":            "failed",
	"error":             "failed",
	"canceled":          "failed",
	"cancelled":         "failed",
	"transport_closed":  "transport_closed",
}

func endReason(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return ""
	}
	if mapped, ok := endReasons[r]; ok {
		return mapped
	}
	return "unknown"
}
