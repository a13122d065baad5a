package twilio

import (
	"bytes"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/frames"
	twilioclient "github.com/twilio/twilio-go/client"
)

// handleVoice answers the call webhook with TwiML connecting the call to the
// media stream socket.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !t.acceptWebhook(w, r, "twilio_voice_invalid_signature") {
		return
	}
	var url bytes.Buffer
	_ = xml.EscapeText(&url, []byte(t.websocketURL(r)))
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, `<Response><Connect><Stream url="`+url.String()+`"/></Connect></Response>`)
}

// handleStatusCallback turns terminal call statuses into call_end frames. Calls
// that never reached the media stream (busy, no answer) only end here.
func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !t.acceptWebhook(w, r, "twilio_status_invalid_signature") {
		return
	}
	defer w.WriteHeader(http.StatusOK)
	if err := r.ParseForm(); err != nil {
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	reason := endReason(status)
	if reason == "" || callSID == "" {
		return
	}
	streamID, conn, meta := t.lookupCall(callSID)
	if conn == nil {
		meta = map[string]string{frames.MetaCallSID: callSID}
	}
	meta[frames.MetaCallStatus] = status
	meta[frames.MetaSource] = "status_callback"
	t.emitCallEnd(streamID, meta, reason)
	if conn != nil {
		t.detach(streamID, conn)
	}
}

func (t *Transport) acceptWebhook(w http.ResponseWriter, r *http.Request, event string) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if t.cfg.AuthToken != "" && !t.validSignature(r) {
		t.logger.Warn(event, slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	return true
}

// validSignature checks X-Twilio-Signature and restores the body for later
// form parsing.
func (t *Transport) validSignature(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

// requestURL rebuilds the URL Twilio signed, preferring the configured public
// URL over what the proxy forwarded.
func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = r.Header.Get("X-Forwarded-Proto")
	}
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + t.host(r) + r.URL.RequestURI()
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + hostOf(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	return "wss://" + t.host(r) + t.cfg.WebsocketPath
}

func (t *Transport) host(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return strings.TrimPrefix(t.cfg.ServerAddr, ":")
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		switch {
		case a == "":
		case strings.Contains(a, "://"):
			if strings.EqualFold(a, origin) {
				return true
			}
		case strings.EqualFold(a, hostOf(origin)):
			return true
		}
	}
	return false
}

// publicURL is the externally reachable URL for path, falling back to the
// local listen address.
func publicURL(cfg Config, path string) string {
	if cfg.PublicURL != "" {
		return "https://" + hostOf(cfg.PublicURL) + path
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

// hostOf strips the scheme and trailing slashes from a URL.
func hostOf(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
