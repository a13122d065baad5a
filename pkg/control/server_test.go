package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/call"
	"github.com/harunnryd/callprobe/pkg/reports"
	"github.com/harunnryd/callprobe/pkg/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct {
	to  string
	sid string
	err error
}

func (d *fakeDialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	d.to = to
	return d.sid, d.err
}

type fakeCalls int64

func (c fakeCalls) Count() int64 { return int64(c) }

func newTestServer(t *testing.T, cfg Config, dialer *fakeDialer) (*httptest.Server, *call.Coordinator, *reports.Store) {
	t.Helper()
	coord := call.NewCoordinator("English")
	store := reports.NewStore(5)
	deps := Deps{Coordinator: coord, Reports: store, Calls: fakeCalls(2)}
	if dialer != nil {
		deps.Dialer = dialer
	}
	srv := httptest.NewServer(NewServer(cfg, deps).Handler())
	t.Cleanup(srv.Close)
	return srv, coord, store
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestOverride(t *testing.T) {
	srv, coord, _ := newTestServer(t, Config{}, nil)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/override", `{"text":"Tuesday at ten"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	text, ok := coord.TakeOverride()
	assert.True(t, ok)
	assert.Equal(t, "Tuesday at ten", text)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/override", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "text is required", body["error"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/override", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOTP(t *testing.T) {
	srv, coord, _ := newTestServer(t, Config{}, nil)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/otp", `{"code":"48 29 13"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "482913", coord.PendingOTP())

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/otp", `{"code":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/otp", `{"pin":"1234"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLanguageAndState(t *testing.T) {
	srv, coord, _ := newTestServer(t, Config{}, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/language", `{"language":"Spanish"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Spanish", body["next_language"])
	_, lang := coord.Assign()
	assert.Equal(t, "Spanish", lang)

	coord.SetOTP("1234")
	resp, body = do(t, http.MethodGet, srv.URL+"/api/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(scenario.Booking), body["next_scenario"])
	assert.Equal(t, true, body["otp_pending"])
	assert.Equal(t, false, body["override_pending"])
	assert.EqualValues(t, 2, body["active_calls"])
}

func TestDial(t *testing.T) {
	dialer := &fakeDialer{sid: "CA123"}
	srv, coord, _ := newTestServer(t, Config{}, dialer)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/calls", `{"to":"+15550100","language":"Hindi"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "CA123", body["call_sid"])
	assert.Equal(t, "+15550100", dialer.to)
	_, lang := coord.Assign()
	assert.Equal(t, "Hindi", lang)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/calls", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	dialer.err = errors.New("twilio down")
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/calls", `{"to":"+15550100"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestDialWithoutDialer(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{}, nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/calls", `{"to":"+15550100"}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestReports(t *testing.T) {
	srv, _, store := newTestServer(t, Config{}, nil)
	for _, id := range []string{"r1", "r2", "r3"} {
		store.Add(reports.CallReport{ID: id, CallSID: "CA-" + id, Scenario: scenario.Booking, EndedAt: time.Now()})
	}

	resp, err := http.Get(srv.URL + "/api/reports?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []reports.CallReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "r3", list[0].ID)

	r, body := do(t, http.MethodGet, srv.URL+"/api/reports/CA-r1", "")
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "r1", body["id"])

	r, _ = do(t, http.MethodGet, srv.URL+"/api/reports/missing", "")
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
	r, _ = do(t, http.MethodGet, srv.URL+"/api/reports?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestTokenGuard(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{Token: "s3cret"}, nil)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/state", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/state", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

type recordingRegistrar map[string]http.Handler

func (r recordingRegistrar) Handle(pattern string, h http.Handler) { r[pattern] = h }

func TestRegisterMountsRoutes(t *testing.T) {
	reg := recordingRegistrar{}
	NewServer(Config{Prefix: "ops/"}, Deps{}).Register(reg)
	assert.Contains(t, reg, "/ops/state")
	assert.Contains(t, reg, "/ops/reports/")
	assert.Contains(t, reg, "/health")

	rec := httptest.NewRecorder()
	reg["/ops/state"].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/state", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
