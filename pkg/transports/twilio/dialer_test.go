package twilio

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/transports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type stubCreator struct {
	last *api.CreateCallParams
	sid  string
	err  error
}

func (s *stubCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func TestDialerDialUsesDefaults(t *testing.T) {
	stub := &stubCreator{sid: "CA123"}
	d := NewDialer(Config{
		AccountSID: "AC1",
		AuthToken:  "token",
		PublicURL:  "https://example.com",
		FromNumber: "+200",
	})
	d.client = stub

	sid, err := d.Dial(context.Background(), "+100", "", "")
	require.NoError(t, err)
	assert.Equal(t, "CA123", sid)
	require.NotNil(t, stub.last)
	assert.Equal(t, "+100", *stub.last.To)
	assert.Equal(t, "+200", *stub.last.From)
	assert.Equal(t, "https://example.com/voice", *stub.last.Url)
	assert.Equal(t, "https://example.com/status", *stub.last.StatusCallback)
	require.NotNil(t, stub.last.StatusCallbackEvent)
	assert.Equal(t, []string{"completed"}, *stub.last.StatusCallbackEvent)
	assert.Equal(t, "POST", *stub.last.Method)
}

func TestDialerDialUsesOverrideURL(t *testing.T) {
	stub := &stubCreator{sid: "CA999"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	d.client = stub

	override := "https://override.example.com/voice"
	_, err := d.Dial(context.Background(), "+100", "+200", override)
	require.NoError(t, err)
	assert.Equal(t, override, *stub.last.Url)
}

func TestDialerDialWithOptions(t *testing.T) {
	stub := &stubCreator{sid: "CA777"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	d.client = stub

	_, err := d.DialWithOptions(context.Background(), "+100", "+200", "https://example.com/voice", transports.DialOptions{SendDigits: "W123#", Timeout: 25})
	require.NoError(t, err)
	assert.Equal(t, "W123#", *stub.last.SendDigits)
	assert.Equal(t, 25, *stub.last.Timeout)
}

func TestDialerErrors(t *testing.T) {
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	_, err := d.Dial(context.Background(), "+100", "", "")
	assert.Error(t, err)

	_, err = NewDialer(Config{}).Dial(context.Background(), "+100", "+200", "")
	assert.Error(t, err)

	stub := &stubCreator{err: errors.New("boom")}
	d.client = stub
	_, err = d.Dial(context.Background(), "+100", "+200", "")
	require.Error(t, err)
	assert.Equal(t, errorsx.ReasonTransportDial, errorsx.Reason(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dial(ctx, "+100", "+200", "")
	assert.ErrorIs(t, err, context.Canceled)
}
