package twilio

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/transports"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer originates test calls toward the line under test. Answered calls hit
// the voice webhook, which connects them to the media stream.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial places a call. An empty from falls back to the configured number, an
// empty url to the voice webhook.
func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	return d.DialWithOptions(ctx, to, from, url, transports.DialOptions{})
}

func (d *Dialer) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	params, err := d.callParams(to, from, url, opts)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTransportDial)
	}
	client := d.client
	if client == nil {
		if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
			return "", errorsx.Wrap(errors.New("missing twilio credentials"), errorsx.ReasonTransportDial)
		}
		client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		}).Api
	}
	call, err := client.CreateCall(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTransportDial)
	}
	if call == nil || call.Sid == nil {
		return "", errorsx.Wrap(errors.New("response carried no call sid"), errorsx.ReasonTransportDial)
	}
	return *call.Sid, nil
}

func (d *Dialer) callParams(to, from, url string, opts transports.DialOptions) (*api.CreateCallParams, error) {
	to = strings.TrimSpace(to)
	from = strings.TrimSpace(from)
	if from == "" {
		from = d.cfg.FromNumber
	}
	if to == "" || from == "" {
		return nil, errors.New("to and from numbers are required")
	}
	if url == "" {
		url = publicURL(d.cfg, d.cfg.VoicePath)
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	params.SetMethod("POST")
	// Only the terminal status matters; busy and no-answer never open a stream.
	params.SetStatusCallback(publicURL(d.cfg, d.cfg.StatusCallbackPath))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"completed"})
	if digits := strings.TrimSpace(opts.SendDigits); digits != "" {
		params.SetSendDigits(digits)
	}
	if opts.Timeout > 0 {
		params.SetTimeout(opts.Timeout)
	}
	return params, nil
}
