package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/callprobe/pkg/callprobe"
	"github.com/harunnryd/callprobe/pkg/configutil"
	"github.com/harunnryd/callprobe/pkg/transports"
	twiliotransport "github.com/harunnryd/callprobe/pkg/transports/twilio"
)

type dialFlags struct {
	to         string
	from       string
	voiceURL   string
	language   string
	sendDigits string
	ringSecs   int
	api        string
	token      string
}

var dialOpts dialFlags

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Place an outbound test call",
	Long: `dial places one outbound call. With --api it asks a running callprobe
server to dial so the call is handled there; otherwise it dials Twilio directly
using the transport settings from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(dialOpts.to) == "" {
			return errors.New("--to is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		var (
			callSID string
			err     error
		)
		if dialOpts.api != "" {
			callSID, err = dialViaAPI(ctx, dialOpts)
		} else {
			callSID, err = dialDirect(ctx, dialOpts)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "call_sid:", callSID)
		return nil
	},
}

func init() {
	f := dialCmd.Flags()
	f.StringVar(&dialOpts.to, "to", "", "number to call, E.164")
	f.StringVar(&dialOpts.from, "from", "", "caller id; defaults to transports.settings.from_number")
	f.StringVar(&dialOpts.voiceURL, "voice-url", "", "TwiML webhook; defaults to public_url + voice_path")
	f.StringVar(&dialOpts.language, "language", "", "patient language for the next call (api mode)")
	f.StringVar(&dialOpts.sendDigits, "send-digits", "", "DTMF digits to play once answered")
	f.IntVar(&dialOpts.ringSecs, "ring-timeout", 0, "seconds to ring before giving up")
	f.StringVar(&dialOpts.api, "api", "", "base URL of a running control API, e.g. http://localhost:8080/api")
	f.StringVar(&dialOpts.token, "token", "", "control API bearer token; defaults to control.token")
}

func dialDirect(ctx context.Context, opts dialFlags) (string, error) {
	cfg, err := callprobe.LoadConfig(configPath)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(cfg.Transports.Provider, "twilio") {
		return "", fmt.Errorf("direct dialing needs the twilio transport, got %s", cfg.Transports.Provider)
	}
	var settings twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
		return "", fmt.Errorf("transports.settings: %w", err)
	}
	dialer := twiliotransport.NewDialer(settings)
	return dialer.DialWithOptions(ctx, opts.to, opts.from, opts.voiceURL, transports.DialOptions{
		SendDigits: opts.sendDigits,
		Timeout:    opts.ringSecs,
	})
}

func dialViaAPI(ctx context.Context, opts dialFlags) (string, error) {
	token := opts.token
	if token == "" {
		if cfg, err := callprobe.LoadConfig(configPath); err == nil {
			token = cfg.Control.Token
		}
	}
	body, err := json.Marshal(map[string]string{"to": opts.to, "language": opts.language})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.api, "/")+"/calls", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("control api: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var out struct {
		CallSID string `json:"call_sid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.CallSID, nil
}
