package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places and ends calls through the Twilio REST API.
type Dialer struct {
	cfg     Config
	client  callCreator
	updater callUpdater
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial places an outbound call. An empty url points Twilio at this
// server's voice webhook.
func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(to) == "" || strings.TrimSpace(from) == "" {
		return "", errors.New("to/from required")
	}
	if err := d.credentials(); err != nil {
		return "", err
	}
	if url == "" {
		url = d.webhookURL(d.cfg.VoicePath)
	}
	client := d.client
	if client == nil {
		client = d.rest()
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	params.SetStatusCallback(d.webhookURL(d.cfg.StatusCallbackPath))
	params.SetStatusCallbackEvent([]string{"completed"})
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}

// Hangup marks a live call completed.
func (d *Dialer) Hangup(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if callSID == "" {
		return errors.New("call sid required")
	}
	updater := d.updater
	if updater == nil {
		if err := d.credentials(); err != nil {
			return err
		}
		updater = d.rest()
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := updater.UpdateCall(callSID, params)
	return err
}

func (d *Dialer) credentials() error {
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	return nil
}

func (d *Dialer) rest() *api.ApiService {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	}).Api
}

func (d *Dialer) webhookURL(path string) string {
	if d.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(d.cfg.PublicURL) + path
	}
	addr := d.cfg.ServerAddr
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}
