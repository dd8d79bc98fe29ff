package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig holds one account's REST credentials.
// A workspace subaccount is just another TwilioConfig registered for that workspace.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// BaseURL defaults to https://api.twilio.com.
	BaseURL string
	Timeout time.Duration
}

// TwilioProvider talks to the Twilio REST API with form posts.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, client *http.Client) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TwilioProvider{cfg: cfg, client: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// AuthToken is used by webhook signature validation for this account.
func (p *TwilioProvider) AuthToken() string { return p.cfg.AuthToken }

func (p *TwilioProvider) accountURL(path string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s%s", p.cfg.BaseURL, url.PathEscape(p.cfg.AccountSID), path)
}

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	return p.do(ctx, "health_check", http.MethodGet, p.accountURL(".json"), nil, nil)
}

type twilioCallResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	// Participants respond with call_sid instead of sid.
	CallSID string `json:"call_sid"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" || req.CallbackURL == "" {
		return PlaceCallResult{}, ErrInvalidArgument
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.CallbackURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	setMachineDetection(form, req.MachineDetection, req.AMDCallbackURL)

	var res twilioCallResource
	if err := p.do(ctx, "place_call", http.MethodPost, p.accountURL("/Calls.json"), form, &res); err != nil {
		return PlaceCallResult{}, err
	}
	return PlaceCallResult{SID: res.SID, Status: res.Status}, nil
}

func (p *TwilioProvider) UpdateCall(ctx context.Context, req UpdateCallRequest) error {
	if req.SID == "" || (req.TwiML == "" && !req.Hangup) {
		return ErrInvalidArgument
	}
	form := url.Values{}
	if req.Hangup {
		form.Set("Status", "completed")
	} else {
		form.Set("Twiml", req.TwiML)
	}
	return p.do(ctx, "update_call", http.MethodPost, p.accountURL("/Calls/"+url.PathEscape(req.SID)+".json"), form, nil)
}

func (p *TwilioProvider) AddConferenceParticipant(ctx context.Context, req ConferenceParticipantRequest) (PlaceCallResult, error) {
	if req.ConferenceName == "" || req.To == "" || req.From == "" {
		return PlaceCallResult{}, ErrInvalidArgument
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if req.Label != "" {
		form.Set("Label", req.Label)
	}
	form.Set("EndConferenceOnExit", fmt.Sprintf("%t", req.EndConferenceOnExit))
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.ConferenceStatusCallbackURL != "" {
		form.Set("ConferenceStatusCallback", req.ConferenceStatusCallbackURL)
		form.Set("ConferenceStatusCallbackEvent", "start end join leave modify")
	}
	setMachineDetection(form, req.MachineDetection, req.AMDCallbackURL)

	path := "/Conferences/" + url.PathEscape(req.ConferenceName) + "/Participants.json"
	var res twilioCallResource
	if err := p.do(ctx, "add_participant", http.MethodPost, p.accountURL(path), form, &res); err != nil {
		return PlaceCallResult{}, err
	}
	return PlaceCallResult{SID: res.CallSID, Status: res.Status}, nil
}

func setMachineDetection(form url.Values, md MachineDetection, callback string) {
	if md == MachineDetectionOff {
		return
	}
	form.Set("MachineDetection", string(md))
	if callback != "" {
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", callback)
	}
}

type twilioErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) do(ctx context.Context, op, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode >= 300 {
		var eb twilioErrorBody
		_ = json.Unmarshal(raw, &eb)
		return &ProviderError{
			Provider:   p.Name(),
			Op:         op,
			StatusCode: resp.StatusCode,
			Code:       eb.Code,
			Message:    eb.Message,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
