package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callrelay/internal/config"
)

const twilioVerifyBaseURL = "https://verify.twilio.com/v2"

// TwilioVerify talks to the Twilio Verify v2 REST API over plain HTTP.
// Ref: https://www.twilio.com/docs/verify/api
type TwilioVerify struct {
	accountSID string
	authToken  string
	serviceSID string

	baseURL string
	client  *http.Client
}

func NewTwilioVerify(cfg config.TwilioConfig) (*TwilioVerify, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telephony: twilio verify credentials missing")
	}
	return &TwilioVerify{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		serviceSID: cfg.VerifyServiceSID,
		baseURL:    twilioVerifyBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *TwilioVerify) Name() string { return "twilio" }

type verifyResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
}

// Send starts an SMS verification for mobile.
func (p *TwilioVerify) Send(ctx context.Context, mobile string) error {
	form := url.Values{}
	form.Set("To", mobile)
	form.Set("Channel", "sms")

	var out verifyResponse
	status, err := p.post(ctx, "/Verifications", form, &out)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return fmt.Errorf("%w: send returned %d", ErrProvider, status)
	}
	return nil
}

// Check validates code for mobile. A 404 means the verification expired or was
// already consumed, which callers treat the same as a wrong code.
func (p *TwilioVerify) Check(ctx context.Context, mobile, code string) error {
	form := url.Values{}
	form.Set("To", mobile)
	form.Set("Code", code)

	var out verifyResponse
	status, err := p.post(ctx, "/VerificationCheck", form, &out)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return ErrInvalidCode
	case status != http.StatusOK:
		return fmt.Errorf("%w: check returned %d", ErrProvider, status)
	case out.Status != "approved":
		return ErrInvalidCode
	}
	return nil
}

func (p *TwilioVerify) post(ctx context.Context, path string, form url.Values, out any) (int, error) {
	endpoint := p.baseURL + "/Services/" + url.PathEscape(p.serviceSID) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode: %v", ErrProvider, err)
		}
	}
	return resp.StatusCode, nil
}
