package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lifejourney/internal/jobs/engine"
)

// SMSConfig configures a Twilio-compatible messaging endpoint.
type SMSConfig struct {
	BaseURL    string // default https://api.twilio.com
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidPhone reports whether s is an E.164 number such as +14155550123.
func ValidPhone(s string) bool { return e164.MatchString(s) }

// SMS posts messages as form requests to
// {BaseURL}/2010-04-01/Accounts/{AccountSID}/Messages.json.
type SMS struct {
	cfg      SMSConfig
	endpoint string
	client   *http.Client
}

func NewSMS(cfg SMSConfig) (*SMS, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("sms: account sid and auth token required")
	}
	if !ValidPhone(cfg.From) {
		return nil, fmt.Errorf("sms: from %q is not an E.164 number", cfg.From)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &SMS{
		cfg:      cfg,
		endpoint: base + "/2010-04-01/Accounts/" + url.PathEscape(cfg.AccountSID) + "/Messages.json",
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *SMS) Channel() string { return ChannelSMS }

type smsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *SMS) Send(ctx context.Context, to, text string) error {
	if !ValidPhone(to) {
		return engine.NoRetry(fmt.Errorf("sms: recipient %q is not an E.164 number", to))
	}
	form := url.Values{"To": {to}, "From": {g.cfg.From}, "Body": {text}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return engine.NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("sms: %s", describeSMSError(resp.StatusCode, body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.RetryAfter(err, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return err
	default:
		return engine.NoRetry(err)
	}
}

func describeSMSError(status int, body []byte) string {
	var e smsError
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		if e.Code != 0 {
			return fmt.Sprintf("%d %s (code %d)", status, e.Message, e.Code)
		}
		return fmt.Sprintf("%d %s", status, e.Message)
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

// parseRetryAfter accepts delay-seconds or an HTTP date; it falls back to
// one second.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return time.Second
}
