package sendgrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/lackmarkt-backend/pkg/config"
)

const (
	mailSendPath   = "/v3/mail/send"
	defaultTimeout = 10 * time.Second
	retryCount     = 2
)

// ErrRejected marks a 4xx answer. Resending the same mail will not help.
var ErrRejected = errors.New("sendgrid rejected mail")

// Mail is a single plain-text message.
type Mail struct {
	To      string
	ToName  string
	Subject string
	Text    string
}

// Client sends transactional mail through the SendGrid v3 API.
type Client struct {
	http *resty.Client
	from string
}

// NewClient builds a client from config. The API key and sender are required.
func NewClient(cfg config.SendgridConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("sendgrid sender address is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(defaultTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: httpClient, from: cfg.DefaultFrom}, nil
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// Send posts the mail. SendGrid answers 202 when it accepted the message.
func (c *Client) Send(ctx context.Context, mail Mail) error {
	if strings.TrimSpace(mail.To) == "" {
		return fmt.Errorf("%w: recipient missing", ErrRejected)
	}
	body := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: mail.To, Name: mail.ToName}}}},
		From:             address{Email: c.from},
		Subject:          mail.Subject,
		Content:          []content{{Type: "text/plain", Value: mail.Text}},
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(mailSendPath)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusAccepted || status == http.StatusOK:
		return nil
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(resp.String()))
	default:
		return fmt.Errorf("sendgrid send: status %d", status)
	}
}
