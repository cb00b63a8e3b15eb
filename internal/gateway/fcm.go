package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// FCMConfig holds settings for the FCM provider.
type FCMConfig struct {
	Endpoint       string
	ServerKey      string
	Timeout        time.Duration
	RequestsPerSec float64 // 0 disables the limiter
}

// FCMClient sends notification batches through the Firebase Cloud Messaging
// HTTP endpoint. One call covers the whole batch; the response carries a
// per-token result in request order.
type FCMClient struct {
	config  FCMConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewFCMClient(cfg FCMConfig, log logger.Logger) *FCMClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	return &FCMClient{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  log.WithFields(map[string]interface{}{"provider": "fcm"}),
	}
}

func (c *FCMClient) Name() string {
	return "fcm"
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// tokenFatal reports whether an FCM per-token error code means the token is
// permanently undeliverable.
func tokenFatal(code string) bool {
	switch code {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return true
	default:
		return false
	}
}

func (c *FCMClient) SendBatch(ctx context.Context, tokens []string, content models.LocaleContent) (*models.BatchResult, error) {
	if len(tokens) == 0 {
		return nil, errors.NewValidationError("fcm: empty token batch")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.NewGatewayTransientError(err)
		}
	}

	body, err := json.Marshal(fcmRequest{
		RegistrationIDs: tokens,
		Notification: fcmNotification{
			Title: content.Title,
			Body:  content.Body,
		},
		Data: content.Data,
	})
	if err != nil {
		return nil, errors.NewGatewayTransientError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewGatewayTransientError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.config.ServerKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, errors.NewGatewayTimeoutError(c.config.Timeout)
		}
		return nil, errors.NewGatewayTransientError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errors.NewGatewayTransientError(fmt.Errorf("fcm: status %d", resp.StatusCode))
	}

	var fcmResp fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&fcmResp); err != nil {
		return nil, errors.NewGatewayTransientError(err)
	}

	result := &models.BatchResult{}
	for idx, res := range fcmResp.Results {
		if res.Error == "" || idx >= len(tokens) {
			continue
		}
		if tokenFatal(res.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[idx])
		} else {
			c.logger.Debug("transient token failure", map[string]interface{}{
				"token": tokens[idx],
				"code":  res.Error,
			})
		}
	}

	return result, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if stderrors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
