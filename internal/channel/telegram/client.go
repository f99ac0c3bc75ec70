// Package telegram is the chat channel adapter: an outbound Bot API client
// and the inbound webhook handler.
package telegram

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

	"github.com/clinicware/turnero/pkg/logging"
)

const defaultBaseURL = "https://api.telegram.org"

// Config controls how the Bot API client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Bot API endpoints the bot needs.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// Send delivers one message. When choices are present they render as a
// one-time reply keyboard, so the user answers by tapping a button.
func (c *Client) Send(ctx context.Context, chatID int64, text string, choices []string) error {
	if chatID == 0 {
		return errors.New("telegram: chat id required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("telegram: message text required")
	}
	payload := sendMessageRequest{ChatID: chatID, Text: text}
	if len(choices) > 0 {
		payload.ReplyMarkup = &ReplyKeyboardMarkup{
			Keyboard:        keyboardRows(choices),
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal sendMessage body: %w", err)
	}
	return c.invoke(ctx, "sendMessage", body)
}

func (c *Client) invoke(ctx context.Context, method string, body []byte) error {
	fullURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("telegram: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt == c.maxRetries {
				return fmt.Errorf("telegram: http error: %w", err)
			}
			lastErr = err
			c.logRetry(method, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("telegram: read response: %w", readErr)
		}
		var api apiResponse
		if err := json.Unmarshal(data, &api); err == nil && api.OK {
			return nil
		} else if err == nil && api.ErrorCode != 0 {
			lastErr = fmt.Errorf("telegram: api error %d: %s", api.ErrorCode, api.Description)
		} else {
			lastErr = fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
		}
		if attempt < c.maxRetries && retryableStatus(resp.StatusCode) {
			c.logRetry(method, attempt, resp.StatusCode, nil)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		return lastErr
	}
	return lastErr
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(attempt+1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(method string, attempt, status int, err error) {
	c.logger.Warn("telegram call retrying",
		"method", method, "attempt", attempt+1, "status", status, "error", err)
}

// keyboardRows lays choices out one per row; short clock labels get packed
// three to a row so a full day fits on screen.
func keyboardRows(choices []string) [][]KeyboardButton {
	perRow := 1
	if allShort(choices) {
		perRow = 3
	}
	var rows [][]KeyboardButton
	var row []KeyboardButton
	for _, c := range choices {
		row = append(row, KeyboardButton{Text: c})
		if len(row) == perRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func allShort(choices []string) bool {
	for _, c := range choices {
		if len(c) > 8 {
			return false
		}
	}
	return true
}
