package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:    srv.URL,
		Token:      "123:testtoken",
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSendMessageWithKeyboard(t *testing.T) {
	var got sendMessageRequest
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}, 0)

	err := c.Send(context.Background(), 2002, "¿Qué día te queda bien?", []string{"Lunes", "Martes"})
	require.NoError(t, err)

	assert.Equal(t, "/bot123:testtoken/sendMessage", path)
	assert.Equal(t, int64(2002), got.ChatID)
	assert.Equal(t, "¿Qué día te queda bien?", got.Text)
	require.NotNil(t, got.ReplyMarkup)
	assert.True(t, got.ReplyMarkup.OneTimeKeyboard)
	require.Len(t, got.ReplyMarkup.Keyboard, 2)
	assert.Equal(t, "Lunes", got.ReplyMarkup.Keyboard[0][0].Text)
}

func TestSendMessageWithoutChoicesOmitsKeyboard(t *testing.T) {
	var raw map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Write([]byte(`{"ok":true}`))
	}, 0)

	require.NoError(t, c.Send(context.Background(), 2002, "Listo.", nil))
	_, hasMarkup := raw["reply_markup"]
	assert.False(t, hasMarkup)
}

func TestSendPacksClockButtons(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}, 0)

	err := c.Send(context.Background(), 1, "Horarios:", []string{"09:00", "09:30", "10:00", "10:30"})
	require.NoError(t, err)
	require.NotNil(t, got.ReplyMarkup)
	require.Len(t, got.ReplyMarkup.Keyboard, 2)
	assert.Len(t, got.ReplyMarkup.Keyboard[0], 3)
	assert.Len(t, got.ReplyMarkup.Keyboard[1], 1)
}

func TestSendRetriesOnServerError(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}, 2)

	require.NoError(t, c.Send(context.Background(), 1, "hola", nil))
	assert.Equal(t, 2, attempts)
}

func TestSendDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}, 3)

	err := c.Send(context.Background(), 1, "hola", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, 1, attempts)
}

func TestSendValidatesInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, 0)

	assert.Error(t, c.Send(context.Background(), 0, "hola", nil))
	assert.Error(t, c.Send(context.Background(), 1, "  ", nil))
}
