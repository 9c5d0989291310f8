package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

type fakeManager struct {
	chatID  string
	message string
	replies []string
	err     error
}

func (f *fakeManager) HandleMessage(_ context.Context, chatID, message string) ([]string, error) {
	f.chatID = chatID
	f.message = message
	return f.replies, f.err
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func postWebhook(t *testing.T, h *WebhookHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)
	return rec
}

func TestWebhookHandleMessage(t *testing.T) {
	manager := &fakeManager{replies: []string{"Здравствуйте!", "Чем могу помочь?"}}
	h := NewWebhookHandler(manager, testLogger())

	rec := postWebhook(t, h, map[string]string{"telegramId": "12345", "message": "привет"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Здравствуйте!", "Чем могу помочь?"}, resp.Messages)
	assert.Equal(t, "12345", manager.chatID)
	assert.Equal(t, "привет", manager.message)
}

func TestWebhookMissingTelegramID(t *testing.T) {
	h := NewWebhookHandler(&fakeManager{}, testLogger())

	rec := postWebhook(t, h, map[string]string{"message": "привет"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookInvalidJSON(t *testing.T) {
	h := NewWebhookHandler(&fakeManager{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.HandleMessage(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookManagerErrorRepliesWithApology(t *testing.T) {
	manager := &fakeManager{err: errors.New("redis down")}
	h := NewWebhookHandler(manager, testLogger())

	rec := postWebhook(t, h, map[string]string{"telegramId": "12345", "message": "привет"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Contains(t, resp.Messages[0], "Попробуйте позже")
}

func TestWebhookHealthCheck(t *testing.T) {
	h := NewWebhookHandler(&fakeManager{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
