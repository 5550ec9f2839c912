package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"style-analysis/config"
	"style-analysis/services/provider/replicate"

	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookEvent(body []byte, sig string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/vision", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Webhook-Signature", sig)
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	cfg := &config.Config{WebhookSecret: "whsec_test"}
	handler := NewWebhookHandler(nil, cfg, nil, nil)

	body := []byte(`{"id":"pred-1","status":"succeeded"}`)

	e, rec := newWebhookEvent(body, "")
	require.NoError(t, handler.HandleVisionWebhook(e))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	e, rec = newWebhookEvent(body, "deadbeef")
	require.NoError(t, handler.HandleVisionWebhook(e))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandler_AcknowledgesNonTerminal(t *testing.T) {
	cfg := &config.Config{WebhookSecret: "whsec_test"}
	handler := NewWebhookHandler(nil, cfg, nil, nil)

	body := []byte(`{"id":"pred-1","status":"processing"}`)
	sig := replicate.Hmac256(body, []byte(cfg.WebhookSecret))

	e, rec := newWebhookEvent(body, sig)
	require.NoError(t, handler.HandleVisionWebhook(e))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookHandler_RejectsMalformedPayload(t *testing.T) {
	cfg := &config.Config{WebhookSecret: "whsec_test"}
	handler := NewWebhookHandler(nil, cfg, nil, nil)

	body := []byte(`{not json`)
	sig := replicate.Hmac256(body, []byte(cfg.WebhookSecret))

	e, rec := newWebhookEvent(body, sig)
	require.NoError(t, handler.HandleVisionWebhook(e))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
