package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeSink struct {
	calls [][2]string
	err   error
}

func (f *fakeSink) ApplyProviderStatus(_ context.Context, accountID, status string) error {
	f.calls = append(f.calls, [2]string{accountID, status})
	return f.err
}

func serveCallback(h CallbackHandler, target, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/telephony/callback", h.Handle)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCallbackHandler_AppliesDocumentStatus(t *testing.T) {
	sink := &fakeSink{}
	body := `{"callbacks":[
		{"type":"account_document_status_updated","account_id":123,"new_status":"VERIFIED"},
		{"type":"min_balance","account_id":123}
	]}`

	w := serveCallback(CallbackHandler{Sink: sink, Secret: "s3cret"}, "/webhooks/telephony/callback?token=s3cret", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(sink.calls) != 1 {
		t.Fatalf("expected one applied event, got %v", sink.calls)
	}
	if sink.calls[0] != [2]string{"123", "VERIFIED"} {
		t.Fatalf("unexpected call %v", sink.calls[0])
	}
}

func TestCallbackHandler_SinkErrorsAreAcknowledged(t *testing.T) {
	sink := &fakeSink{err: errors.New("unknown account")}
	body := `{"callbacks":[{"type":"account_document_status_updated","account_id":"9","new_status":"REJECTED"}]}`

	w := serveCallback(CallbackHandler{Sink: sink, Secret: "s3cret"}, "/webhooks/telephony/callback?token=s3cret", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"applied":0`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCallbackHandler_NoSecretRefusesEverything(t *testing.T) {
	sink := &fakeSink{}
	body := `{"callbacks":[{"type":"account_document_status_updated","account_id":555,"new_status":"VERIFIED"}]}`

	for _, target := range []string{"/webhooks/telephony/callback", "/webhooks/telephony/callback?token="} {
		if w := serveCallback(CallbackHandler{Sink: sink}, target, body); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 without a configured secret, got %d", target, w.Code)
		}
	}
	if len(sink.calls) != 0 {
		t.Fatalf("status applied without authentication: %v", sink.calls)
	}
}

func TestCallbackHandler_Secret(t *testing.T) {
	sink := &fakeSink{}
	h := CallbackHandler{Sink: sink, Secret: "s3cret"}
	body := `{"callbacks":[]}`

	if w := serveCallback(h, "/webhooks/telephony/callback", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serveCallback(h, "/webhooks/telephony/callback?token=wrong", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := serveCallback(h, "/webhooks/telephony/callback?token=s3cret", body); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestCallbackHandler_BadBody(t *testing.T) {
	w := serveCallback(CallbackHandler{Sink: &fakeSink{}}, "/webhooks/telephony/callback", "not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
