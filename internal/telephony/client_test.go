package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Path string
	Form url.Values
}

func newTestServer(t *testing.T, handler func(method string, form url.Values) (int, string)) (*Client, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := strings.TrimPrefix(r.URL.Path, "/")
		mu.Lock()
		reqs = append(reqs, recordedRequest{Path: method, Form: r.PostForm})
		mu.Unlock()
		status, body := handler(method, r.PostForm)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:         srv.URL + "/",
		ParentAccountID: "parent-1",
		ParentAPIKey:    "parent-key",
		Timeout:         2 * time.Second,
		RatePerSec:      1000,
		HTTPClient:      srv.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, &reqs
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStartScenarios_Success(t *testing.T) {
	c, reqs := newTestServer(t, func(method string, form url.Values) (int, string) {
		return 200, `{"result":{"call_session_history_id":98765,"media_session_access_url":"https://media.example/s/1"}}`
	})

	res, err := c.StartScenarios(context.Background(), AccountCredentials("acc-1", "key-1"), 42, `{"task_id":"t"}`)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.SessionID != "98765" {
		t.Fatalf("unexpected session id %q", res.SessionID)
	}
	if res.MediaSessionAccessURL == "" {
		t.Fatalf("expected media session url")
	}

	got := (*reqs)[0]
	if got.Path != "StartScenarios" {
		t.Fatalf("unexpected path %q", got.Path)
	}
	if got.Form.Get("account_id") != "acc-1" || got.Form.Get("api_key") != "key-1" {
		t.Fatalf("missing account credentials: %v", got.Form)
	}
	if got.Form.Get("rule_id") != "42" || got.Form.Get("script_custom_data") != `{"task_id":"t"}` {
		t.Fatalf("unexpected params: %v", got.Form)
	}
}

func TestStartResult_LargeSessionIDKeepsPrecision(t *testing.T) {
	cases := map[string]string{
		`{"call_session_history_id":9007199254740993}`:   "9007199254740993",
		`{"call_session_history_id":"9007199254740993"}`: "9007199254740993",
		`{"call_session_history_id":null}`:               "",
	}
	for body, want := range cases {
		var r StartResult
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			t.Fatalf("%s: unexpected error %v", body, err)
		}
		if r.SessionID != want {
			t.Fatalf("%s: expected %q, got %q", body, want, r.SessionID)
		}
	}

	var r StartResult
	if err := json.Unmarshal([]byte(`{"call_session_history_id":1.5}`), &r); err == nil {
		t.Fatalf("expected error for fractional session id")
	}
}

func TestCall_ErrorObjectBecomesAPIError(t *testing.T) {
	c, _ := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, `{"error":{"msg":"Invalid rule_id","code":185}}`
	})

	_, err := c.StartScenarios(context.Background(), AccountCredentials("a", "k"), 1, "{}")
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 185 || apiErr.Msg != "Invalid rule_id" || apiErr.Method != "StartScenarios" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "Invalid rule_id") || !strings.Contains(err.Error(), "185") {
		t.Fatalf("message should carry provider msg and code: %q", err.Error())
	}
}

func TestCall_Non2xxBecomesAPIError(t *testing.T) {
	c, _ := newTestServer(t, func(string, url.Values) (int, string) {
		return 503, "upstream down"
	})

	err := c.DelRule(context.Background(), AccountCredentials("a", "k"), 7)
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.HTTPStatus != 503 || !strings.Contains(apiErr.Msg, "upstream down") {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestCall_UnparsableBodyBecomesAPIError(t *testing.T) {
	c, _ := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, "<html>oops</html>"
	})

	_, err := c.GetAccountInfo(context.Background(), AccountCredentials("a", "k"))
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Msg, "unparsable") {
		t.Fatalf("unexpected msg %q", apiErr.Msg)
	}
}

func TestCall_MissingResultIsAPIError(t *testing.T) {
	c, _ := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, `{}`
	})
	if err := c.SetAccountCallback(context.Background(), AccountCredentials("a", "k"), "https://x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCall_TransportFailureWrapsErrTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: base, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAccountInfo(context.Background(), AccountCredentials("a", "k"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if _, ok := IsAPIError(err); ok {
		t.Fatalf("transport errors must not look like provider errors")
	}
}

func TestCall_TimeoutWrapsErrTransport(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAccountInfo(context.Background(), AccountCredentials("a", "k"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestCall_MissingCredentials(t *testing.T) {
	c, reqs := newTestServer(t, func(string, url.Values) (int, string) { return 200, `{"result":1}` })
	if _, err := c.GetAccountInfo(context.Background(), Credentials{}); err == nil {
		t.Fatalf("expected error")
	}
	if len(*reqs) != 0 {
		t.Fatalf("no request should be sent without credentials")
	}
}

func TestCloneAccount_UsesParentCredentials(t *testing.T) {
	c, reqs := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, `{"result":{"account_id":"child-9","api_key":"child-key"}}`
	})

	acc, err := c.CloneAccount(context.Background(), "tmpl-1", AccountSpec{Name: "tenant-1", Email: "t1@example.com"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if acc.AccountID != "child-9" || acc.APIKey != "child-key" {
		t.Fatalf("unexpected account %+v", acc)
	}
	f := (*reqs)[0].Form
	if f.Get("parent_account_id") != "parent-1" || f.Get("parent_account_api_key") != "parent-key" {
		t.Fatalf("expected parent credentials: %v", f)
	}
	if f.Get("account_id") != "" {
		t.Fatalf("parent requests must not send account_id")
	}
	if f.Get("template_account_id") != "tmpl-1" {
		t.Fatalf("expected template id")
	}
}

func TestParentCredentials_ActOnChild(t *testing.T) {
	c, reqs := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, `{"result":[{"scenario_id":5,"scenario_name":"outbound_crm","scenario_script":"// js"}]}`
	})

	got, err := c.GetScenarios(context.Background(), c.ParentCredentials("tmpl-1"), ScenarioFilter{ID: 5, WithScript: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 1 || got[0].Script == "" {
		t.Fatalf("unexpected scenarios %+v", got)
	}
	f := (*reqs)[0].Form
	if f.Get("child_account_id") != "tmpl-1" || f.Get("with_script") != "true" {
		t.Fatalf("unexpected params %v", f)
	}
}

func TestCreateKey_RequiresPrivateKey(t *testing.T) {
	c, _ := newTestServer(t, func(string, url.Values) (int, string) {
		return 200, `{"result":{"key_id":"k1"}}`
	})
	if _, err := c.CreateKey(context.Background(), AccountCredentials("a", "k"), "svc", nil); err == nil {
		t.Fatalf("expected error when private key is missing")
	}
}

func TestCallbackURL(t *testing.T) {
	if got := CallbackURL("https://api.example/cb", ""); got != "https://api.example/cb" {
		t.Fatalf("unexpected %q", got)
	}
	if got := CallbackURL("https://api.example/cb", "s 1"); got != "https://api.example/cb?token=s+1" {
		t.Fatalf("unexpected %q", got)
	}
	if got := CallbackURL("https://api.example/cb?x=1", "s"); got != "https://api.example/cb?x=1&token=s" {
		t.Fatalf("unexpected %q", got)
	}
}
