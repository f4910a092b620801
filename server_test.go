package realtime

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/agape-platform/realtime/pubsub"
)

// capturingNotifier records published payloads; failNotify forces the
// wedged-bus path.
type capturingNotifier struct {
	payloads   []pubsub.Payload
	failNotify bool
}

func (n *capturingNotifier) Notify(chanName string, p pubsub.Payload) error {
	if n.failNotify {
		return fmt.Errorf("bus is wedged")
	}
	if chanName != pubsub.ChanHooks {
		return fmt.Errorf("unexpected channel %q", chanName)
	}
	n.payloads = append(n.payloads, p)
	return nil
}

func (n *capturingNotifier) Close() error { return nil }

func notificationsReadHook(n pubsub.Notifier) func(w *httptest.ResponseRecorder, body string) {
	h := hookHandler(n, func(body gjson.Result) pubsub.Payload {
		userID := body.Get("user_id").Str
		if userID == "" {
			return nil
		}
		return &pubsub.HookNotificationsRead{UserID: userID}
	})
	return func(w *httptest.ResponseRecorder, body string) {
		req := httptest.NewRequest("POST", "/_agape/hooks/notifications_read", strings.NewReader(body))
		h(w, req)
	}
}

func TestHookHandlerPublishes(t *testing.T) {
	notifier := &capturingNotifier{}
	post := notificationsReadHook(notifier)

	w := httptest.NewRecorder()
	post(w, `{"user_id":"alice"}`)
	if w.Code != 202 {
		t.Fatalf("status: got %d want 202 (body: %s)", w.Code, w.Body.String())
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("published payloads: got %d want 1", len(notifier.payloads))
	}
	p, ok := notifier.payloads[0].(*pubsub.HookNotificationsRead)
	if !ok || p.UserID != "alice" {
		t.Fatalf("unexpected payload: %+v", notifier.payloads[0])
	}
}

func TestHookHandlerRejectsBadBodies(t *testing.T) {
	notifier := &capturingNotifier{}
	post := notificationsReadHook(notifier)

	// malformed JSON
	w := httptest.NewRecorder()
	post(w, `{not json`)
	if w.Code != 400 {
		t.Errorf("malformed JSON: got %d want 400", w.Code)
	}
	if !gjson.Get(w.Body.String(), "error").Exists() {
		t.Errorf("400 response has no error body: %q", w.Body.String())
	}

	// missing required field
	w = httptest.NewRecorder()
	post(w, `{"other":"x"}`)
	if w.Code != 400 {
		t.Errorf("missing field: got %d want 400", w.Code)
	}

	// oversize body is the only read failure that is a 413
	w = httptest.NewRecorder()
	post(w, `{"user_id":"`+strings.Repeat("a", 1<<20+16)+`"}`)
	if w.Code != 413 {
		t.Errorf("oversize body: got %d want 413", w.Code)
	}

	if len(notifier.payloads) != 0 {
		t.Fatalf("rejected bodies were published: %d payloads", len(notifier.payloads))
	}
}

func TestHookHandlerMethodAndBusFailure(t *testing.T) {
	notifier := &capturingNotifier{}
	h := hookHandler(notifier, func(body gjson.Result) pubsub.Payload {
		return &pubsub.HookNotificationsRead{UserID: "alice"}
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/_agape/hooks/notifications_read", nil))
	if w.Code != 405 {
		t.Errorf("GET: got %d want 405", w.Code)
	}

	notifier.failNotify = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest("POST", "/_agape/hooks/notifications_read", strings.NewReader(`{}`)))
	if w.Code != 500 {
		t.Errorf("wedged bus: got %d want 500", w.Code)
	}
	// internal failure detail stays server-side shaped but the body is JSON
	if !gjson.Get(w.Body.String(), "error").Exists() {
		t.Errorf("500 response has no error body: %q", w.Body.String())
	}
}

func TestRequireHookSecret(t *testing.T) {
	called := false
	h := requireHookSecret("s3cret", func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(202)
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("POST", "/x", nil))
	if w.Code != 401 || called {
		t.Errorf("no credential: got %d, called=%v", w.Code, called)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h(w, req)
	if w.Code != 401 || called {
		t.Errorf("wrong secret: got %d, called=%v", w.Code, called)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/x", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h(w, req)
	if w.Code != 202 || !called {
		t.Errorf("valid secret: got %d, called=%v", w.Code, called)
	}

	// an unconfigured secret fails closed, even for an empty bearer
	h = requireHookSecret("", func(w http.ResponseWriter, req *http.Request) {
		t.Errorf("handler reached with no secret configured")
	})
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/x", nil)
	req.Header.Set("Authorization", "Bearer ")
	h(w, req)
	if w.Code != 401 {
		t.Errorf("empty configured secret: got %d want 401", w.Code)
	}
}
