package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CredLedger/internal/event"
	"CredLedger/internal/ingestion"
	"CredLedger/internal/observability"
)

func newTestServer(t *testing.T) (*HTTPServer, chan event.Event) {
	t.Helper()
	submitChan := make(chan event.Event, 4)
	deps := &Deps{
		Submitter: ingestion.NewSubmitter(submitChan),
		Health:    observability.NewHealthChecker(),
		CoreMu:    &sync.Mutex{},
		Log:       observability.NewLogger("test"),
	}
	return NewHTTPServer(":0", deps), submitChan
}

func doRequest(s *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

// ============================================================
// Health
// ============================================================

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: expected 503, got %d", rec.Code)
	}

	s.deps.Health.SetReady(true)
	rec = doRequest(s, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz after ready: expected 200, got %d", rec.Code)
	}
}

// ============================================================
// Event submission
// ============================================================

func TestSubmitEventAccepted(t *testing.T) {
	s, submitChan := newTestServer(t)

	body := `{
		"operation_id": "0d4cbcb6-4ccb-4954-8d14-4f89c5e03ab9",
		"account": "7e57ab3d-2d08-47ee-b2bb-171e8f1a9a43",
		"asset": "USDC",
		"strategy": "compound",
		"amount": "1000000",
		"timestamp": 1700000000,
		"sequence": 1
	}`
	rec := doRequest(s, http.MethodPost, "/v1/events/SavingsDeposited", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case evt := <-submitChan:
		dep, ok := evt.(*event.SavingsDeposit)
		if !ok {
			t.Fatalf("expected SavingsDeposit, got %T", evt)
		}
		if dep.Asset != "USDC" || dep.Amount.String() != "1000000" {
			t.Errorf("unexpected event fields: %+v", dep)
		}
	default:
		t.Fatal("no event queued")
	}
}

func TestSubmitEventMalformedBody(t *testing.T) {
	s, submitChan := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/events/SavingsDeposited", `{"amount": "not-a-number"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	select {
	case <-submitChan:
		t.Error("malformed event must not be queued")
	default:
	}
}

func TestSubmitEventUnknownType(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/events/NoSuchThing", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitEventQueueFull(t *testing.T) {
	s, submitChan := newTestServer(t)

	// Fill the queue so the submit blocks until the request deadline.
	for i := 0; i < cap(submitChan); i++ {
		submitChan <- &event.SavingsDeposit{}
	}

	body := `{
		"operation_id": "0d4cbcb6-4ccb-4954-8d14-4f89c5e03ab9",
		"account": "7e57ab3d-2d08-47ee-b2bb-171e8f1a9a43",
		"asset": "USDC",
		"amount": "1",
		"timestamp": 1700000000,
		"sequence": 2
	}`
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/events/SavingsDeposited", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when queue is full, got %d", rec.Code)
	}
}
