package suggest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/tenancy"
)

func TestClientSuggestParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/suggest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"intent": "check_in_time",
			"confidence": 0.92,
			"auto_reply_ok": true,
			"reply_channel": "sms",
			"reply_text": "Check-in is at 3:00 PM."
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	s, err := c.Suggest(context.Background(), uuid.New(), uuid.New(), uuid.New(), "sms", "when is check-in?")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if s.Intent != "check_in_time" || s.Confidence != 0.92 {
		t.Errorf("suggestion = %+v", s)
	}
}

func TestClientSuggestSendsTenantHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Company-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"intent": "wifi", "confidence": 0.9, "auto_reply_ok": true, "reply_channel": "sms", "reply_text": "Network: Seaside"}`))
	}))
	defer srv.Close()

	companyID := uuid.New()
	ctx := tenancy.WithCompanyID(context.Background(), companyID)

	c := NewClient(srv.URL, time.Second, nil)
	if _, err := c.Suggest(ctx, uuid.New(), companyID, uuid.New(), "sms", "wifi?"); err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if gotHeader != companyID.String() {
		t.Errorf("X-Company-ID = %q, want %s", gotHeader, companyID)
	}
}

func TestClientSuggestNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Suggest(context.Background(), uuid.New(), uuid.New(), uuid.New(), "sms", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestClientSuggestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Suggest(context.Background(), uuid.New(), uuid.New(), uuid.New(), "sms", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestClientSuggestInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"confidence": 4.0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Suggest(context.Background(), uuid.New(), uuid.New(), uuid.New(), "sms", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
