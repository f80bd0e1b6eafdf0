package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/orders/ord-123" {
			t.Errorf("path = %s, want /api/orders/ord-123", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Order{Order: "ord-123", Status: StatusDelivered})
	}))
	defer ts.Close()

	client := NewClient(ts.URL + "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetOrder(ctx, "ord-123")
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if res == nil || res.Order != "ord-123" || res.Status != StatusDelivered {
		t.Fatalf("unexpected response: %+v", res)
	}
}

func TestGetOrder_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	res, code, retry, err := client.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry != 5*time.Second {
		t.Fatalf("retryAfter = %v, want 5s", retry)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	res, code, _, err := client.GetOrder(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if res != nil || code != http.StatusNotFound {
		t.Fatalf("unexpected result: %+v, %d", res, code)
	}
}

func TestGetOrder_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(strings.TrimPrefix(ts.URL, "http://"))

	_, code, _, err := client.GetOrder(context.Background(), "ord-1")
	if err == nil {
		t.Fatalf("expected error for 502")
	}
	if code != http.StatusBadGateway {
		t.Fatalf("status code = %d, want %d", code, http.StatusBadGateway)
	}
}

func TestGetOrder_NotConfigured(t *testing.T) {
	var client *Client

	if _, _, _, err := client.GetOrder(context.Background(), "ord-1"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
