package autotrader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/")
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trimmed baseURL, got %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"risk":{"trading_active":false,"halt_reason":"operator"},"market":"open","pending_orders":["AAPL"]}`))
	})

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.Risk.TradingActive || st.Risk.HaltReason != "operator" {
		t.Errorf("risk = %+v", st.Risk)
	}
	if len(st.PendingOrders) != 1 || st.PendingOrders[0] != "AAPL" {
		t.Errorf("pending = %v", st.PendingOrders)
	}
}

func TestRunCycleConflict(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"cycle already in progress"}`))
	})

	_, err := c.RunCycle(context.Background())
	if !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("RunCycle() error = %v, want ErrCycleInProgress", err)
	}
}

func TestEmergencyStopPartial(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"halted":true,"orders":[],"failed":["TSLA"],"error":"close failed"}`))
	})

	res, err := c.EmergencyStop(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "close failed" {
		t.Fatalf("EmergencyStop() error = %v", err)
	}
	if res == nil || !res.Halted || len(res.Failed) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestErrorWithoutBody(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Performance(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("Performance() error = %v", err)
	}
}
