package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
	"autotrader/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
	block  chan struct{}
}

func (r *recorder) Send(_ context.Context, a domain.Alert) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Kind
	}
	return out
}

func TestDispatcherFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	d := NewDispatcher(8, a, b)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	d.Notify(KindRiskBreach, map[string]any{"pnl": -0.05})
	d.Notify(KindEmergencyStop, nil)

	assert.Eventually(t, func() bool { return len(b.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{KindRiskBreach, KindEmergencyStop}, a.kinds())
	cancel()
	<-done
}

func TestDispatcherNeverBlocks(t *testing.T) {
	slow := &recorder{block: make(chan struct{})}
	d := NewDispatcher(1, slow)

	// Nothing is draining the queue: the second alert must be dropped, not
	// block the caller.
	finished := make(chan struct{})
	go func() {
		d.Notify("a", nil)
		d.Notify("b", nil)
		d.Notify("c", nil)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
	assert.Equal(t, int64(2), d.Dropped())
	close(slow.block)
}

func TestDispatcherFlushesOnShutdown(t *testing.T) {
	r := &recorder{}
	d := NewDispatcher(4, r)
	d.Notify("queued", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	assert.Equal(t, []string{"queued"}, r.kinds())
}

func TestLedgerNotifier(t *testing.T) {
	ledger, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	n := LedgerNotifier(ledger)
	require.NoError(t, n.Send(context.Background(), domain.Alert{Kind: KindOrderFailed, Payload: map[string]any{"symbol": "AAPL"}}))

	alerts, err := ledger.Alerts(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, KindOrderFailed, alerts[0].Kind)
}

func TestWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), domain.Alert{
		Kind:      KindEmergencyCloseFailed,
		Payload:   map[string]any{"symbol": "AAPL", "error": "broker_timeout"},
		CreatedAt: time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	embeds := got["embeds"].([]any)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "EMERGENCY CLOSE FAILED", embed["title"])
	assert.Equal(t, "error: broker_timeout\nsymbol: AAPL", embed["description"])
	assert.Equal(t, float64(colorCritical), embed["color"])
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Send(context.Background(), domain.Alert{Kind: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Send(ctx, domain.Alert{Kind: KindRiskBreach}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var a domain.Alert
	require.NoError(t, json.Unmarshal(msg, &a))
	assert.Equal(t, KindRiskBreach, a.Kind)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}
