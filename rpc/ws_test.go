package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tokensale/core/events"
	"tokensale/native/sale"
	"tokensale/rpc/middleware"
)

type stubEvent struct{ payload *events.Payload }

func (e stubEvent) EventType() string        { return e.payload.Type }
func (e stubEvent) Payload() *events.Payload { return e.payload }

func TestHubFiltersBySale(t *testing.T) {
	hub := NewHub(nil)
	all, cancelAll := hub.Subscribe("")
	defer cancelAll()
	one, cancelOne := hub.Subscribe("0xAA")
	defer cancelOne()

	hub.Emit(stubEvent{payload: &events.Payload{Type: "sale.created", Attributes: map[string]string{"saleId": "0xaa"}}})
	hub.Emit(stubEvent{payload: &events.Payload{Type: "sale.created", Attributes: map[string]string{"saleId": "0xbb"}}})

	require.Len(t, all, 2)
	require.Len(t, one, 1)
	msg := <-one
	require.Equal(t, uint64(1), msg.Sequence)
	require.Equal(t, "0xaa", msg.Attributes["saleId"])
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(nil)
	_, cancel := hub.Subscribe("")
	for i := 0; i < subscriberBacklog+3; i++ {
		hub.Emit(stubEvent{payload: &events.Payload{Type: "sale.purchased"}})
	}
	require.Equal(t, uint64(3), hub.Dropped())
	cancel()
	cancel()

	hub.Emit(stubEvent{payload: &events.Payload{Type: "sale.purchased"}})
	require.Equal(t, uint64(3), hub.Dropped())
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		env.hub.mu.RLock()
		defer env.hub.mu.RUnlock()
		return len(env.hub.subs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	created := env.createSale(t)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg StreamMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, sale.EventTypeSaleCreated, msg.Type)
	require.Equal(t, created.ID, msg.Attributes["saleId"])
}

func TestEventStreamRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	rec := env.do(t, http.MethodGet, "/v1/events?saleId=nope", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
