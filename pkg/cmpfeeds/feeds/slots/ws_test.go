package slots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseBlockNotification(t *testing.T) {
	raw := []byte(`{
		"jsonrpc": "2.0",
		"method": "blockNotification",
		"params": {
			"result": {
				"context": {"slot": 351000077},
				"value": {
					"slot": 351000077,
					"block": {"blockTime": 1700000123, "parentSlot": 351000076}
				}
			},
			"subscription": 14
		}
	}`)

	w := &WS{name: "ws", uri: "wss://example", subscription: "block"}
	slot, err := w.ParseMessage(&Message{Raw: raw, FeedReceivedTime: time.Now()})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if slot.Number != 351000077 {
		t.Errorf("slot = %d, want 351000077", slot.Number)
	}
	if slot.BlockTimeMs == nil || *slot.BlockTimeMs != 1700000123000 {
		t.Errorf("block time = %v, want 1700000123000 (seconds converted to ms)", slot.BlockTimeMs)
	}
}

func TestParseBlockNotificationWithoutBlockTime(t *testing.T) {
	raw := []byte(`{"params":{"result":{"value":{"slot":42,"block":{}}},"subscription":14}}`)

	w := &WS{name: "ws", subscription: "block"}
	slot, err := w.ParseMessage(&Message{Raw: raw})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if slot.BlockTimeMs != nil {
		t.Errorf("block time = %d, want nil when the node omits it", *slot.BlockTimeMs)
	}
}

func TestParseSlotNotification(t *testing.T) {
	raw := []byte(`{"params":{"result":{"parent":351000075,"root":351000044,"slot":351000076},"subscription":0}}`)

	w := &WS{name: "ws", subscription: "slot"}
	slot, err := w.ParseMessage(&Message{Raw: raw})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if slot.Number != 351000076 {
		t.Errorf("slot = %d, want 351000076", slot.Number)
	}
	if slot.BlockTimeMs != nil {
		t.Error("slot notifications never carry a production time")
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	w := &WS{name: "ws", subscription: "block"}
	if _, err := w.ParseMessage(&Message{Raw: []byte(`not json`)}); err == nil {
		t.Error("garbage message parsed without error")
	}
	if _, err := w.ParseMessage(&Message{Raw: []byte(`{"params":{}}`)}); err == nil {
		t.Error("message without a slot parsed without error")
	}
}

// newIdleWSServer acknowledges the subscription request, then holds the
// connection open without ever sending a notification.
func newIdleWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":7}`)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSReceiveStopsOnCancelWhileIdle(t *testing.T) {
	srv := newIdleWSServer(t)
	defer srv.Close()

	feed := &WS{
		name:         "ws",
		uri:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		subscription: "slot",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	out := make(chan *Message, 16)
	go feed.Receive(ctx, &wg, out)

	// Let the subscription establish, then cancel against a silent feed.
	time.Sleep(100 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Receive kept waiting on an idle socket after cancellation")
	}
}

func TestRPCParseMessagePassesThrough(t *testing.T) {
	ms := int64(1700000123000)
	r := &RPC{name: "rpc"}
	slot, err := r.ParseMessage(&Message{Slot: 9, BlockTimeMs: &ms})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if slot.Number != 9 || slot.BlockTimeMs == nil || *slot.BlockTimeMs != ms {
		t.Errorf("slot = %+v, want pre-filled values passed through", slot)
	}
}
