package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler func(req Request) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("cannot decode request: %v", err)
			return
		}
		fmt.Fprint(w, handler(req))
	}))
}

func TestClientGetSlot(t *testing.T) {
	srv := newTestServer(t, func(req Request) string {
		if req.Method != "getSlot" {
			t.Errorf("method = %q, want getSlot", req.Method)
		}
		return `{"jsonrpc":"2.0","id":1,"result":351234567}`
	})
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	slot, err := c.GetSlot(context.Background(), "processed")
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 351234567 {
		t.Errorf("slot = %d, want 351234567", slot)
	}
}

func TestClientGetBlockTime(t *testing.T) {
	srv := newTestServer(t, func(req Request) string {
		return `{"jsonrpc":"2.0","id":1,"result":1700000123}`
	})
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ms, err := c.GetBlockTime(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if ms == nil || *ms != 1700000123000 {
		t.Errorf("block time = %v, want 1700000123000 (seconds converted to ms)", ms)
	}
}

func TestClientGetBlockTimeNotAvailable(t *testing.T) {
	responses := []string{
		`{"jsonrpc":"2.0","id":1,"result":null}`,
		`{"jsonrpc":"2.0","id":1,"error":{"code":-32004,"message":"Block not available for slot 42"}}`,
	}
	for _, body := range responses {
		body := body
		srv := newTestServer(t, func(req Request) string { return body })

		c := NewClient(srv.URL, time.Second)
		ms, err := c.GetBlockTime(context.Background(), 42)
		if err != nil {
			t.Errorf("GetBlockTime(%s): %v", body, err)
		}
		if ms != nil {
			t.Errorf("GetBlockTime(%s) = %d, want nil", body, *ms)
		}
		srv.Close()
	}
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	srv := newTestServer(t, func(req Request) string {
		return `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`
	})
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.GetSlot(context.Background(), "processed"); err == nil {
		t.Fatal("expected rpc error")
	}
}
