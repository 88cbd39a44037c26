package ws

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Request represents data which is needed to send RPC requests to a node's
// websocket endpoint.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subscribeResponse struct {
	Error  map[string]interface{} `json:"error"`
	Result int64                  `json:"result"`
}

// Connection is a thin wrapper around a websocket connection which provides
// convenience methods for subscribing to a feed.
type Connection struct {
	conn *websocket.Conn
}

// SubscribeSlots subscribes to slot advance notifications. These carry no
// block production time.
func (c *Connection) SubscribeSlots(id int) (*Subscription, error) {
	return c.subscribe(NewRequest(id, "slotSubscribe", nil), slotSub)
}

// SubscribeBlocks subscribes to block notifications at the given commitment
// level, with transaction contents excluded to keep messages small.
func (c *Connection) SubscribeBlocks(id int, commitment string) (*Subscription, error) {
	req := NewRequest(id, "blockSubscribe", []interface{}{
		"all",
		map[string]interface{}{
			"commitment":                     commitment,
			"encoding":                       "json",
			"transactionDetails":             "none",
			"showRewards":                    false,
			"maxSupportedTransactionVersion": 0,
		},
	})
	return c.subscribe(req, blockSub)
}

func (c *Connection) subscribe(req *Request, t subscriptionType) (*Subscription, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if err = c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return nil, err
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var res subscribeResponse
	if err = json.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	if res.Error != nil {
		return nil, fmt.Errorf("error from RPC: %v", res.Error)
	}

	return &Subscription{
		ID:   res.Result,
		Conn: c,
		Type: t,
	}, nil
}

// Close closes a connection.
func (c *Connection) Close() error {
	if err := c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	); err != nil {
		return err
	}

	return c.conn.Close()
}

// NewConnection creates and initializes a new websocket connection.
func NewConnection(uri, authToken string) (*Connection, error) {
	header := http.Header{}
	if authToken != "" {
		header.Add("Authorization", authToken)
	}

	tlsConfig := tls.Config{}
	if strings.HasPrefix(uri, "wss") {
		tlsConfig.InsecureSkipVerify = true
	}
	dialer := websocket.Dialer{TLSClientConfig: &tlsConfig}

	conn, resp, err := dialer.Dial(uri, header)
	if err != nil {
		return nil, err
	}
	err = resp.Body.Close()

	return &Connection{
		conn: conn,
	}, err
}

type subscriptionType byte

const (
	slotSub  subscriptionType = 1
	blockSub subscriptionType = 2
)

// Subscription represents a subscription to a websocket feed.
type Subscription struct {
	ID   int64
	Conn *Connection
	Type subscriptionType
}

// Unsubscribe unsubscribes from the feed.
func (s *Subscription) Unsubscribe() error {
	switch s.Type {
	case slotSub:
		return s.unsubscribe(NewRequest(1, "slotUnsubscribe", []interface{}{s.ID}))
	case blockSub:
		return s.unsubscribe(NewRequest(1, "blockUnsubscribe", []interface{}{s.ID}))
	}

	return fmt.Errorf("unknown subscription type: %d", s.Type)
}

func (s *Subscription) unsubscribe(req *Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	return s.Conn.conn.WriteMessage(websocket.TextMessage, body)
}

// NextMessage is a convenience method which reads and returns the next data
// item from the feed.
func (s *Subscription) NextMessage() ([]byte, error) {
	_, r, err := s.Conn.conn.NextReader()

	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

// NewRequest is a convenience method to create a Request struct.
func NewRequest(id int, method string, params []interface{}) *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}
