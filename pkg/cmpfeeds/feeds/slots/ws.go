package slots

import (
	"blockrace/internal/pkg/flags"
	"blockrace/internal/pkg/ws"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// WS is a push feed: a websocket subscription to slot or block
// notifications. The adapter suspends only while waiting on the socket.
type WS struct {
	name         string
	uri          string
	authHeader   string
	subscription string
	commitment   string
}

const reconnectBackoff = time.Second

// NewWS builds a websocket feed adapter from the CLI context.
func NewWS(c *cli.Context, name, uri string) *WS {
	return &WS{
		name:         name,
		uri:          uri,
		authHeader:   c.String(flags.AuthHeader.Name),
		subscription: c.String(flags.WSSubscription.Name),
		commitment:   c.String(flags.Commitment.Name),
	}
}

func (w *WS) connect() (*ws.Connection, *ws.Subscription, error) {
	conn, err := ws.NewConnection(w.uri, w.authHeader)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot establish connection to %s: %w", w.uri, err)
	}

	var sub *ws.Subscription
	switch w.subscription {
	case "slot":
		sub, err = conn.SubscribeSlots(1)
	case "block":
		sub, err = conn.SubscribeBlocks(1, w.commitment)
	default:
		err = fmt.Errorf("unknown ws subscription kind %q", w.subscription)
	}
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			log.Errorf("cannot close socket connection to %s: %v", w.uri, closeErr)
		}
		return nil, nil, err
	}
	return conn, sub, nil
}

// Receive reads notifications until the context is cancelled, stamping each
// message at the moment it came off the wire. Connection failures are
// retried with a fixed backoff; the consumer only ever sees an absence of
// messages, never an error.
func (w *WS) Receive(ctx context.Context, wg *sync.WaitGroup, out chan *Message) {
	defer wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		log.Infof("Initiating connection to %s %v", w.Name(), w.uri)
		conn, sub, err := w.connect()
		if err != nil {
			log.Errorf("cannot subscribe %s: %v", w.Name(), err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
			}
			continue
		}
		log.Infof("%s connection to %s established", w.Name(), w.uri)

		// Closing the connection on cancellation unblocks a read pending
		// on an idle socket, so shutdown never waits for the next frame.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				if err := conn.Close(); err != nil {
					log.Debugf("cannot close socket connection to %s %s: %v", w.Name(), w.uri, err)
				}
			case <-readDone:
			}
		}()

		w.readLoop(ctx, sub, out)
		close(readDone)

		if err := sub.Unsubscribe(); err != nil && ctx.Err() == nil {
			log.Errorf("cannot unsubscribe from feed %s: %v", w.Name(), err)
		}
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			log.Errorf("cannot close socket connection to %s %s: %v", w.Name(), w.uri, err)
		}

		if ctx.Err() != nil {
			log.Infof("stop %s feed", w.Name())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (w *WS) readLoop(ctx context.Context, sub *ws.Subscription, out chan *Message) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			data, err := sub.NextMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Errorf("failed to get new message from feed %s: %v", w.Name(), err)
				}
				return
			}

			out <- &Message{
				Raw:              data,
				FeedReceivedTime: time.Now(),
			}
		}
	}
}

// ParseMessage extracts the slot (and production time, on block
// subscriptions) from a raw notification.
func (w *WS) ParseMessage(message *Message) (*Slot, error) {
	if w.subscription == "slot" {
		var msg slotNotification
		if err := json.Unmarshal(message.Raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slot notification from %s: %w", w.uri, err)
		}
		if msg.Params.Result.Slot == 0 {
			return nil, fmt.Errorf("message from %s carries no slot", w.uri)
		}
		return &Slot{Number: msg.Params.Result.Slot}, nil
	}

	var msg blockNotification
	if err := json.Unmarshal(message.Raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block notification from %s: %w", w.uri, err)
	}
	if msg.Params.Result.Value.Slot == 0 {
		return nil, fmt.Errorf("message from %s carries no slot", w.uri)
	}
	slot := &Slot{Number: msg.Params.Result.Value.Slot}
	if bt := msg.Params.Result.Value.Block.BlockTime; bt != nil {
		ms := *bt * 1000
		slot.BlockTimeMs = &ms
	}
	return slot, nil
}

// Name identifies the feed in race lines and reports.
func (w *WS) Name() string {
	return w.name
}
