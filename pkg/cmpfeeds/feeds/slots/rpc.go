package slots

import (
	"blockrace/internal/pkg/flags"
	"blockrace/internal/pkg/jsonrpc"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// RPC is a poll feed: it asks the node for its latest slot at a fixed
// cadence and fetches the production time of each newly seen slot. A failed
// or slow poll only costs this feed a cycle; nothing downstream blocks on it.
type RPC struct {
	name         string
	uri          string
	client       *jsonrpc.Client
	pollInterval time.Duration
	commitment   string
}

const (
	rpcRequestTimeout = 10 * time.Second
	// maxCatchup bounds how many backlogged slots one poll may report after
	// a stall, so a recovering feed measures fresh arrivals instead of
	// replaying history.
	maxCatchup = 16
)

// NewRPC builds a polling feed adapter from the CLI context.
func NewRPC(c *cli.Context, name, uri string) *RPC {
	return &RPC{
		name:         name,
		uri:          uri,
		client:       jsonrpc.NewClient(uri, rpcRequestTimeout),
		pollInterval: time.Duration(c.Int(flags.PollInterval.Name)) * time.Millisecond,
		commitment:   c.String(flags.Commitment.Name),
	}
}

// Receive polls until the context is cancelled. Each new slot is emitted
// once, stamped at the moment the poll response revealed it. Transient RPC
// errors are logged and absorbed here.
func (r *RPC) Receive(ctx context.Context, wg *sync.WaitGroup, out chan *Message) {
	defer wg.Done()

	log.Infof("Initiating polling of %s %v every %v", r.Name(), r.uri, r.pollInterval)

	lastSlot, ok := r.initialSlot(ctx)
	if !ok {
		return
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("stop %s feed", r.Name())
			return
		case <-ticker.C:
			currentSlot, err := r.client.GetSlot(ctx, r.commitment)
			if err != nil {
				if ctx.Err() == nil {
					log.Errorf("cannot poll latest slot from %s: %v", r.Name(), err)
				}
				continue
			}
			if currentSlot <= lastSlot {
				continue
			}

			first := lastSlot + 1
			if currentSlot-lastSlot > maxCatchup {
				log.Warnf("%s fell %d slots behind, skipping to the most recent %d",
					r.Name(), currentSlot-lastSlot, maxCatchup)
				first = currentSlot - maxCatchup + 1
			}

			for slot := first; slot <= currentSlot; slot++ {
				observed := time.Now()
				blockTimeMs, err := r.client.GetBlockTime(ctx, slot)
				if err != nil {
					if ctx.Err() == nil {
						log.Errorf("cannot fetch block time for slot %d from %s: %v", slot, r.Name(), err)
					}
					continue
				}

				out <- &Message{
					Slot:             slot,
					BlockTimeMs:      blockTimeMs,
					FeedReceivedTime: observed,
				}
			}
			lastSlot = currentSlot
		}
	}
}

// initialSlot establishes the polling baseline, retrying until the node
// answers or the run is cancelled.
func (r *RPC) initialSlot(ctx context.Context) (uint64, bool) {
	for {
		slot, err := r.client.GetSlot(ctx, r.commitment)
		if err == nil {
			return slot, true
		}
		if ctx.Err() != nil {
			return 0, false
		}
		log.Errorf("cannot establish polling baseline from %s: %v", r.Name(), err)
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(r.pollInterval):
		}
	}
}

// ParseMessage returns the slot the poller already extracted.
func (r *RPC) ParseMessage(message *Message) (*Slot, error) {
	return &Slot{Number: message.Slot, BlockTimeMs: message.BlockTimeMs}, nil
}

// Name identifies the feed in race lines and reports.
func (r *RPC) Name() string {
	return r.name
}
