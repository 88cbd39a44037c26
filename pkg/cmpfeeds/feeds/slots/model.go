package slots

import "time"

// Message is one raw notification from a feed, stamped at the moment the
// adapter read it off the wire.
type Message struct {
	Raw              []byte
	FeedReceivedTime time.Time
	// Slot and BlockTimeMs are pre-filled by adapters that parse inline
	// (the rpc poller); stream adapters leave them to ParseMessage.
	Slot        uint64
	BlockTimeMs *int64
}

// Slot is the normalized arrival: the slot number plus the producer-claimed
// creation time in ms, when the feed supplies one.
type Slot struct {
	Number      uint64
	BlockTimeMs *int64
}

type slotNotification struct {
	Params struct {
		Result struct {
			Slot uint64 `json:"slot"`
		} `json:"result"`
	} `json:"params"`
}

type blockNotification struct {
	Params struct {
		Result struct {
			Value struct {
				Slot  uint64 `json:"slot"`
				Block struct {
					BlockTime *int64 `json:"blockTime"`
				} `json:"block"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}
