package cmpfeeds

import (
	"blockrace/internal/pkg/flags"
	"blockrace/internal/pkg/logger"
	"blockrace/pkg/cmpfeeds/feeds/slots"
	"blockrace/pkg/race"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// LatencyService measures the absolute propagation latency of a single feed:
// how far behind the producer-claimed creation time each block arrives.
type LatencyService struct {
	feed     slotsFeed
	feedChan chan *slots.Message

	stats    *race.Aggregator
	resolver *race.Resolver

	headerPrinted bool
}

// NewLatencyService creates the single-feed latency measurement service.
func NewLatencyService() *LatencyService {
	const bufSize = 1000

	return &LatencyService{
		feedChan: make(chan *slots.Message, bufSize),
	}
}

// Run measures until the duration elapses, the requested number of blocks is
// reached, or the process is interrupted, then prints the summary report.
func (ls *LatencyService) Run(c *cli.Context) error {
	logger.Init(c.Bool(flags.Verbose.Name))

	kind := c.String(flags.Feed.Name)

	var err error
	ls.feed, err = feedBuilder(c, kind, fmt.Sprintf("feed[%s]", kind), c.String(flags.FeedURI.Name))
	if err != nil {
		return err
	}

	ls.resolver, err = race.NewResolver(nil)
	if err != nil {
		return err
	}

	ls.stats, err = race.NewAggregator(race.AggregatorConfig{
		MaxPlausibleMs: int64(c.Int(flags.MaxPlausible.Name)),
		Thresholds:     ls.resolver.Thresholds(),
		ProgressEvery:  c.Int(flags.ProgressEvery.Name),
	})
	if err != nil {
		return err
	}

	var (
		duration     = time.Duration(c.Int(flags.Duration.Name)) * time.Second
		targetBlocks = c.Int(flags.Blocks.Name)
		ctx, cancel  = context.WithCancel(context.Background())

		readerGroup sync.WaitGroup
	)
	defer cancel()

	readerGroup.Add(1)
	go ls.feed.Receive(ctx, &readerGroup, ls.feedChan)

	log.Infof("Measuring %s latency for up to %v", ls.feed.Name(), duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	deadline := time.After(duration)
	processed := 0

measure:
	for {
		select {
		case <-deadline:
			break measure
		case <-interrupt:
			log.Info("interrupted, reporting on what was collected so far")
			break measure
		case data, ok := <-ls.feedChan:
			if !ok {
				break measure
			}
			if ls.processMessage(data) {
				processed++
			}
			if targetBlocks > 0 && processed >= targetBlocks {
				break measure
			}
		}
	}

	cancel()
	readerGroup.Wait()

	stats, ok := ls.stats.Snapshot(ls.feed.Name())
	if !ok {
		return fmt.Errorf("no latency samples collected from %s", ls.feed.Name())
	}

	fmt.Print(formatStats(stats))

	if c.Bool(flags.JSONSummary.Name) {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("cannot marshal json summary: %v", err)
		}
		fmt.Printf("\n%s\n", data)
	}

	return nil
}

// processMessage records one block's propagation latency. It reports whether
// a sample was accepted.
func (ls *LatencyService) processMessage(data *slots.Message) bool {
	slot, err := ls.feed.ParseMessage(data)
	if err != nil {
		log.Errorf("error: %v", err)
		return false
	}
	if slot.BlockTimeMs == nil {
		log.Debugf("slot %d carries no production time, skipping", slot.Number)
		return false
	}

	latency := data.FeedReceivedTime.UnixMilli() - *slot.BlockTimeMs
	accepted, progress := ls.stats.Record(race.LatencySample{
		ValueMs:    latency,
		Source:     ls.feed.Name(),
		Slot:       slot.Number,
		ObservedAt: data.FeedReceivedTime.UnixMilli(),
	})
	if !accepted {
		log.Warnf("slot %d latency %dms filtered as implausible", slot.Number, latency)
		return false
	}

	if !ls.headerPrinted {
		fmt.Printf("%-10s | %-13s | %-13s | %-9s | %s\n",
			"Slot", "Block Time", "Received Time", "Latency", "Status")
		fmt.Println("----------------------------------------------------------------------")
		ls.headerPrinted = true
	}
	fmt.Printf("%-10d | %-13d | %-13d | %-7dms | %s\n",
		slot.Number,
		*slot.BlockTimeMs/1000,
		data.FeedReceivedTime.Unix(),
		latency,
		ls.resolver.Classify(latency),
	)

	if progress {
		if avg, count := ls.stats.RunningAvg(ls.feed.Name()); count > 0 {
			log.Infof("%s running avg latency over %d samples: %.1fms", ls.feed.Name(), count, avg)
		}
	}
	return true
}
