package cmpfeeds

import (
	"blockrace/internal/pkg/flags"
	"blockrace/internal/pkg/logger"
	"blockrace/internal/pkg/utils"
	"blockrace/pkg/cmpfeeds/feeds/slots"
	"blockrace/pkg/race"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type slotsFeed interface {
	Receive(ctx context.Context, wg *sync.WaitGroup, out chan *slots.Message)
	ParseMessage(message *slots.Message) (*slots.Slot, error)
	Name() string
}

// raceTally accumulates the comparative counters the final report prints.
// Touched only by the handler goroutine and, after it stops, by Run.
type raceTally struct {
	observed   map[string]int
	wins       map[string]int
	marginSums map[string]int64
	ties       int
	incomplete int
	races      int
}

func newRaceTally() *raceTally {
	return &raceTally{
		observed:   make(map[string]int),
		wins:       make(map[string]int),
		marginSums: make(map[string]int64),
	}
}

// RaceService races two block feeds slot by slot: every arrival goes into
// the correlation engine, resolved outcomes are printed as they close, and
// the run ends with a comparative summary.
type RaceService struct {
	firstFeed  slotsFeed
	secondFeed slotsFeed

	firstFeedChan  chan *slots.Message
	secondFeedChan chan *slots.Message

	engine *race.Engine
	tally  *raceTally

	// leadSlots holds slots first seen before the comparison window
	// opened; they are excluded so half-observed boundary slots do not
	// skew the race.
	leadSlots utils.SlotSet

	allSlotsFile *csv.Writer

	timeToBeginComparison time.Time
	progressEvery         int
	headerPrinted         bool
}

// NewRaceService creates the race comparison service.
func NewRaceService() *RaceService {
	const bufSize = 1000

	return &RaceService{
		firstFeedChan:  make(chan *slots.Message, bufSize),
		secondFeedChan: make(chan *slots.Message, bufSize),
		leadSlots:      utils.NewSlotSet(),
		tally:          newRaceTally(),
	}
}

func feedBuilder(c *cli.Context, kind, name, uri string) (slotsFeed, error) {
	if uri == "" {
		return nil, fmt.Errorf("feed %s has no uri", name)
	}
	switch kind {
	case "ws":
		return slots.NewWS(c, name, uri), nil
	case "rpc":
		return slots.NewRPC(c, name, uri), nil
	}

	return nil, fmt.Errorf("feed kind: %s is not supported", kind)
}

// Run executes the race until the configured duration elapses or the process
// is interrupted, then reports.
func (rs *RaceService) Run(c *cli.Context) error {
	logger.Init(c.Bool(flags.Verbose.Name))

	var err error
	rs.firstFeed, err = feedBuilder(c,
		c.String(flags.FirstFeed.Name),
		fmt.Sprintf("feed1[%s]", c.String(flags.FirstFeed.Name)),
		c.String(flags.FirstFeedURI.Name))
	if err != nil {
		return err
	}

	rs.secondFeed, err = feedBuilder(c,
		c.String(flags.SecondFeed.Name),
		fmt.Sprintf("feed2[%s]", c.String(flags.SecondFeed.Name)),
		c.String(flags.SecondFeedURI.Name))
	if err != nil {
		return err
	}

	rs.progressEvery = c.Int(flags.ProgressEvery.Name)

	rs.engine, err = race.NewEngine(race.Config{
		Sources:        []string{rs.firstFeed.Name(), rs.secondFeed.Name()},
		Retention:      time.Duration(c.Int(flags.Retention.Name)) * time.Second,
		MaxPlausibleMs: int64(c.Int(flags.MaxPlausible.Name)),
		ProgressEvery:  rs.progressEvery,
	})
	if err != nil {
		return err
	}

	if fileName := c.String(flags.Dump.Name); fileName != "" {
		file, err := os.Create(fileName)
		if err != nil {
			return fmt.Errorf("cannot open file %q: %v", fileName, err)
		}

		defer func() {
			if rs.allSlotsFile != nil {
				rs.allSlotsFile.Flush()
			}
			if err := file.Sync(); err != nil {
				log.Errorf("cannot sync contents of file %q: %v", fileName, err)
			}
			if err := file.Close(); err != nil {
				log.Errorf("cannot close file %q: %v", fileName, err)
			}
		}()

		rs.allSlotsFile = csv.NewWriter(file)

		if err := rs.allSlotsFile.Write([]string{
			"Slot",
			fmt.Sprintf("%s Time", rs.firstFeed.Name()),
			fmt.Sprintf("%s Time", rs.secondFeed.Name()),
			"Winner",
			"Margin ms",
			"Complete",
		}); err != nil {
			return fmt.Errorf("cannot write CSV header of file %q: %v", fileName, err)
		}
	}

	var (
		leadTime    = time.Duration(c.Int(flags.LeadTime.Name)) * time.Second
		duration    = time.Duration(c.Int(flags.Duration.Name)) * time.Second
		ctx, cancel = context.WithCancel(context.Background())

		readerGroup sync.WaitGroup
		handleGroup sync.WaitGroup
	)
	defer cancel()

	rs.timeToBeginComparison = time.Now().Add(leadTime)

	readerGroup.Add(2)
	go rs.firstFeed.Receive(ctx, &readerGroup, rs.firstFeedChan)
	go rs.secondFeed.Receive(ctx, &readerGroup, rs.secondFeedChan)

	handleGroup.Add(1)
	go rs.handleUpdates(ctx, &handleGroup)

	log.Infof("The race will run for %v after a %v lead-in", duration, leadTime)
	log.Infof("End time: %s", time.Now().Add(leadTime+duration).Format("2006-01-02T15:04:05.000"))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	select {
	case <-time.After(leadTime + duration):
	case <-interrupt:
		log.Info("interrupted, reporting on what was collected so far")
	}

	cancel()
	readerGroup.Wait()
	handleGroup.Wait()

	// Anything still one-sided at the deadline is reported, not dropped.
	for _, out := range rs.engine.Flush() {
		rs.reportOutcome(out)
	}

	fmt.Print(rs.summary(c.Bool(flags.JSONSummary.Name)))

	return nil
}

func (rs *RaceService) handleUpdates(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, out := range rs.engine.PollOutcomes() {
				rs.reportOutcome(out)
			}
		case data, ok := <-rs.firstFeedChan:
			if !ok {
				continue
			}
			rs.processMessage(rs.firstFeed, data)
		case data, ok := <-rs.secondFeedChan:
			if !ok {
				continue
			}
			rs.processMessage(rs.secondFeed, data)
		}
	}
}

func (rs *RaceService) processMessage(feed slotsFeed, data *slots.Message) {
	timeReceived := data.FeedReceivedTime

	slot, err := feed.ParseMessage(data)
	if err != nil {
		log.Errorf("error: %v", err)
		return
	}

	if timeReceived.Before(rs.timeToBeginComparison) {
		rs.leadSlots.Add(slot.Number)
		return
	}
	if rs.leadSlots.Contains(slot.Number) {
		return
	}

	if err := rs.engine.SubmitArrival(slot.Number, feed.Name(), timeReceived.UnixMilli(), slot.BlockTimeMs); err != nil {
		log.Errorf("cannot submit arrival from %s: %v", feed.Name(), err)
		return
	}
	rs.tally.observed[feed.Name()]++

	if rs.progressEvery > 0 && rs.tally.observed[feed.Name()]%rs.progressEvery == 0 {
		if avg, count := rs.engine.RunningAvg(feed.Name()); count > 0 {
			log.Infof("%s running avg latency over %d samples: %.1fms", feed.Name(), count, avg)
		}
	}
}

func (rs *RaceService) reportOutcome(out race.Outcome) {
	if !rs.headerPrinted {
		fmt.Printf("%-10s | %-16s | %-22s | %-22s | %-9s | %s\n",
			"Slot", "Winner", rs.firstFeed.Name(), rs.secondFeed.Name(), "Margin", "Status")
		fmt.Println("--------------------------------------------------------------------------------------------------------")
		rs.headerPrinted = true
	}

	rs.tally.races++
	winner := out.Winner
	switch {
	case !out.Complete:
		rs.tally.incomplete++
		winner = "INCOMPLETE"
	case out.Tie:
		rs.tally.ties++
		winner = "TIE"
	default:
		rs.tally.wins[out.Winner]++
		rs.tally.marginSums[out.Winner] += out.MarginMs
	}

	sidesByName := make(map[string]race.SideReport, len(out.Sides))
	for _, side := range out.Sides {
		sidesByName[side.Source] = side
	}
	margin := "n/a"
	if out.Complete {
		margin = fmt.Sprintf("%dms", out.MarginMs)
	}

	fmt.Printf("%-10d | %-16s | %-22s | %-22s | %-9s | %s\n",
		out.Slot,
		winner,
		sideColumn(sidesByName, rs.firstFeed.Name()),
		sideColumn(sidesByName, rs.secondFeed.Name()),
		margin,
		out.Overall,
	)

	if rs.allSlotsFile != nil {
		record := []string{
			strconv.FormatUint(out.Slot, 10),
			sideTimestamp(sidesByName, rs.firstFeed.Name()),
			sideTimestamp(sidesByName, rs.secondFeed.Name()),
			out.Winner,
			strconv.FormatInt(out.MarginMs, 10),
			strconv.FormatBool(out.Complete),
		}
		if err := rs.allSlotsFile.Write(record); err != nil {
			log.Errorf("cannot add slot %d to dump file: %v", out.Slot, err)
		}
	}
}

func sideColumn(sides map[string]race.SideReport, name string) string {
	side, ok := sides[name]
	if !ok {
		return "missing"
	}
	if side.LatencyMs == nil {
		return "seen"
	}
	return fmt.Sprintf("%dms", *side.LatencyMs)
}

func sideTimestamp(sides map[string]race.SideReport, name string) string {
	side, ok := sides[name]
	if !ok {
		return "not received"
	}
	return time.UnixMilli(side.ReceivedMs).UTC().Format("2006-01-02T15:04:05.000")
}

func (rs *RaceService) summary(withJSON bool) string {
	var (
		firstName  = rs.firstFeed.Name()
		secondName = rs.secondFeed.Name()
		tally      = rs.tally
		bothSeen   = tally.races - tally.incomplete
	)

	avgMargin := func(name string) float64 {
		if tally.wins[name] == 0 {
			return 0
		}
		return float64(tally.marginSums[name]) / float64(tally.wins[name])
	}

	verdict := "Both feeds delivered blocks equally fast"
	firstLead := float64(tally.wins[firstName])*avgMargin(firstName) -
		float64(tally.wins[secondName])*avgMargin(secondName)
	if bothSeen > 0 && firstLead != 0 {
		lead, leader, trailer := firstLead, firstName, secondName
		if lead < 0 {
			lead, leader, trailer = -lead, secondName, firstName
		}
		verdict = fmt.Sprintf("%s is faster than %s by (ms): %.3f on average", leader, trailer, lead/float64(bothSeen))
	}

	results := fmt.Sprintf(
		"\nAnalysis of slots seen on both feeds:\n"+
			"Number of races resolved: %d\n"+
			"Number of slots seen by both feeds: %d\n"+
			"Number of slots won by %s: %d (avg margin %.1fms)\n"+
			"Number of slots won by %s: %d (avg margin %.1fms)\n"+
			"Ties: %d\n"+
			"Incomplete (seen by only one feed): %d\n"+
			"%s\n"+
			"\nTotal slots summary:\n"+
			"Total slots from %s: %d\n"+
			"Total slots from %s: %d\n",
		tally.races,
		bothSeen,
		firstName, tally.wins[firstName], avgMargin(firstName),
		secondName, tally.wins[secondName], avgMargin(secondName),
		tally.ties,
		tally.incomplete,
		verdict,
		firstName, tally.observed[firstName],
		secondName, tally.observed[secondName],
	)

	all := rs.engine.SnapshotStatsAll()
	for _, name := range []string{firstName, secondName} {
		stats, ok := all[name]
		if !ok {
			continue
		}
		results += formatStats(stats)
	}

	diag := rs.engine.Diagnostics()
	results += fmt.Sprintf(
		"\nDiagnostics: %d duplicate arrivals, %d late arrivals, %d from unknown sources\n",
		diag.Duplicates, diag.LateEvents, diag.UnknownSource)

	if withJSON {
		report := struct {
			Sources     map[string]race.SummaryStats `json:"sources"`
			Wins        map[string]int               `json:"wins"`
			Ties        int                          `json:"ties"`
			Incomplete  int                          `json:"incomplete"`
			Diagnostics race.Diagnostics             `json:"diagnostics"`
		}{all, tally.wins, tally.ties, tally.incomplete, diag}

		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Errorf("cannot marshal json summary: %v", err)
		} else {
			results += "\n" + string(data) + "\n"
		}
	}

	return results
}

// formatStats renders one source's summary in the shape of the latency
// report: headline numbers then the distribution histogram.
func formatStats(stats race.SummaryStats) string {
	out := fmt.Sprintf(
		"\nPropagation latency for %s:\n"+
			"Samples: %d (%d filtered as implausible)\n"+
			"Average latency (ms): %.1f\n"+
			"Min/Max latency (ms): %d/%d\n"+
			"P50: %dms P90: %dms P95: %dms P99: %dms\n",
		stats.Source,
		stats.Count, stats.Filtered,
		stats.AvgMs,
		stats.MinMs, stats.MaxMs,
		stats.P50Ms, stats.P90Ms, stats.P95Ms, stats.P99Ms,
	)
	if stats.Count > 0 {
		out += makeHistogram(stats.Buckets, stats.Count)
	}
	return out
}

func makeHistogram(buckets []race.Bucket, total int) string {
	const barWidth = 40

	out := ""
	for _, b := range buckets {
		bound := "rest"
		if b.UnderMs > 0 {
			bound = fmt.Sprintf("<%dms", b.UnderMs)
		}
		bar := ""
		if total > 0 {
			n := b.Count * barWidth / total
			for i := 0; i < n; i++ {
				bar += "#"
			}
		}
		out += fmt.Sprintf("%-9s %-8s %4d (%5.1f%%) %s\n",
			b.Label, bound, b.Count, 100*float64(b.Count)/float64(total), bar)
	}
	return out
}
