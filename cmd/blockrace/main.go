package main

import (
	"blockrace/internal/pkg/flags"
	"blockrace/pkg/cmpfeeds"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "blockrace",
		Usage: "races block arrival feeds against each other and measures their latency",
		Commands: []*cli.Command{
			{
				Name:  "race",
				Usage: "races block arrivals from two feeds and reports which is faster",
				Flags: []cli.Flag{
					flags.FirstFeed,
					flags.FirstFeedURI,
					flags.SecondFeed,
					flags.SecondFeedURI,
					flags.AuthHeader,
					flags.WSSubscription,
					flags.Commitment,
					flags.PollInterval,
					flags.LeadTime,
					flags.Duration,
					flags.Retention,
					flags.MaxPlausible,
					flags.ProgressEvery,
					flags.Dump,
					flags.JSONSummary,
					flags.Verbose,
				},
				Action: cmpfeeds.NewRaceService().Run,
			},
			{
				Name:  "latency",
				Usage: "measures block arrival latency of a single feed against block production time",
				Flags: []cli.Flag{
					flags.Feed,
					flags.FeedURI,
					flags.AuthHeader,
					flags.WSSubscription,
					flags.Commitment,
					flags.PollInterval,
					flags.Duration,
					flags.Blocks,
					flags.MaxPlausible,
					flags.ProgressEvery,
					flags.JSONSummary,
					flags.Verbose,
				},
				Action: cmpfeeds.NewLatencyService().Run,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
