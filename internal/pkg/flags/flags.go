package flags

import "github.com/urfave/cli/v2"

// CLI flags for blockrace
var (
	FirstFeed = &cli.StringFlag{
		Name:  "first-feed",
		Usage: "first feed to compare, can be: ws, rpc",
		Value: "ws",
	}
	SecondFeed = &cli.StringFlag{
		Name:  "second-feed",
		Usage: "second feed to compare, can be: ws, rpc",
		Value: "rpc",
	}
	FirstFeedURI = &cli.StringFlag{
		Name:     "first-feed-uri",
		Usage:    "first feed uri (ws(s):// for ws feed, http(s):// for rpc feed)",
		Required: true,
	}
	SecondFeedURI = &cli.StringFlag{
		Name:     "second-feed-uri",
		Usage:    "second feed uri (ws(s):// for ws feed, http(s):// for rpc feed)",
		Required: true,
	}
	Feed = &cli.StringFlag{
		Name:  "feed",
		Usage: "feed to measure, can be: ws, rpc",
		Value: "rpc",
	}
	FeedURI = &cli.StringFlag{
		Name:     "feed-uri",
		Usage:    "feed uri (ws(s):// for ws feed, http(s):// for rpc feed)",
		Required: true,
	}
	AuthHeader = &cli.StringFlag{
		Name:  "auth-header",
		Usage: "authorization header sent when establishing feed connections",
	}
	LeadTime = &cli.IntFlag{
		Name:  "lead-time",
		Usage: "seconds to wait before starting to compare feeds",
		Value: 5,
	}
	Duration = &cli.IntFlag{
		Name:  "duration",
		Usage: "length of the measurement run in seconds",
		Value: 180,
	}
	PollInterval = &cli.IntFlag{
		Name:  "poll-interval",
		Usage: "rpc feed polling cadence in milliseconds",
		Value: 500,
	}
	Commitment = &cli.StringFlag{
		Name:  "commitment",
		Usage: "commitment level for slot/block queries, e.g. 'processed' or 'confirmed'",
		Value: "processed",
	}
	WSSubscription = &cli.StringFlag{
		Name:  "ws-subscription",
		Usage: "ws feed subscription kind: 'block' (carries production time) or 'slot'",
		Value: "block",
	}
	Retention = &cli.IntFlag{
		Name:  "retention",
		Usage: "seconds a one-sided slot may wait for the other feed before being reported incomplete",
		Value: 60,
	}
	MaxPlausible = &cli.IntFlag{
		Name:  "max-plausible",
		Usage: "latency samples at or above this value (ms) are discarded as implausible",
		Value: 60000,
	}
	ProgressEvery = &cli.IntFlag{
		Name:  "progress-every",
		Usage: "print a running average every N accepted samples, 0 disables",
		Value: 25,
	}
	Blocks = &cli.IntFlag{
		Name:  "blocks",
		Usage: "stop after measuring this many blocks, 0 runs for the full duration",
		Value: 0,
	}
	Dump = &cli.StringFlag{
		Name:  "dump",
		Usage: "write every raced slot to this csv file",
	}
	JSONSummary = &cli.BoolFlag{
		Name:  "json-summary",
		Usage: "print the final summary as json in addition to the text report",
	}
	Verbose = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug logging of per-event diagnostics",
	}
)
