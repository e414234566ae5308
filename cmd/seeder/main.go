package main

import (
	"bufio"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/conductor"
	"github.com/poiesic/conductor/core"
	"github.com/poiesic/conductor/ingestion"
)

// seedDocuments covers every content type the chunk router understands.
var seedDocuments = []*core.SourceDocument{
	{
		ID:          "runbooks/deploy.md",
		ContentType: core.ContentTypeMarkdown,
		RawText: `# Deploy runbook

Deploys go out every Tuesday after the release review. Hotfixes may ship any
day with sign-off from the on-call lead.

## Rollback

Run the rollback job from the release dashboard. The previous image is kept
for seven days.

## Freeze windows

No deploys during the last week of the quarter.
`,
		Metadata: map[string]string{"team": "platform"},
	},
	{
		ID:          "runbooks/storage.md",
		ContentType: core.ContentTypeMarkdown,
		RawText: `# Storage maintenance

Badger compaction runs nightly at 02:00 UTC. Value log garbage collection runs
after compaction when more than half of a log file is stale.

## Disk alerts

Page the storage owner when a volume passes 85 percent.
`,
		Metadata: map[string]string{"team": "storage"},
	},
	{
		ID:          "src/retry.go",
		ContentType: core.ContentTypeCode,
		RawText: `package retry

// Backoff returns the delay before attempt n.
func Backoff(base, max time.Duration, n int) time.Duration {
	d := base << n
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Jitter spreads d over [d/2, d).
func Jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int64N(int64(d/2)))
}
`,
		Metadata: map[string]string{"team": "platform", "lang": "go"},
	},
	{
		ID:          "tracker/ingestion.txt",
		ContentType: core.ContentTypeIssue,
		RawText: `Issue #412: Embedding batches time out under load
The embedding provider returns 429 during the nightly import.
Comment by dana: Rate limit is 60 requests per minute; the import sends 200.
Comment by lee: Added a shared limiter. Batches now back off and retry.
Issue #418: Dead letters never drained
Redrive was not scheduled after the provider outage.
Comment by dana: Added a redrive step to the morning job.
`,
		Metadata: map[string]string{"team": "data"},
	},
	{
		ID:          "inventory/services.csv",
		ContentType: core.ContentTypeTabular,
		RawText: `service,owner,tier,region
gateway,platform,1,us-east
indexer,data,2,us-east
search,data,1,eu-west
billing,finance,1,us-east
`,
		Metadata: map[string]string{"team": "platform"},
	},
	{
		ID:          "notes/oncall.txt",
		ContentType: core.ContentTypeGeneric,
		RawText: "On-call rotates every Monday at 09:00 local time. " +
			"The outgoing engineer writes a handoff note covering open incidents and pending deploys.",
	},
}

// chatter seeds conversation documents when no source file is given.
var chatter = []string{
	"[2025-03-04T09:12:00Z] dana: the nightly import failed again",
	"[2025-03-04T09:13:10Z] lee: same 429s from the embedding provider?",
	"[2025-03-04T09:14:02Z] dana: yes, about forty batches dead-lettered",
	"[2025-03-04T09:15:45Z] lee: I'll run a redrive once the limiter change lands",
	"[2025-03-04T09:20:30Z] sam: is the Tuesday deploy still on?",
	"[2025-03-04T09:21:00Z] dana: yes, release review is at 14:00",
	"[2025-03-04T09:25:12Z] lee: redrive finished, all batches stored",
	"[2025-03-04T09:26:40Z] sam: thanks, closing the incident",
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "seeder",
		Usage: "Seed a conductor database with sample documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the conductor database directory",
				Value:   "./conductor_db",
			},
			&cli.StringFlag{
				Name:  "src",
				Usage: "File of conversation lines to ingest instead of the built-in chatter",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Conversation lines per document",
				Value: 5,
			},
		},
		Action: seed,
	}
}

// linesFromFile returns an iterator over lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}, nil
}

// linesFromSlice returns an iterator over a slice of strings.
func linesFromSlice(lines []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, line := range lines {
			if !yield(line) {
				return
			}
		}
	}
}

// conversations groups lines from source into conversation documents of
// size lines each.
func conversations(prefix string, source iter.Seq[string], size int) []*core.SourceDocument {
	var docs []*core.SourceDocument
	batch := make([]string, 0, size)
	flush := func() {
		docs = append(docs, &core.SourceDocument{
			ID:          fmt.Sprintf("%s/%04d", prefix, len(docs)),
			ContentType: core.ContentTypeConversation,
			RawText:     strings.Join(batch, "\n"),
		})
		batch = batch[:0]
	}

	for line := range source {
		if strings.TrimSpace(line) == "" {
			continue
		}
		batch = append(batch, line)
		if len(batch) == size {
			flush()
		}
	}
	if len(batch) > 0 {
		flush()
	}
	return docs
}

func logReport(report *ingestion.Report) {
	slog.Info("seeded",
		"accepted", len(report.Accepted),
		"failed", len(report.Failed),
		"dead_lettered", len(report.DeadLettered),
		"chunks", report.Chunks)
	for _, f := range report.Failed {
		slog.Warn("document failed", "document_id", f.DocumentID, "err", f.Err)
	}
}

func seed(c *cli.Context) error {
	size := c.Int("batch")
	if size < 1 {
		return fmt.Errorf("batch must be at least 1")
	}

	assistant, err := conductor.New(c.String("db"))
	if err != nil {
		return err
	}
	defer assistant.Close()

	// Determine source of conversation data
	var (
		source iter.Seq[string]
		prefix = "chat/seed"
	)
	if src := c.String("src"); src != "" {
		source, err = linesFromFile(src)
		if err != nil {
			return err
		}
		prefix = "chat/" + strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	} else {
		source = linesFromSlice(chatter)
	}

	docs := slices.Concat(seedDocuments, conversations(prefix, source, size))
	report, err := assistant.Ingest(c.Context, docs)
	if report != nil {
		logReport(report)
	}
	return err
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("seeding failed", "err", err)
		os.Exit(1)
	}
}
