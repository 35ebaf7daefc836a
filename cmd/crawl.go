package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/server"
	memoryStorage "github.com/JakeFAU/campus-crawler/internal/storage/memory"
	"github.com/JakeFAU/campus-crawler/internal/worker"
)

// crawlRunID names the single run a crawl command executes.
const crawlRunID = "cli"

// newCrawler is a variable so tests can avoid launching a browser.
var newCrawler = func(cfg config.Config, logger *zap.Logger) (worker.Crawler, error) {
	return server.NewEngine(cfg, logger)
}

type crawlOptions struct {
	domain string
	seeds  []string
	sink   string
	out    string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one domain in the
// foreground and writes its records to a JSON file.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one domain in the foreground",
		Long: `Runs a single domain crawl without the HTTP API. Records are written as a
JSON array to --out and, when --sink is set, delivered there as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), rt, opts)
		},
	}
	cmd.Flags().StringVar(&opts.domain, "domain", "", "domain to crawl, e.g. www.example.edu")
	cmd.Flags().StringSliceVar(&opts.seeds, "seed", nil, "seed URL on the domain (repeatable)")
	cmd.Flags().StringVar(&opts.sink, "sink", "", "result sink URL (https://, file://, gs://, pubsub://, db://)")
	cmd.Flags().StringVar(&opts.out, "out", "output.json", "file to write records to; empty skips the file")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func runCrawl(ctx context.Context, rt *runtime, opts crawlOptions) error {
	// Interrupting a crawl still writes the records collected so far.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seeds := opts.seeds
	if len(seeds) == 0 {
		seeds = []string{"https://" + strings.TrimSpace(opts.domain) + "/"}
	}
	req := crawler.CrawlRequest{
		Domain:     strings.TrimSpace(opts.domain),
		SeedURLs:   seeds,
		ResultSink: opts.sink,
	}

	engine, err := newCrawler(rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	sinks, err := server.OpenSinks(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer sinks.Close()
	if err := sinks.Router.Validate(req.ResultSink); err != nil {
		return fmt.Errorf("invalid sink: %w", err)
	}

	store := memoryStorage.NewRunStore(nil)
	w := worker.New(nil, store, engine, sinks.Router, nil,
		worker.Config{DeliveryTimeout: rt.cfg.Delivery.Timeout}, rt.logger.Named("worker"))
	run, err := w.Execute(ctx, crawler.QueueItem{RunID: crawlRunID, Request: req})
	if err != nil {
		return fmt.Errorf("crawl %s: %w", req.Domain, err)
	}
	records, err := store.ListRecords(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if opts.out != "" {
		if err := writeRecords(opts.out, records); err != nil {
			return err
		}
	}
	rt.logger.Info("crawl finished",
		zap.String("domain", req.Domain),
		zap.String("status", string(run.Status)),
		zap.String("stop_reason", string(run.Stop)),
		zap.Int("records", len(records)),
		zap.String("out", opts.out),
	)
	if req.ResultSink != "" && !run.Delivered && len(records) > 0 {
		rt.logger.Warn("records were not delivered", zap.String("sink", req.ResultSink), zap.String("error", run.ErrorText))
	}
	return nil
}

func writeRecords(path string, records []crawler.PageRecord) error {
	if records == nil {
		records = []crawler.PageRecord{}
	}
	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := os.WriteFile(path, append(body, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
