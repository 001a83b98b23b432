// Command expertpanel is the composition root for the expert-panel query
// engine: it loads configuration, wires the Store and Gateway, and runs
// either a one-shot panel query or the offline drift pre-analyzer. It is
// deliberately not an HTTP server — the request/response and SSE
// transport live in pkg/sse for an embedder to drive; this binary is for
// local runs and operational drift sweeps.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/drift"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/logger"
	"github.com/shao3d/Experts-panel-sub000/pkg/progress"
	"github.com/shao3d/Experts-panel-sub000/pkg/scheduler"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "query":
		err = runQuery(ctx, os.Args[2:])
	case "drift":
		err = runDrift(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "expertpanel:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  expertpanel query --config path.yaml --q "question" [--experts e1,e2] [--max-posts 500] [--recent-only] [--comment-groups] [--personal]
  expertpanel drift  --config path.yaml --expert e1`)
}

func loadAndWire(configPath string) (*config.Config, store.Store, *llmgateway.Gateway, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, nil)

	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	gw, err := llmgateway.New(cfg, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build gateway: %w", err)
	}
	return cfg, s, gw, nil
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config YAML")
	question := fs.String("q", "", "question to ask the panel")
	experts := fs.String("experts", "", "comma-separated expert ids (empty = all experts)")
	maxPosts := fs.Int("max-posts", 0, "cap on posts considered (0 = no cap)")
	recentOnly := fs.Bool("recent-only", false, "restrict to the recent window only")
	commentGroups := fs.Bool("comment-groups", true, "include the comment-group/comment-synthesis stages (pass -comment-groups=false to disable)")
	personal := fs.Bool("personal", true, "use the first-person answer style (pass -personal=false for a neutral third-person voice)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *question == "" {
		return fmt.Errorf("--q is required")
	}

	cfg, s, gw, err := loadAndWire(*configPath)
	if err != nil {
		return err
	}
	l := logger.Default()

	var filter []string
	if *experts != "" {
		filter = strings.Split(*experts, ",")
	}

	sched := &scheduler.Scheduler{Gateway: gw, Store: s, Config: cfg, Logger: l}
	bus := progress.New()
	defer bus.Close()

	events, cancelSub := bus.Subscribe()
	defer cancelSub()
	go func() {
		for ev := range events {
			l.Debug("progress", "kind", ev.Kind, "expert_id", ev.ExpertID, "stage", ev.Stage)
		}
	}()

	resp, err := sched.Run(ctx, scheduler.Request{
		Query:                *question,
		ExpertFilter:         filter,
		MaxPosts:             *maxPosts,
		UseRecentOnly:        *recentOnly,
		IncludeCommentGroups: *commentGroups,
		UsePersonalStyle:     *personal,
	}, bus)
	if err != nil {
		return fmt.Errorf("scheduler run: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runDrift(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("drift", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config YAML")
	expertID := fs.String("expert", "", "expert id to analyze")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *expertID == "" {
		return fmt.Errorf("--expert is required")
	}

	cfg, s, gw, err := loadAndWire(*configPath)
	if err != nil {
		return err
	}
	sqlStore, ok := s.(store.DriftWriter)
	if !ok {
		return fmt.Errorf("configured store does not support drift writes")
	}

	a := &drift.Analyzer{Gateway: gw, Store: sqlStore, Logger: logger.Default(), Retry: cfg.Retry}
	analyzed, skipped, err := a.RunForExpert(ctx, *expertID)
	if err != nil {
		return fmt.Errorf("drift run: %w", err)
	}
	slog.Info("drift pass complete", "expert_id", *expertID, "analyzed", analyzed, "skipped", skipped)
	return nil
}
