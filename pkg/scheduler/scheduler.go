// Package scheduler fans out the per-expert query pipeline across the
// requested expert set and assembles a single response.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/orchestrator"
	"github.com/shao3d/Experts-panel-sub000/pkg/progress"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

// Request is the external query entry point's request shape.
type Request struct {
	Query                string   `json:"query"`
	ExpertFilter         []string `json:"expert_filter"` // nil = all experts
	MaxPosts             int      `json:"max_posts"`
	UseRecentOnly        bool     `json:"use_recent_only"`
	IncludeCommentGroups bool     `json:"include_comment_groups"`
	UsePersonalStyle     bool     `json:"use_personal_style"`
}

// Response is the external query entry point's response shape.
type Response struct {
	Query                 string               `json:"query"`
	ExpertResponses       []model.ExpertAnswer `json:"expert_responses"`
	TotalProcessingTimeMS int64                `json:"total_processing_time_ms"`
	RequestID             string               `json:"request_id"`
}

// Scheduler fans out one Orchestrator per resolved expert.
type Scheduler struct {
	Gateway *llmgateway.Gateway
	Store   store.Store
	Config  *config.Config
	Logger  *slog.Logger
}

// Run resolves the expert set, runs every Orchestrator concurrently on a
// shared Progress Bus, waits for all of them (or for ctx cancellation),
// and assembles the aggregated response. Cross-expert isolation holds:
// one expert's failure never fails the request.
func (s *Scheduler) Run(ctx context.Context, req Request, bus *progress.Bus) (Response, error) {
	start := time.Now()
	requestID := uuid.NewString()

	experts, err := s.resolveExperts(ctx, req.ExpertFilter, bus)
	if err != nil {
		return Response{}, err
	}

	answers := make([]model.ExpertAnswer, len(experts))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range experts {
		i, e := i, e
		g.Go(func() error {
			if bus != nil {
				bus.Publish(progress.Event{Kind: progress.EventExpertStarted, ExpertID: e.ID, Timestamp: time.Now()})
			}
			orch := &orchestrator.Orchestrator{
				Gateway: s.Gateway,
				Store:   s.Store,
				Config:  s.Config,
				Logger:  s.Logger,
				Bus:     bus,
			}
			answer, err := orch.Run(gctx, e, orchestrator.Request{
				Query:                req.Query,
				MaxPosts:             req.MaxPosts,
				UseRecentOnly:        req.UseRecentOnly,
				IncludeCommentGroups: req.IncludeCommentGroups,
				UsePersonalStyle:     req.UsePersonalStyle,
			})
			if err != nil {
				s.Logger.Error("orchestrator failed for expert, omitting from response", "expert_id", e.ID, "error", err)
				if bus != nil {
					bus.Publish(progress.Event{Kind: progress.EventExpertError, ExpertID: e.ID, Timestamp: time.Now(), Payload: err.Error()})
				}
				return nil
			}
			answers[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	resp := Response{
		Query:                 req.Query,
		ExpertResponses:       filterAssembled(answers),
		TotalProcessingTimeMS: time.Since(start).Milliseconds(),
		RequestID:             requestID,
	}
	if bus != nil {
		bus.Publish(progress.Event{Kind: progress.EventRequestDone, Timestamp: time.Now(), Payload: resp})
	}
	return resp, nil
}

// filterAssembled drops zero-value slots left by a failed Orchestrator
// (recorded via EventExpertError instead) while preserving the
// deterministic per-expert ordering the fan-out used.
func filterAssembled(answers []model.ExpertAnswer) []model.ExpertAnswer {
	out := make([]model.ExpertAnswer, 0, len(answers))
	for _, a := range answers {
		if a.ExpertID == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Scheduler) resolveExperts(ctx context.Context, filter []string, bus *progress.Bus) ([]model.Expert, error) {
	all, err := s.Store.ListExperts(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		return all, nil
	}

	byID := make(map[string]model.Expert, len(all))
	for _, e := range all {
		byID[e.ID] = e
	}
	var resolved []model.Expert
	for _, id := range filter {
		e, ok := byID[id]
		if !ok {
			s.Logger.Warn("scheduler: unknown expert id in filter, skipping", "expert_id", id)
			if bus != nil {
				bus.Publish(progress.Event{Kind: progress.EventExpertError, ExpertID: id, Timestamp: time.Now(), Payload: "unknown expert id"})
			}
			continue
		}
		resolved = append(resolved, e)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved, nil
}
