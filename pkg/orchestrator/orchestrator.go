// Package orchestrator runs the per-expert query pipeline (Map through
// Comment-Synthesis) for one expert, enforcing stage dependency order and
// emitting Progress Bus events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/llmgateway"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
	"github.com/shao3d/Experts-panel-sub000/pkg/pipeline"
	"github.com/shao3d/Experts-panel-sub000/pkg/progress"
	"github.com/shao3d/Experts-panel-sub000/pkg/store"
)

// Phase names match the streaming channel's "phase" field.
const (
	PhaseMap            = "map"
	PhaseMediumScoring   = "medium_scoring"
	PhaseResolve        = "resolve"
	PhaseReduce         = "reduce"
	PhaseLanguageCheck  = "language_check"
	PhaseCommentGroups  = "comment_groups"
	PhaseCommentSynth   = "comment_synthesis"
	PhaseComplete       = "complete"
)

// Request is one query's parameters, already resolved from the external
// request shape into what an Orchestrator needs.
type Request struct {
	Query                 string
	MaxPosts              int
	UseRecentOnly         bool
	IncludeCommentGroups  bool
	UsePersonalStyle      bool
}

// Orchestrator runs the eight-stage pipeline for one expert.
type Orchestrator struct {
	Gateway *llmgateway.Gateway
	Store   store.Store
	Config  *config.Config
	Logger  *slog.Logger
	Bus     *progress.Bus
}

// Run executes the full per-expert pipeline and returns its Expert Answer.
// It never returns an error for recoverable stage failures — those
// degrade gracefully rather than fail the whole answer; only Store errors (fatal for this expert) and
// context cancellation propagate.
func (o *Orchestrator) Run(ctx context.Context, expert model.Expert, req Request) (model.ExpertAnswer, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.Config.PerExpertCeiling)
	defer cancel()

	logger := o.Logger.With("expert_id", expert.ID)

	var cutoff *time.Time
	if req.UseRecentOnly {
		c := pipeline.RecentCutoff(time.Now().UTC(), o.Config.RecentWindowMonths)
		cutoff = &c
	}

	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseMap})
	posts, err := o.Store.ListPosts(ctx, expert.ID, cutoff)
	if err != nil {
		return model.ExpertAnswer{}, fmt.Errorf("list posts for expert %s: %w", expert.ID, err)
	}
	if req.MaxPosts > 0 && len(posts) > req.MaxPosts {
		posts = posts[:req.MaxPosts]
	}

	verdicts, err := pipeline.Map(ctx, o.Gateway, logger, expert.ID, req.Query, posts, o.Config.Map, o.Config.Retry)
	if err != nil {
		return model.ExpertAnswer{}, err
	}
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseMap})

	postsByID := make(map[int]model.Post, len(posts))
	for _, p := range posts {
		postsByID[p.ID] = p
	}

	var highPosts []model.Post
	mediumPosts := make(map[int]model.Post)
	for _, v := range verdicts {
		p, ok := postsByID[v.PostID]
		if !ok {
			continue
		}
		switch v.Level {
		case model.LevelHigh:
			highPosts = append(highPosts, p)
		case model.LevelMedium:
			mediumPosts[v.PostID] = p
		}
	}

	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseMediumScoring})
	scored := pipeline.MediumRescue(ctx, o.Gateway, logger, expert.ID, req.Query, mediumPosts, o.Config.MediumRescue, o.Config.Retry)
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseMediumScoring})

	if len(highPosts) == 0 && len(scored) == 0 {
		answer := o.zeroSourceAnswer(expert, start)
		if req.IncludeCommentGroups {
			o.runCommentPipeline(ctx, logger, expert, req, nil, &answer)
		}
		o.emit(progress.Event{Kind: progress.EventExpertAnswer, ExpertID: expert.ID, Stage: PhaseComplete, Payload: answer})
		return answer, nil
	}

	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseResolve})
	sources, err := pipeline.Resolve(ctx, o.Store, expert.ID, highPosts, cutoff)
	if err != nil {
		return model.ExpertAnswer{}, err
	}
	for _, s := range scored {
		p := mediumPosts[s.PostID]
		sources = append(sources, model.SelectedSource{PostID: s.PostID, Tier: model.TierMediumSelected, Post: p})
	}
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseResolve})

	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseReduce})
	style := pipeline.StylePersonal
	if !req.UsePersonalStyle {
		style = pipeline.StyleNeutral
	}
	reduced, err := pipeline.Reduce(ctx, o.Gateway, logger, expert.ID, req.Query, sources, style, o.Config.Retry)
	if err != nil {
		logger.Error("reduce failed, returning empty-source answer", "error", err)
		answer := o.zeroSourceAnswer(expert, start)
		o.emit(progress.Event{Kind: progress.EventExpertAnswer, ExpertID: expert.ID, Stage: PhaseComplete, Payload: answer})
		return answer, nil
	}
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseReduce})

	// main_sources and every [post:ID] citation are internal Post ids up to
	// here (Store lookups need them); idMap converts to the per-channel ids
	// the external contract uses, applied once both concurrent stages below
	// are done with the internal-id form.
	idMap := make(map[int]int, len(sources))
	for _, s := range sources {
		idMap[s.PostID] = s.Post.PerChannelMsgID
	}

	answer := model.ExpertAnswer{
		ExpertID:      expert.ID,
		ExpertName:    expert.DisplayName,
		ChannelHandle: expert.ChannelHandle,
		Confidence:    reduced.Confidence,
		PostsAnalyzed: len(verdicts),
	}

	var lcResult pipeline.LanguageCheckResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseLanguageCheck})
		lcResult = pipeline.LanguageCheck(ctx, o.Gateway, logger, expert.ID, req.Query, reduced.AnswerMarkdown)
		o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseLanguageCheck})
	}()
	if req.IncludeCommentGroups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runCommentPipeline(ctx, logger, expert, req, reduced.MainSources, &answer)
		}()
	}
	wg.Wait()

	answerMarkdown, mainSources := pipeline.RemapIDs(lcResult.Answer, reduced.MainSources, idMap)
	answer.AnswerMarkdown = answerMarkdown
	answer.MainSources = mainSources
	answer.TranslationApplied = lcResult.TranslationApplied
	answer.ProcessingTimeMS = time.Since(start).Milliseconds()
	o.emit(progress.Event{Kind: progress.EventExpertAnswer, ExpertID: expert.ID, Stage: PhaseComplete, Payload: answer})
	return answer, nil
}

func (o *Orchestrator) runCommentPipeline(ctx context.Context, logger *slog.Logger, expert model.Expert, req Request, mainSources []int, answer *model.ExpertAnswer) {
	var cutoff *time.Time
	if req.UseRecentOnly {
		c := pipeline.RecentCutoff(time.Now().UTC(), o.Config.RecentWindowMonths)
		cutoff = &c
	}

	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseCommentGroups})
	groups, err := pipeline.CommentGroup(ctx, o.Gateway, o.Store, logger, expert.ID, expert.ChannelHandle, expert.DisplayName, req.Query, mainSources, cutoff, o.Config.CommentGroups, o.Config.Retry)
	if err != nil {
		logger.Warn("comment-group failed, omitting", "error", err)
		o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseCommentGroups})
		return
	}
	answer.CommentGroups = groups
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseCommentGroups})

	if len(groups) == 0 {
		return
	}
	o.emit(progress.Event{Kind: progress.EventStageStarted, ExpertID: expert.ID, Stage: PhaseCommentSynth})
	queryLang := pipeline.DetectLang(req.Query)
	synthesis, err := pipeline.CommentSynthesis(ctx, o.Gateway, queryLang, groups)
	if err != nil {
		logger.Warn("comment-synthesis failed, omitting", "error", err)
	} else {
		answer.CommentSynthesis = synthesis
	}
	o.emit(progress.Event{Kind: progress.EventStageCompleted, ExpertID: expert.ID, Stage: PhaseCommentSynth})
}

func (o *Orchestrator) zeroSourceAnswer(expert model.Expert, start time.Time) model.ExpertAnswer {
	return model.ExpertAnswer{
		ExpertID:         expert.ID,
		ExpertName:       expert.DisplayName,
		ChannelHandle:    expert.ChannelHandle,
		AnswerMarkdown:   "I don't have enough grounded information from my posts to answer this question.",
		MainSources:      nil,
		Confidence:       model.ConfidenceLow,
		PostsAnalyzed:    0,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
}

func (o *Orchestrator) emit(ev progress.Event) {
	if o.Bus == nil {
		return
	}
	ev.Timestamp = time.Now()
	o.Bus.Publish(ev)
}
