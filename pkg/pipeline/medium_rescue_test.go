package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/config"
	"github.com/shao3d/Experts-panel-sub000/pkg/model"
)

func TestMediumRescueThresholdAndTopK(t *testing.T) {
	// Scenario S3: scores {0.91, 0.83, 0.78, 0.71, 0.65}; defaults tau=0.7,
	// K=5 -> top 4 selected, not 5, because only four cross threshold.
	resp := `[
		{"post_id":1,"score":0.91,"reason":"a"},
		{"post_id":2,"score":0.83,"reason":"b"},
		{"post_id":3,"score":0.78,"reason":"c"},
		{"post_id":4,"score":0.71,"reason":"d"},
		{"post_id":5,"score":0.65,"reason":"e"}
	]`
	gw := newTestGateway(t, config.ModelTagMediumScoring, resp)

	posts := make(map[int]model.Post)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		posts[i] = model.Post{ID: i, AuthoredAt: base.Add(time.Duration(i) * time.Hour)}
	}

	cfg := config.MediumRescueConfig{}
	cfg.SetDefaults()
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()

	scored := MediumRescue(context.Background(), gw, testLogger(), "e1", "q", posts, cfg, retryCfg)
	require.Len(t, scored, 4)
	for _, s := range scored {
		require.NotEqual(t, 5, s.PostID)
	}
}

func TestMediumRescueDegradesToEmptyOnFailure(t *testing.T) {
	gw := newTestGateway(t, config.ModelTagMediumScoring, `not json`)
	posts := map[int]model.Post{1: {ID: 1, AuthoredAt: time.Now()}}
	cfg := config.MediumRescueConfig{}
	cfg.SetDefaults()
	retryCfg := config.RetryConfig{}
	retryCfg.SetDefaults()
	retryCfg.StageMaxAttempts = 1
	retryCfg.StageMinDelay = time.Millisecond

	scored := MediumRescue(context.Background(), gw, testLogger(), "e1", "q", posts, cfg, retryCfg)
	require.Empty(t, scored)
}
