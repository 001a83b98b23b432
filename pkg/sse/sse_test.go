package sse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shao3d/Experts-panel-sub000/pkg/progress"
)

func TestWriteEventProducesDataLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	err := enc.WriteEvent(progress.Event{Kind: progress.EventStageStarted, Stage: "map", ExpertID: "e1"})
	require.NoError(t, err)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "data: "))
	require.Contains(t, out, `"phase":"map"`)
	require.Contains(t, out, `"status":"started"`)
	require.Contains(t, out, `"expert_id":"e1"`)
	require.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestWriteKeepaliveIsPaddedToAtLeast2KB(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteKeepalive())
	require.GreaterOrEqual(t, buf.Len(), 2048)
	require.True(t, strings.HasPrefix(buf.String(), ":keepalive"))
}

func TestCompleteEventUsesCompletePhase(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteEvent(progress.Event{Kind: progress.EventRequestDone}))
	require.Contains(t, buf.String(), `"phase":"complete"`)
}
