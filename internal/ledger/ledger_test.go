package ledger

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func TestPutAndGetArtifactByRunID(t *testing.T) {
	l := New(t.TempDir())

	art, err := l.PutJSONArtifact("run-1", model.ArtifactProposals, map[string]any{"count": 3})
	require.NoError(t, err)
	require.Equal(t, "run-1.json", art.Name)

	got, ok, err := l.GetArtifactByRunID("run-1", model.ArtifactProposals)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"count":3}`, string(got.Content))
}

func TestGetArtifactByRunIDMissing(t *testing.T) {
	l := New(t.TempDir())
	_, ok, err := l.GetArtifactByRunID("does-not-exist", model.ArtifactSpindle)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListArtifactsSortsRunIDs(t *testing.T) {
	l := New(t.TempDir())
	for _, id := range []string{"run-b", "run-a", "run-c"} {
		_, err := l.PutArtifact(id, model.ArtifactExecutions, []byte(`{}`))
		require.NoError(t, err)
	}
	ids, err := l.ListArtifacts(model.ArtifactExecutions)
	require.NoError(t, err)
	require.Equal(t, []string{"run-a", "run-b", "run-c"}, ids)
}

func TestAppendAndReadHistoryNewestFirst(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.AppendHistory(map[string]any{"seq": 1}))
	require.NoError(t, l.AppendHistory(map[string]any{"seq": 2}))
	require.NoError(t, l.AppendHistory(map[string]any{"seq": 3}))

	records, err := ReadHistory(l, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal(records[0], &first))
	require.Equal(t, float64(3), first["seq"])
}

func TestReadHistoryToleratesMalformedLines(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.AppendHistory(map[string]any{"seq": 1}))

	f, err := os.OpenFile(l.historyPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, l.AppendHistory(map[string]any{"seq": 2}))

	records, err := ReadHistory(l, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestReadHistoryRespectsLimit(t *testing.T) {
	l := New(t.TempDir())
	for i := 0; i < 5; i++ {
		require.NoError(t, l.AppendHistory(map[string]any{"seq": i}))
	}
	records, err := ReadHistory(l, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(records[0], &first))
	require.Equal(t, float64(4), first["seq"])
}
