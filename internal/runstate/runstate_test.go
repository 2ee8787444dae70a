package runstate

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordCycleIncrementsAndRollsFormulaWindow(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.RecordFormulaTicketOutcome("default", true)
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st, err := store.RecordCycle(now)
	require.NoError(t, err)
	require.Equal(t, 1, st.TotalCycles)
	require.Equal(t, now, st.LastRunAt)
	require.Equal(t, 1, st.FormulaStats["default"].RecentCycles)
}

func TestRecordQualitySignalAggregates(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.RecordQualitySignal(true, false, true) // first-pass success
	require.NoError(t, err)
	_, err = store.RecordQualitySignal(false, true, true) // retried success
	require.NoError(t, err)
	st, err := store.RecordQualitySignal(false, false, false) // qa_fail
	require.NoError(t, err)

	// A qa_fail is not a completed ticket, so it doesn't join the
	// totalTickets denominator — only the two completed tickets do.
	require.Equal(t, 2, st.QualitySignals.TotalTickets)
	require.Equal(t, 1, st.QualitySignals.FirstPassSuccess)
	require.Equal(t, 1, st.QualitySignals.RetriedSuccess)
	require.Equal(t, 2, st.QualitySignals.QAPassed)
	require.Equal(t, 1, st.QualitySignals.QAFailed)
}

func TestGetQualityRateMatchesSpecScenario(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < 8; i++ {
		_, err := store.RecordQualitySignal(true, false, true)
		require.NoError(t, err)
	}
	_, err := store.RecordQualitySignal(false, true, true)
	require.NoError(t, err)
	_, err = store.RecordQualitySignal(false, false, false)
	require.NoError(t, err)

	rate, err := store.GetQualityRate()
	require.NoError(t, err)
	require.InDelta(t, 8.0/9.0, rate, 1e-9)
}

func TestGetQualityRateIsZeroWithNoSignals(t *testing.T) {
	store := NewStore(t.TempDir())
	rate, err := store.GetQualityRate()
	require.NoError(t, err)
	require.Equal(t, 0.0, rate)
}

func TestDeferAndPopProposalsByScope(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.DeferProposal("src/a", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	_, err = store.DeferProposal("src/b", json.RawMessage(`{"x":2}`))
	require.NoError(t, err)

	popped, err := store.PopDeferredForScope("src/a")
	require.NoError(t, err)
	require.Len(t, popped, 1)

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.DeferredProposals, 1)
	require.Equal(t, "src/b", st.DeferredProposals[0].Scope)
}

func TestDeferredProposalsAreCapped(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < maxDeferredProposals+10; i++ {
		_, err := store.DeferProposal("scope", nil)
		require.NoError(t, err)
	}
	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.DeferredProposals, maxDeferredProposals)
}

func TestPushRecentDiffRingBufferCap(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < recentDiffsCap+5; i++ {
		_, err := store.PushRecentDiff("diff")
		require.NoError(t, err)
	}
	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.RecentDiffs, recentDiffsCap)
}

func TestMutateIsConcurrencySafe(t *testing.T) {
	store := NewStore(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordFormulaTicketOutcome("default", true)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 50, st.FormulaStats["default"].TicketsTotal)
}

func TestLoadOnFreshRepoReturnsEmptyState(t *testing.T) {
	store := NewStore(t.TempDir())
	st, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 0, st.TotalCycles)
	require.NotNil(t, st.FormulaStats)
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store1 := NewStore(dir)
	_, err := store1.RecordFormulaTicketOutcome("default", true)
	require.NoError(t, err)

	store2 := &Store{Path: filepath.Join(dir, ".promptwheel", "run-state.json")}
	st, err := store2.Load()
	require.NoError(t, err)
	require.Equal(t, 1, st.FormulaStats["default"].TicketsTotal)
}
