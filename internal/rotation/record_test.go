package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strongdm/promptwheel/internal/model"
)

func TestRecordLensScanUpdatesSectorAndScannedSet(t *testing.T) {
	sector := &model.Sector{Path: "internal/foo"}
	scanned := map[ScanKey]struct{}{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	RecordLensScan(scanned, sector, "default", now, 3)

	require.Equal(t, 1, sector.ScanCount)
	require.Equal(t, now, sector.LastScanTime)
	require.Equal(t, 3, sector.ProposalYield)
	_, ok := scanned[ScanKey{Lens: "default", Sector: "internal/foo"}]
	require.True(t, ok)
}

func TestRecordZeroYieldAddsKey(t *testing.T) {
	zero := map[ScanKey]struct{}{}
	RecordZeroYield(zero, "default", "internal/foo")
	_, ok := zero[ScanKey{Lens: "default", Sector: "internal/foo"}]
	require.True(t, ok)
}
