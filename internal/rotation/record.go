package rotation

import (
	"time"

	"github.com/strongdm/promptwheel/internal/model"
)

// RecordLensScan marks (lens, sector) as scanned and updates the sector's
// scan-count, last-scan-time, and proposal-yield (spec §4.C13
// "record_lens_scan updates (lens, sector) -> 'scanned' set").
func RecordLensScan(scanned map[ScanKey]struct{}, sector *model.Sector, lens string, now time.Time, proposalsFound int) {
	scanned[ScanKey{Lens: lens, Sector: sector.Path}] = struct{}{}
	sector.ScanCount++
	sector.LastScanTime = now
	sector.ProposalYield += proposalsFound
}

// RecordZeroYield adds (lens, sector) to the zero-yield set when a scan
// produced no proposals (spec §4.C13 "record_zero_yield adds to the
// zero-yield set when a scan produced 0 proposals").
func RecordZeroYield(zeroYield map[ScanKey]struct{}, lens, sectorPath string) {
	zeroYield[ScanKey{Lens: lens, Sector: sectorPath}] = struct{}{}
}
