// Package scheduler computes mailbox sync gaps and produces search jobs,
// enforcing the one-open-job exclusivity invariant at enqueue time.
package scheduler

import (
	"time"

	"github.com/docmatch/docmatch/internal/model"
	"github.com/docmatch/docmatch/internal/service"
)

const (
	// syncBufferDays pads the desired coverage around the ledger span so
	// documents arriving just before or after the ledger edge are found.
	syncBufferDays = 7
	// emptyLedgerLookbackDays is the trailing coverage used when the
	// ledger holds no transactions at all.
	emptyLedgerLookbackDays = 90
)

// ComputeGaps returns the date sub-ranges of the desired mailbox coverage
// that the source has not synced yet. Desired coverage is the ledger span
// padded by a week on both sides, or the trailing 90 days for an empty
// ledger. At most two gaps exist: one before and one after the already
// synced window.
func ComputeGaps(source *model.Source, ledger *service.DateRange, now time.Time) []service.DateRange {
	desired := desiredCoverage(ledger, now)

	if source.SyncedDateFrom == nil || source.SyncedDateTo == nil {
		return []service.DateRange{desired}
	}

	syncedFrom := day(*source.SyncedDateFrom)
	syncedTo := day(*source.SyncedDateTo)

	var gaps []service.DateRange
	if desired.Start.Before(syncedFrom) {
		end := syncedFrom.AddDate(0, 0, -1)
		if end.After(desired.End) {
			end = desired.End
		}
		gaps = append(gaps, service.DateRange{Start: desired.Start, End: end})
	}
	if desired.End.After(syncedTo) {
		start := syncedTo.AddDate(0, 0, 1)
		if start.Before(desired.Start) {
			start = desired.Start
		}
		gaps = append(gaps, service.DateRange{Start: start, End: desired.End})
	}
	return gaps
}

// desiredCoverage is the date range the mailbox should have been scanned
// over, at day granularity.
func desiredCoverage(ledger *service.DateRange, now time.Time) service.DateRange {
	if ledger == nil || ledger.Start.IsZero() {
		return service.DateRange{
			Start: day(now).AddDate(0, 0, -emptyLedgerLookbackDays),
			End:   day(now),
		}
	}
	return service.DateRange{
		Start: day(ledger.Start).AddDate(0, 0, -syncBufferDays),
		End:   day(ledger.End).AddDate(0, 0, syncBufferDays),
	}
}

// day truncates a time to midnight UTC.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// gapJob builds the sync_range job record for one gap.
func gapJob(source *model.Source, gap service.DateRange, id string, now time.Time) *model.SearchJob {
	from := gap.Start
	to := gap.End
	return &model.SearchJob{
		ID:         id,
		Scope:      model.ScopeSyncRange,
		Status:     model.JobPending,
		SourceID:   source.ID,
		DateFrom:   &from,
		DateTo:     &to,
		MaxRetries: model.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
