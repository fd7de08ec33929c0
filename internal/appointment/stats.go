package appointment

// ComputeStats folds per-status ledger counts into BookingStats. Total is the sum of
// the per-status counts, so it always equals the number of ledger rows counted.
func ComputeStats(counts map[BookingStatus]int64) BookingStats {
	stats := BookingStats{
		Confirmed: counts[StatusConfirmed],
		Pending:   counts[StatusPending],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],
	}
	stats.Total = stats.Confirmed + stats.Pending + stats.Failed + stats.Cancelled
	return stats
}
