package schedule

// CalculateTotalCalls returns how many calls fit in [start, end):
//
//	floor((end - start) / (duration + gap)) * batchNumber
//
// An empty or inverted window, a non-positive slot, or a non-positive batch
// size all yield 0. The result is never negative.
func CalculateTotalCalls(start, end, duration, gap int64, batchNumber int) int64 {
	window := end - start
	slot := duration + gap
	if window <= 0 || slot <= 0 || batchNumber <= 0 {
		return 0
	}
	return (window / slot) * int64(batchNumber)
}
