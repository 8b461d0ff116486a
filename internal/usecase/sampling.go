package usecase

// ShouldTrigger reports whether the half-open range
// (currentCount-batchSize, currentCount] contains a multiple of interval.
// currentCount is the conversation's inbound total after the batch was
// recorded, so a batch that jumps over a boundary still fires exactly once.
func ShouldTrigger(currentCount, batchSize, interval int) bool {
	if currentCount <= 0 || interval <= 0 {
		return false
	}
	prev := currentCount - batchSize
	return floorDiv(currentCount, interval) > floorDiv(prev, interval)
}

// floorDiv rounds toward negative infinity, unlike Go's / operator.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
