package grading

import "math"

// Score returns round(100 * correct / max(1, total)), clamped to [0, 100].
// The denominator is the size of the sampled set, so unanswered questions
// count against the user.
func Score(correct, total int) int {
	if total < 1 {
		total = 1
	}
	if correct < 0 {
		correct = 0
	}
	pct := int(math.Round(100 * float64(correct) / float64(total)))
	if pct > 100 {
		return 100
	}
	return pct
}

// CountCorrect counts true entries.
func CountCorrect(results []bool) int {
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}
