package goal

import "math"

// Milestone thresholds, in percent.
var MilestoneThresholds = []int{25, 50, 75, 100}

// Progress blends task completion with elapsed time. With tasks the
// split is 70/30 task/time; without tasks it is time alone.
func Progress(completed, total int, createdAt, deadline, now int64) int {
	taskScore := 0.0
	if total > 0 {
		taskScore = float64(completed) / float64(total)
	}
	timeScore := 0.0
	if deadline > createdAt {
		timeScore = float64(now-createdAt) / float64(deadline-createdAt)
		timeScore = math.Min(math.Max(timeScore, 0), 1)
	}
	if total > 0 {
		return int(math.Round(100 * (0.7*taskScore + 0.3*timeScore)))
	}
	return int(math.Round(100 * timeScore))
}

// Milestones returns the thresholds reached at progress.
func Milestones(progress int) []int {
	var achieved []int
	for _, t := range MilestoneThresholds {
		if progress >= t {
			achieved = append(achieved, t)
		}
	}
	return achieved
}
