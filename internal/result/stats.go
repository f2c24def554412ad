package result

import "math"

type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Average   int `json:"average"`
	Poor      int `json:"poor"`
}

type Statistics struct {
	Participants      int            `json:"participants"`
	ByStatus          map[Status]int `json:"by_status"`
	Published         int            `json:"published"`
	AveragePercentage float64        `json:"average_percentage"`
	MaxPercentage     float64        `json:"max_percentage"`
	MinPercentage     float64        `json:"min_percentage"`
	Distribution      Distribution   `json:"distribution"`
}

// ComputeStatistics folds a session's results. Percentage figures and the
// distribution only count published results.
func ComputeStatistics(results []Result) Statistics {
	out := Statistics{
		Participants: len(results),
		ByStatus:     make(map[Status]int, len(Statuses)),
	}
	for _, st := range Statuses {
		out.ByStatus[st] = 0
	}

	var sum float64
	for _, r := range results {
		out.ByStatus[r.Status]++
		if r.Status != StatusPublished {
			continue
		}
		if out.Published == 0 || r.Percentage > out.MaxPercentage {
			out.MaxPercentage = r.Percentage
		}
		if out.Published == 0 || r.Percentage < out.MinPercentage {
			out.MinPercentage = r.Percentage
		}
		out.Published++
		sum += r.Percentage

		switch {
		case r.Percentage >= 90:
			out.Distribution.Excellent++
		case r.Percentage >= 80:
			out.Distribution.Good++
		case r.Percentage >= 60:
			out.Distribution.Average++
		default:
			out.Distribution.Poor++
		}
	}
	if out.Published > 0 {
		out.AveragePercentage = math.Round(sum/float64(out.Published)*100) / 100
	}
	return out
}
