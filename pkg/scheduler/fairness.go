package scheduler

import (
	"math"
	"sort"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Ranked is a candidate with its fairness input
type Ranked struct {
	Candidate
	// Workload is the user's weighted weeks in the shift's category,
	// including proposals not yet confirmed
	Workload float64
}

// Rank orders eligible candidates for a category, highest priority first:
// fewest weighted weeks, then higher proficiency, then certification, then
// user id. Any workload difference, however small, outranks the
// tie-breaks. With weight 0 the category is fairness-neutral and only the
// tie-breaks apply. The function is pure.
func Rank(cands []Candidate, weight float64, workload func(userID string) float64) []Ranked {
	out := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		r := Ranked{Candidate: c}
		if weight > 0 && workload != nil {
			r.Workload = workload(c.User.ID)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Workload-b.Workload) > 1e-9 {
			return a.Workload < b.Workload
		}
		if a.Proficiency != b.Proficiency {
			return a.Proficiency > b.Proficiency
		}
		if a.Certified != b.Certified {
			return a.Certified
		}
		return a.User.ID < b.User.ID
	})
	return out
}

// FairnessScore returns a percentage (0-100) representing how evenly
// weighted weeks are spread. 100% means every user carries the same load.
func FairnessScore(loads []float64) float64 {
	if len(loads) == 0 {
		return 100.0
	}

	var sum float64
	for _, l := range loads {
		sum += l
	}
	if sum == 0 {
		return 100.0
	}
	mean := sum / float64(len(loads))

	var varianceSum float64
	for _, l := range loads {
		diff := l - mean
		varianceSum += diff * diff
	}
	stdDev := math.Sqrt(varianceSum / float64(len(loads)))

	score := (1.0 - (stdDev / mean)) * 100.0
	if score < 0 {
		return 0.0
	}
	return score
}

// categoryFairness scores the spread of weighted weeks per category over the
// given users
func categoryFairness(users map[string]*models.User, ledger *Ledger, categories []models.Category, pending func(string, models.Category) float64) map[models.Category]float64 {
	out := make(map[models.Category]float64, len(categories))
	for _, cat := range categories {
		loads := make([]float64, 0, len(users))
		for id := range users {
			loads = append(loads, ledger.Read(id, cat).Weeks+pending(id, cat))
		}
		out[cat] = FairnessScore(loads)
	}
	return out
}
