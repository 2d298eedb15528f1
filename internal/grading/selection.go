package grading

import (
	"sort"

	"github.com/pavelanni/grader/internal/model"
)

// Select returns the graded results that count toward the total under policy.
// A nil policy keeps everything. Per-group quotas come first, in policy order,
// each keeping its best answers by adjusted score; pooled groups follow in
// descending order of their summed score, each with all of its answers in
// original order. Ties keep original order.
func Select(results []model.GradedResult, policy *model.SelectionPolicy) []model.GradedResult {
	idx := SelectIndices(results, policy)
	selected := make([]model.GradedResult, 0, len(idx))
	for _, i := range idx {
		selected = append(selected, results[i])
	}
	return selected
}

// SelectIndices is Select returning positions in results instead of copies.
func SelectIndices(results []model.GradedResult, policy *model.SelectionPolicy) []int {
	if policy == nil {
		all := make([]int, len(results))
		for i := range results {
			all[i] = i
		}
		return all
	}

	groups := make(map[string][]int)
	for i, r := range results {
		groups[r.Group()] = append(groups[r.Group()], i)
	}

	var selected []int
	for _, q := range policy.PerGroup {
		selected = append(selected, topN(results, groups[q.Group], q.Keep)...)
	}

	if p := policy.Pooled; p != nil {
		type groupSum struct {
			group string
			sum   float64
		}
		var sums []groupSum
		for _, g := range p.Groups {
			members, ok := groups[g]
			if !ok {
				continue
			}
			sums = append(sums, groupSum{group: g, sum: sumObtained(results, members)})
		}
		sort.SliceStable(sums, func(i, j int) bool {
			return sums[i].sum > sums[j].sum
		})
		if len(sums) > p.KeepGroups {
			sums = sums[:p.KeepGroups]
		}
		for _, gs := range sums {
			selected = append(selected, groups[gs.group]...)
		}
	}

	return selected
}

func topN(results []model.GradedResult, members []int, n int) []int {
	sorted := append([]int(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return results[sorted[i]].Obtained > results[sorted[j]].Obtained
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func sumObtained(results []model.GradedResult, members []int) float64 {
	var total float64
	for _, i := range members {
		total += results[i].Obtained
	}
	return total
}
