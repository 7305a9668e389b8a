package evaluation

import (
	"time"

	"github.com/google/uuid"
)

// Score-distribution bucket labels, highest first.
var bucketLabels = []string{"90-100", "80-89", "70-79", "60-69", "0-59"}

func bucketFor(score int) string {
	switch {
	case score >= 90:
		return "90-100"
	case score >= 80:
		return "80-89"
	case score >= 70:
		return "70-79"
	case score >= 60:
		return "60-69"
	default:
		return "0-59"
	}
}

// BuildSummary reduces worker results into one Summary. Every requested model
// gets exactly one perModel entry; error variants resolve to zero-score
// outcomes. Buckets and tag frequencies are computed over each model's best
// (or only) result.
func BuildSummary(req Request, results []ModelResult, start, end time.Time) *Summary {
	summary := &Summary{
		ID:                 uuid.NewString(),
		TotalModels:        len(req.Models),
		ExecutionCount:     req.ExecutionCount,
		EnableOptimization: req.EnableOptimization,
		PerModel:           make(map[string]*ModelOutcome, len(results)),
		ScoreBuckets:       make(map[string]int, len(bucketLabels)),
		TagFrequency:       make(map[string]int),
		StartTime:          start,
		EndTime:            end,
		TotalDurationMs:    end.Sub(start).Milliseconds(),
	}
	for _, label := range bucketLabels {
		summary.ScoreBuckets[label] = 0
	}

	for _, result := range results {
		outcome := result.Resolve()
		summary.PerModel[result.Model] = outcome

		score := outcome.Score
		tags := outcome.Tags
		if outcome.BestResult != nil {
			score = outcome.BestResult.Score
			tags = outcome.BestResult.Tags
		}
		summary.ScoreBuckets[bucketFor(score)]++
		for _, tag := range tags {
			if tag == "" {
				continue
			}
			summary.TagFrequency[tag]++
		}
	}

	return summary
}
