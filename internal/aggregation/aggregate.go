// Package aggregation combines per-appraiser final prices into a single
// confidence-weighted estimate with outlier-resistant dispersion statistics.
//
// Outlier rejection only informs the reported statistics (mean, median and
// standard deviation). The weighted price always uses every appraiser's own
// weight and price.
package aggregation

import (
	"log/slog"
	"math"
	"slices"

	"github.com/ahrav/go-appraise/internal/domain"
)

// minPricesForOutliers is the smallest price set the IQR filter runs on.
const minPricesForOutliers = 3

// iqrFence is the Tukey fence multiplier.
const iqrFence = 1.5

// Aggregate normalizes confidences into weights and computes the weighted
// price and dispersion statistics over the appraisers present in both maps.
func Aggregate(prices, confidences map[string]float64) (domain.WeightTable, domain.AggregationStats) {
	logger := slog.Default().With("component", "aggregation")

	scores := make(map[string]float64, len(confidences))
	for id, c := range confidences {
		if _, ok := prices[id]; ok {
			scores[id] = c
		}
	}
	if len(scores) == 0 {
		return domain.WeightTable{}, domain.AggregationStats{}
	}

	weights := Normalize(scores)
	if sum := weights.Sum(); math.Abs(sum-1) > domain.WeightTolerance {
		factor := 1 / sum
		for id := range weights {
			weights[id] *= factor
		}
		logger.Debug("applied weight correction factor", "factor", factor, "sum", weights.Sum())
	}

	ids := weights.IDs()
	var weighted float64
	set := make([]float64, 0, len(ids))
	for _, id := range ids {
		weighted += weights[id] * prices[id]
		set = append(set, prices[id])
	}

	filtered, removed := FilterOutliers(set)
	if removed > 0 {
		logger.Info("removed price outliers from statistics", "removed", removed, "prices", len(set))
	}

	positive := filtered[:0:0]
	for _, p := range filtered {
		if p > 0 {
			positive = append(positive, p)
		}
	}

	stats := domain.AggregationStats{
		WeightedPrice:   weighted,
		MeanPrice:       Mean(positive),
		MedianPrice:     Median(positive),
		StdDev:          StdDev(positive),
		OutliersRemoved: removed,
	}
	return weights, stats
}

// Normalize turns confidence scores into weights that sum to one. Negative or
// NaN scores count as zero. When every score is zero the weights are equal.
func Normalize(confidences map[string]float64) domain.WeightTable {
	weights := make(domain.WeightTable, len(confidences))
	if len(confidences) == 0 {
		return weights
	}

	var total float64
	for _, c := range confidences {
		total += nonNegative(c)
	}

	for id, c := range confidences {
		if total > 0 {
			weights[id] = nonNegative(c) / total
		} else {
			weights[id] = 1 / float64(len(confidences))
		}
	}
	return weights
}

// FilterOutliers drops prices outside the Tukey fences [Q1-1.5·IQR, Q3+1.5·IQR]
// and returns the kept prices in input order with the number removed. Fewer
// than three prices are returned unchanged.
//
// Quartiles are read from the sorted set at the floor-divided positions
// (n-1)/4 and 3(n-1)/4 so the result is reproducible without interpolation.
func FilterOutliers(prices []float64) ([]float64, int) {
	if len(prices) < minPricesForOutliers {
		return slices.Clone(prices), 0
	}

	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	last := len(sorted) - 1
	q1, q3 := sorted[last/4], sorted[3*last/4]
	iqr := q3 - q1
	lower, upper := q1-iqrFence*iqr, q3+iqrFence*iqr

	kept := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p >= lower && p <= upper {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return slices.Clone(prices), 0
	}
	return kept, len(prices) - len(kept)
}

// Mean returns the arithmetic mean, or 0 for an empty set.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Median returns the middle value, averaging the two middle values of an even
// set, or 0 for an empty set.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// StdDev returns the sample standard deviation (n-1 denominator), or 0 for
// fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
