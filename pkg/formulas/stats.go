package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CalculateReturns converts a capital series to fractional period returns.
// Returns[i] = (Series[i] - Series[i-1]) / Series[i-1]
func CalculateReturns(series []float64) []float64 {
	if len(series) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			returns[i-1] = (series[i] - series[i-1]) / series[i-1]
		}
	}

	return returns
}

// MaxDrawdown calculates the largest peak-to-trough decline of a
// capital series as a fraction of the peak. Result is >= 0.
func MaxDrawdown(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}

	peak := series[0]
	maxDD := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			maxDD = math.Max(maxDD, dd)
		}
	}
	return maxDD
}
