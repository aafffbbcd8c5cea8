package pipeline

import "math"

// StandardScaler standardizes numeric columns to zero mean and unit variance
// using statistics captured at fit time.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(rows [][]float64) StandardScaler {
	if len(rows) == 0 {
		return StandardScaler{}
	}
	width := len(rows[0])
	s := StandardScaler{Mean: make([]float64, width), Std: make([]float64, width)}

	for _, row := range rows {
		for c := 0; c < width; c++ {
			s.Mean[c] += row[c]
		}
	}
	n := float64(len(rows))
	for c := range s.Mean {
		s.Mean[c] /= n
	}

	for _, row := range rows {
		for c := 0; c < width; c++ {
			d := row[c] - s.Mean[c]
			s.Std[c] += d * d
		}
	}
	for c := range s.Std {
		s.Std[c] = math.Sqrt(s.Std[c] / n)
	}
	return s
}

// Width is the number of columns the scaler was fitted on.
func (s StandardScaler) Width() int {
	return len(s.Mean)
}

// Transform standardizes one row. Zero-variance columns are only centered.
func (s StandardScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for c, v := range row {
		if c >= len(s.Mean) {
			out[c] = v
			continue
		}
		std := s.Std[c]
		if std == 0 {
			std = 1
		}
		out[c] = (v - s.Mean[c]) / std
	}
	return out
}
