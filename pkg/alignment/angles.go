package alignment

import "math"

// CandidateAngles returns the rotations tried for every group, starting at
// zero and stepping by asin(1/(oversampling*r)) up to but excluding 2π. At
// that step a point at radius r moves by about one oversampled pixel.
// When oversampling*r <= 1 the step saturates at π/2.
func CandidateAngles(r, oversampling float64) []float64 {
	step := AngleStep(r, oversampling)
	angles := make([]float64, 0, int(2*math.Pi/step)+1)
	for k := 0; ; k++ {
		a := float64(k) * step
		if a >= 2*math.Pi {
			break
		}
		angles = append(angles, a)
	}
	return angles
}

// AngleStep returns the angular spacing used by CandidateAngles.
func AngleStep(r, oversampling float64) float64 {
	return math.Asin(math.Min(1, 1/(oversampling*r)))
}
