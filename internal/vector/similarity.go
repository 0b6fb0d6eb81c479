package vector

// CosineDistance is 1 minus the dot product of a and b, which for unit vectors
// ranges from 0 (same direction) to 2 (opposite). Mismatched lengths are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
