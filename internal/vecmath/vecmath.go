// Package vecmath holds the small amount of float32 vector arithmetic shared
// by the chunker and the index.
package vecmath

import "math"

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Mean averages equally sized vectors. Vectors of another length are skipped.
func Mean(vs ...[]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	out := make([]float32, dim)
	n := 0
	for _, v := range vs {
		if len(v) != dim {
			continue
		}
		for i := range v {
			out[i] += v[i]
		}
		n++
	}
	for i := range out {
		out[i] /= float32(n)
	}
	return out
}
