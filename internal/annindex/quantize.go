package annindex

import "math"

// scalarQuantizer is an optional internal candidate-ranking optimization,
// adapted from a scalar (min/max range, int8) quantization scheme: it
// speeds up the graph-internal distance comparisons made while walking
// layers, but it is never the source of a result's final score. Final
// scores in Search are always recomputed against the full-precision
// vectors recorded on the node, so attaching or detaching a quantizer
// cannot change query results, only their cost.
type scalarQuantizer struct {
	min, max []float32
	trained  bool
}

func newScalarQuantizer(dim int) *scalarQuantizer {
	return &scalarQuantizer{min: make([]float32, dim), max: make([]float32, dim)}
}

// train derives per-dimension min/max ranges from a sample of vectors.
func (q *scalarQuantizer) train(samples [][]float32) {
	if len(samples) == 0 {
		return
	}
	dim := len(samples[0])
	q.min = make([]float32, dim)
	q.max = make([]float32, dim)
	copy(q.min, samples[0])
	copy(q.max, samples[0])
	for _, v := range samples[1:] {
		for i, x := range v {
			if x < q.min[i] {
				q.min[i] = x
			}
			if x > q.max[i] {
				q.max[i] = x
			}
		}
	}
	q.trained = true
}

func (q *scalarQuantizer) encode(vector []float32) []int8 {
	out := make([]int8, len(vector))
	for i, x := range vector {
		span := q.max[i] - q.min[i]
		if span == 0 {
			out[i] = 0
			continue
		}
		norm := (x - q.min[i]) / span // 0..1
		out[i] = int8(math.Round(float64(norm)*255 - 128))
	}
	return out
}

func (q *scalarQuantizer) decode(codes []int8) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		span := q.max[i] - q.min[i]
		norm := (float32(c) + 128) / 255
		out[i] = q.min[i] + norm*span
	}
	return out
}

// approxDistance computes a distance estimate between two quantized codes
// by dequantizing both sides and applying the metric's full distance
// function to the reconstructions.
func (q *scalarQuantizer) approxDistance(m Metric, a, b []int8) float32 {
	return distanceFor(m)(q.decode(a), q.decode(b))
}
