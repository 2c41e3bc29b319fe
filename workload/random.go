package workload

import (
	"math"
	"math/rand/v2"
)

// source is one worker's random stream.
type source struct {
	*rand.Rand
}

func newSource(seed, stream uint64) source {
	return source{rand.New(rand.NewPCG(seed, stream))}
}

// bernoulli returns true with probability p.
func (s source) bernoulli(p float64) bool {
	return s.Float64() < p
}

// index returns a uniform integer in [0, n).
func (s source) index(n int) int {
	if n <= 1 {
		return 0
	}
	return s.IntN(n)
}

// gamma samples Gamma(shape, 1) with the Marsaglia-Tsang method.
func (s source) gamma(shape float64) float64 {
	if shape < 1 {
		// Boost to shape+1 and scale down.
		return s.gamma(shape+1) * math.Pow(s.Float64(), 1/shape)
	}
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := s.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
