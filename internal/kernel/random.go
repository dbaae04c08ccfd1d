package kernel

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"popgenval/internal/model"
)

// Each seed gets its own PCG stream; the second PCG word is a fixed
// odd constant so equal seeds in the two families still differ.
func newSource(seed uint32, stream uint64) rand.Source {
	return rand.NewPCG(uint64(seed), stream)
}

const (
	ancestryStream = 0x9e3779b97f4a7c15
	forwardStream  = 0xbf58476d1ce4e5b9
)

func ancestrySource(seeds model.SeedPair) rand.Source {
	return newSource(seeds.Ancestry, ancestryStream)
}

func forwardSource(seeds model.SeedPair) rand.Source {
	return newSource(seeds.Forward, forwardStream)
}

func binomial(src rand.Source, n int, p float64) int {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	}
	return int(distuv.Binomial{N: float64(n), P: p, Src: src}.Rand())
}

func poisson(src rand.Source, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	return int(distuv.Poisson{Lambda: lambda, Src: src}.Rand())
}
