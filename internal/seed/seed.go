// Package seed issues per-replicate random seeds that never repeat within a
// session.
package seed

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"popgenval/internal/model"
)

var ErrExhausted = errors.New("seed value space exhausted")

const (
	ModeSequence  = "sequence"
	ModeRejection = "rejection"
)

type Allocator interface {
	Next() (uint32, error)
}

// Allocate draws n values from a. Uniqueness is the allocator's guarantee.
func Allocate(a Allocator, n int) ([]uint32, error) {
	if n < 0 {
		return nil, fmt.Errorf("seed count must be >= 0, got %d", n)
	}
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		v, err := a.Next()
		if err != nil {
			return nil, fmt.Errorf("allocate seed %d of %d: %w", i+1, n, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Pairs draws n ancestry seeds and n forward seeds from two independent
// families.
func Pairs(ancestry, forward Allocator, n int) ([]model.SeedPair, error) {
	a, err := Allocate(ancestry, n)
	if err != nil {
		return nil, fmt.Errorf("ancestry seeds: %w", err)
	}
	f, err := Allocate(forward, n)
	if err != nil {
		return nil, fmt.Errorf("forward seeds: %w", err)
	}
	pairs := make([]model.SeedPair, n)
	for i := range pairs {
		pairs[i] = model.SeedPair{Ancestry: a[i], Forward: f[i]}
	}
	return pairs, nil
}

// New builds an allocator for mode. key seeds both the permutation key of a
// sequence and the source of a rejection sampler.
func New(mode string, key uint64) (Allocator, error) {
	switch mode {
	case "", ModeSequence:
		return NewSequence(key), nil
	case ModeRejection:
		return NewRejection(rand.NewPCG(key, splitmix(key)), 0), nil
	default:
		return nil, fmt.Errorf("unsupported seed mode: %s", mode)
	}
}

// Families returns the ancestry and forward allocators of one run. Both are
// derived from key, so a run is reproduced by reusing it.
func Families(mode string, key uint64) (Allocator, Allocator, error) {
	ancestry, err := New(mode, key)
	if err != nil {
		return nil, nil, err
	}
	forward, err := New(mode, splitmix(key^0xd1b54a32d192ed03))
	if err != nil {
		return nil, nil, err
	}
	return ancestry, forward, nil
}

// RandomKey returns a key read from the operating system's entropy source.
func RandomKey() (uint64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("read random key: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Rejection draws uniformly from [0, space) and redraws on collision with
// any value it has already issued.
type Rejection struct {
	mu    sync.Mutex
	rng   *rand.Rand
	space uint32
	used  map[uint32]struct{}
}

// NewRejection uses space values, or [0, MaxUint32) when space is 0.
func NewRejection(src rand.Source, space uint32) *Rejection {
	if space == 0 {
		space = math.MaxUint32
	}
	return &Rejection{
		rng:   rand.New(src),
		space: space,
		used:  make(map[uint32]struct{}),
	}
}

func (r *Rejection) Next() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint64(len(r.used)) >= uint64(r.space) {
		return 0, ErrExhausted
	}
	v := r.rng.Uint32N(r.space)
	for {
		if _, seen := r.used[v]; !seen {
			break
		}
		v = r.rng.Uint32N(r.space)
	}
	r.used[v] = struct{}{}
	return v, nil
}

// Issued reports how many values have been handed out.
func (r *Rejection) Issued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.used)
}

const feistelRounds = 4

// Sequence maps a counter through a keyed Feistel permutation of the 32-bit
// space. Distinct counters give distinct outputs, so no value repeats until
// all 2^32 have been issued.
type Sequence struct {
	mu      sync.Mutex
	keys    [feistelRounds]uint32
	counter uint64
}

func NewSequence(key uint64) *Sequence {
	s := &Sequence{}
	state := key
	for i := range s.keys {
		state = splitmix(state)
		s.keys[i] = uint32(state >> 32)
	}
	return s
}

func (s *Sequence) Next() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counter > math.MaxUint32 {
		return 0, ErrExhausted
	}
	v := s.permute(uint32(s.counter))
	s.counter++
	return v, nil
}

func (s *Sequence) permute(x uint32) uint32 {
	left, right := uint16(x>>16), uint16(x)
	for _, k := range s.keys {
		left, right = right, left^round(right, k)
	}
	return uint32(left)<<16 | uint32(right)
}

func round(half uint16, key uint32) uint16 {
	v := uint32(half) ^ key
	v ^= v >> 15
	v *= 0x2c1b3c6d
	v ^= v >> 12
	v *= 0x297a2d39
	v ^= v >> 15
	return uint16(v)
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
