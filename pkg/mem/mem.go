// Package mem provides a fixed tier block allocator. All blocks are
// reserved by Init, allocation never grows the pool.
package mem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNoMemory indicates no free block is large enough.
	ErrNoMemory = errors.New("no memory")
	// ErrNotInitialized indicates Init was not called.
	ErrNotInitialized = errors.New("allocator not initialized")
	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("allocator already initialized")
	// ErrInvalidConfig indicates bad tier configuration.
	ErrInvalidConfig = errors.New("invalid tier config")
	// ErrBadFree indicates a block not owned by the allocator.
	ErrBadFree = errors.New("block not allocated")
)

// Tier is a group of blocks of the same size.
type Tier struct {
	Size  int `yaml:"size"`
	Count int `yaml:"count"`
}

// Config defines the tiers.
type Config struct {
	Tiers []Tier `yaml:"tiers"`
}

// DefaultConfig returns small, medium and large tiers.
func DefaultConfig() Config {
	return Config{Tiers: []Tier{
		{Size: 32, Count: 4},
		{Size: 256, Count: 4},
		{Size: 1024, Count: 1},
	}}
}

// Block is an allocated block.
type Block struct {
	Data []byte

	tier  int
	index int
}

// Stats reports usage of a tier.
type Stats struct {
	Size  int
	Count int
	InUse int
	Peak  int
}

type tier struct {
	size  int
	store []byte
	free  []int
	used  []bool
	peak  int
}

// Allocator hands out fixed size blocks.
type Allocator struct {
	Config Config

	lock  sync.Mutex
	tiers []*tier
}

// New creates an Allocator.
func New(conf Config) *Allocator {
	return &Allocator{Config: conf}
}

// Init validates the configuration and reserves all blocks.
func (a *Allocator) Init() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.tiers != nil {
		return ErrAlreadyInitialized
	}
	if len(a.Config.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidConfig)
	}
	tiersConf := append([]Tier(nil), a.Config.Tiers...)
	sort.SliceStable(tiersConf, func(i, j int) bool { return tiersConf[i].Size < tiersConf[j].Size })
	tiers := make([]*tier, 0, len(tiersConf))
	for n, tc := range tiersConf {
		if tc.Size <= 0 || tc.Count <= 0 {
			return fmt.Errorf("%w: tier %d size %d count %d", ErrInvalidConfig, n, tc.Size, tc.Count)
		}
		if n > 0 && tiersConf[n-1].Size == tc.Size {
			return fmt.Errorf("%w: duplicated size %d", ErrInvalidConfig, tc.Size)
		}
		t := &tier{
			size:  tc.Size,
			store: make([]byte, tc.Size*tc.Count),
			free:  make([]int, tc.Count),
			used:  make([]bool, tc.Count),
		}
		for i := range t.free {
			t.free[i] = tc.Count - 1 - i
		}
		tiers = append(tiers, t)
	}
	a.tiers = tiers
	return nil
}

// Alloc returns a block of at least size bytes from the smallest tier
// with a free block.
func (a *Allocator) Alloc(size int) (*Block, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.tiers == nil {
		return nil, ErrNotInitialized
	}
	for n, t := range a.tiers {
		if t.size < size || len(t.free) == 0 {
			continue
		}
		index := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.used[index] = true
		if inUse := len(t.used) - len(t.free); inUse > t.peak {
			t.peak = inUse
		}
		data := t.store[index*t.size : (index+1)*t.size : (index+1)*t.size]
		for i := range data {
			data[i] = 0
		}
		return &Block{Data: data[:size], tier: n, index: index}, nil
	}
	return nil, fmt.Errorf("alloc %d bytes: %w", size, ErrNoMemory)
}

// Free returns a block to its tier.
func (a *Allocator) Free(b *Block) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.tiers == nil {
		return ErrNotInitialized
	}
	if b == nil || b.tier < 0 || b.tier >= len(a.tiers) {
		return ErrBadFree
	}
	t := a.tiers[b.tier]
	if b.index < 0 || b.index >= len(t.used) || !t.used[b.index] {
		return ErrBadFree
	}
	t.used[b.index] = false
	t.free = append(t.free, b.index)
	b.Data = nil
	return nil
}

// Stats returns usage of all tiers ordered by block size.
func (a *Allocator) Stats() []Stats {
	a.lock.Lock()
	defer a.lock.Unlock()
	stats := make([]Stats, 0, len(a.tiers))
	for _, t := range a.tiers {
		stats = append(stats, Stats{
			Size:  t.size,
			Count: len(t.used),
			InUse: len(t.used) - len(t.free),
			Peak:  t.peak,
		})
	}
	return stats
}
