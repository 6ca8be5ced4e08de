package genomic

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// === SeedKey ===

// SeedKey uniquely identifies a reproducible run. Two runs with the same
// SeedKey and identical inputs MUST produce bit-for-bit identical results.
type SeedKey int64

// NewSeedKey creates a SeedKey from a seed value. A seed of -1 is replaced by
// a value derived from the wall clock.
func NewSeedKey(seed int64) SeedKey {
	return SeedKey(ResolveSeed(seed))
}

// ResolveSeed returns seed unchanged unless it is -1, in which case the
// current wall-clock time in nanoseconds is used.
func ResolveSeed(seed int64) int64 {
	if seed == -1 {
		return time.Now().UnixNano()
	}
	return seed
}

// === Subsystem Constants ===

const (
	// SubsystemGenotypes is the RNG subsystem for simulated genotype panels.
	SubsystemGenotypes = "genotypes"

	// SubsystemPhenotypes is the RNG subsystem for simulated phenotypes.
	SubsystemPhenotypes = "phenotypes"
)

// SubsystemChain returns the subsystem name for MCMC chain id.
func SubsystemChain(id int) string {
	return fmt.Sprintf("chain_%d", id)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation: each subsystem gets a PCG stream seeded with
// (masterSeed, fnv1a64(subsystemName)), so streams are independent of the
// order in which subsystems are requested.
//
// Thread-safety: NOT thread-safe. Derive every stream from a single goroutine
// and hand each *rand.Rand to exactly one consumer.
type PartitionedRNG struct {
	key        SeedKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SeedKey.
func NewPartitionedRNG(key SeedKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewPCG(uint64(p.key), fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// ForChain returns the RNG for MCMC chain id.
func (p *PartitionedRNG) ForChain(id int) *rand.Rand {
	return p.ForSubsystem(SubsystemChain(id))
}

// Key returns the SeedKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SeedKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
