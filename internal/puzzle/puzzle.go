// Copyright (c) 2020 Larry Ruane
// Distributed under the MIT software license, see
// https://www.opensource.org/licenses/mit-license.php.

// Package puzzle implements the network's proof-of-work puzzle: a pure,
// cheap affine map over a fixed prime field. It is intentionally not a
// cryptographic hash — every round's target must be invertible by a plain
// linear scan, by construction.
package puzzle

import "math/rand"

const (
	// Prime bounds the search domain [0, Prime) that every round scans.
	Prime int64 = 99_997_669
	bigX  int64 = 435_679_812
	bigY  int64 = 100_001_819
)

// Hash is h(x) = (x*X + Y) mod Prime. It is total and pure: every x in
// [0, Prime) maps to some value in [0, Prime), and distinct x map to
// distinct h(x) (X is coprime with Prime), so Hash is a bijection over the
// field. That means every target has exactly one preimage in the domain.
func Hash(x int64) int64 {
	return (x*bigX + bigY) % Prime
}

// RandomTarget samples a target uniformly from [0, Prime) using r. The
// caller controls seeding (see internal/peer for the founder's seed
// policy); this package has no wall-clock or global RNG state of its own.
func RandomTarget(r *rand.Rand) int64 {
	return r.Int63n(Prime)
}
