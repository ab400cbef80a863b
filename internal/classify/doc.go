// Package classify routes tiles into nucleus-count buckets.
//
// The output root holds one directory per bucket ("0", "1-10", "11-100",
// "100+"). A bucket directory is created the first time a tile lands in it.
// Creation is idempotent, so concurrent workers may race on the first tile of
// a bucket without failing.
package classify
