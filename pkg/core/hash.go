package core

import "hash/fnv"

// Hash returns the 32-bit FNV-1a hash of key.
func Hash(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

// Partition maps key onto one of numPartitions reduce partitions. The result
// is stable across processes and platforms, so every map task routes a key to
// the same reducer.
func Partition(key string, numPartitions int) int {
	if numPartitions <= 1 {
		return 0
	}
	return int(Hash(key) % uint32(numPartitions))
}
