package services

import (
	crand "crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// NewSeed 使用 crypto/rand 生成随机种子
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return rand.Int63()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// NewRand 创建确定性随机数生成器，seed 为 0 时使用随机种子
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = NewSeed()
	}
	return rand.New(rand.NewSource(seed))
}

// DeriveSeed 由基础种子与键派生子种子，seed 为 0 时返回 0
func DeriveSeed(seed int64, key string) int64 {
	if seed == 0 {
		return 0
	}
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seed))
	_, _ = h.Write(b[:])
	_, _ = h.Write([]byte(key))
	derived := int64(h.Sum64() &^ (1 << 63))
	if derived == 0 {
		derived = 1
	}
	return derived
}
