// Package datagen creates seeded random arrow arrays. The same seed always
// produces the same array.
package datagen

import (
	"math/rand"

	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Float32Array returns size values in [0, 1). Each slot is null with
// probability nullDensity.
func Float32Array(mem memory.Allocator, size int, nullDensity float32, seed int64) *array.Float32 {
	rng := rand.New(rand.NewSource(seed))

	builder := array.NewFloat32Builder(mem)
	defer builder.Release()
	builder.Reserve(size)

	for i := 0; i < size; i++ {
		if rng.Float32() < nullDensity {
			builder.AppendNull()
			continue
		}
		builder.Append(rng.Float32())
	}
	return builder.NewFloat32Array()
}

// StringArray returns size alphanumeric strings shorter than maxLen. Each
// slot is null with probability nullDensity.
func StringArray(mem memory.Allocator, size int, nullDensity float32, maxLen int, seed int64) *array.String {
	rng := rand.New(rand.NewSource(seed))

	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	builder.Reserve(size)

	buf := make([]byte, 0, maxLen)
	for i := 0; i < size; i++ {
		if rng.Float32() < nullDensity {
			builder.AppendNull()
			continue
		}
		strLen := 0
		if maxLen > 0 {
			strLen = rng.Intn(maxLen)
		}
		buf = buf[:0]
		for j := 0; j < strLen; j++ {
			buf = append(buf, alphanumeric[rng.Intn(len(alphanumeric))])
		}
		builder.Append(string(buf))
	}
	return builder.NewStringArray()
}
