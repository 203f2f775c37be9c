// Package minhash 实现固定种子、固定字典的 MinHash 签名与 Jaccard 估计。
//
// 引擎参数（签名长度、字典大小、种子）在一次部署内必须固定：
// 入库与查询使用同一组哈希函数，否则签名不可比较。
// 字符串到 token 的映射使用 FNV-1a 32 位哈希（确定性、跨进程稳定）。
package minhash

import (
	"fmt"
	"hash/fnv"
	"math"

	"binsim-go/internal/apperr"
)

// 默认部署参数。
const (
	DefaultSignatureLength = 512
	DefaultDictSize        = 16_777_216
	DefaultSeed            = 123_456_789
)

// mersennePrime = 2^61 - 1，哈希值的模数。
const mersennePrime = uint64(1)<<61 - 1

// Engine 持有一组确定性生成的哈希函数。初始化后只读，可安全共享。
type Engine struct {
	length   int
	dictSize int32
	seed     int64
	a        []uint64
	b        []uint64
}

var global *Engine

// Init 以给定参数构建进程级单例。在 main 启动时调用一次。
func Init(length int, dictSize int32, seed int64) {
	global = New(length, dictSize, seed)
}

// Get 返回进程级单例。未初始化时使用默认参数。
func Get() *Engine {
	if global == nil {
		global = New(DefaultSignatureLength, DefaultDictSize, DefaultSeed)
	}
	return global
}

// New 构建一个 MinHash 引擎。length 个哈希函数的系数由 seed 确定性派生。
func New(length int, dictSize int32, seed int64) *Engine {
	if length <= 0 {
		length = DefaultSignatureLength
	}
	if dictSize <= 0 {
		dictSize = DefaultDictSize
	}
	e := &Engine{
		length:   length,
		dictSize: dictSize,
		seed:     seed,
		a:        make([]uint64, length),
		b:        make([]uint64, length),
	}
	state := uint64(seed)
	for i := 0; i < length; i++ {
		// 系数限制在 31 位内：a*x 以 uint64 计算时（x < 2^32）不会溢出；
		// a 取非零值，保证哈希函数非退化
		e.a[i] = splitmix64(&state)%(1<<31-1) + 1
		e.b[i] = splitmix64(&state) % (1 << 31)
	}
	return e
}

// Length 返回签名长度。
func (e *Engine) Length() int { return e.length }

// DictSize 返回 token 字典大小。
func (e *Engine) DictSize() int32 { return e.dictSize }

// Token 把字符串映射到 [0, dictSize) 内的 token。
func (e *Engine) Token(s string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return floorMod(int32(h.Sum32()), e.dictSize)
}

// TokenSet 将字符串列表映射为去重后的 token 集合。
func (e *Engine) TokenSet(strings []string) map[int32]struct{} {
	set := make(map[int32]struct{}, len(strings))
	for _, s := range strings {
		set[e.Token(s)] = struct{}{}
	}
	return set
}

// Signature 计算 token 集合的 MinHash 签名：每个哈希函数在集合上的最小值。
// 空集合的签名为全 MaxInt32。
func (e *Engine) Signature(tokens map[int32]struct{}) []int32 {
	sig := make([]int32, e.length)
	for i := range sig {
		sig[i] = math.MaxInt32
	}
	for token := range tokens {
		x := uint64(uint32(token))
		for i := 0; i < e.length; i++ {
			h := int32((e.a[i]*x + e.b[i]) % mersennePrime % uint64(e.dictSize))
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// Similarity 以相等槽位比例估计两个签名集合的 Jaccard 相似度。
func (e *Engine) Similarity(a, b []int32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: 签名长度不一致 (%d vs %d)", apperr.ErrInvalidArgument, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("%w: 签名为空", apperr.ErrInvalidArgument)
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a)), nil
}

// splitmix64 是确定性的 64 位伪随机序列，用于由种子派生哈希系数。
func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// floorMod 返回数学意义上的非负余数，与除数同号。
func floorMod(x, y int32) int32 {
	m := x % y
	if m != 0 && (m < 0) != (y < 0) {
		m += y
	}
	return m
}
