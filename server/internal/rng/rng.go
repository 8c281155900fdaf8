package rng

import (
	"math/rand/v2"
	"sync"
)

// Source 规划与引擎唯一的随机性来源：返回 [0,1) 的浮点数。
// 所有抽样、洗牌、概率判定都经由它，固定种子即可复现同一份序列。
type Source interface {
	Float64() float64
}

// Seeded 基于 PCG 的确定性实现。并发安全，单个 hop 规划内顺序调用即可复现。
type Seeded struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeeded 用给定种子创建 Source。
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Intn 返回 [0,n) 的整数；n<=0 返回 0。
func Intn(r Source, n int) int {
	if n <= 0 {
		return 0
	}
	i := int(r.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Between 返回 [lo,hi] 闭区间的整数。
func Between(r Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + Intn(r, hi-lo+1)
}

// Chance 以概率 p 返回 true。
func Chance(r Source, p float64) bool {
	return r.Float64() < p
}

// Shuffle 原地 Fisher-Yates 洗牌。
func Shuffle[T any](r Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := Intn(r, i+1)
		items[i], items[j] = items[j], items[i]
	}
}

// Pick 等概率取一个元素；空切片返回零值与 false。
func Pick[T any](r Source, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[Intn(r, len(items))], true
}

// Sequence 按给定序列循环返回固定值，测试里用来精确控制每一次判定。
type Sequence struct {
	values []float64
	pos    int
}

// NewSequence 创建固定序列 Source；values 为空时恒返回 0。
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}
