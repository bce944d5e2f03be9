// 随机数引擎，包装了golang.org/x/exp/rand，为每个智能体提供独立的随机数源
package randengine

import (
	"golang.org/x/exp/rand"
)

// Engine 随机数引擎
// 功能：为单个智能体提供可复现的随机数序列
// 说明：每个智能体持有自己的Engine，只在自身的决策过程中使用，因此无需加锁即可并行
type Engine struct {
	*rand.Rand        // 底层随机数生成器
	seed       uint64 // 实际使用的种子
}

// New 创建随机数引擎
// 功能：初始化一个新的随机数引擎实例
// 参数：seed-随机数种子（通常为智能体ID），offset-全局种子偏移量
// 返回：随机数引擎指针
// 说明：种子偏移量允许在不修改数据的情况下得到另一组随机序列
func New(seed uint64, offset uint64) *Engine {
	return &Engine{
		Rand: rand.New(rand.NewSource(seed + offset)),
		seed: seed + offset,
	}
}

// Seed 返回引擎使用的种子
func (e *Engine) Seed() uint64 {
	return e.seed
}

// Normal 生成正态分布随机数
// 功能：返回均值为mean、标准差为sigma的正态分布随机数
// 说明：sigma<=0时直接返回mean，不消耗随机数
func (e *Engine) Normal(mean, sigma float64) float64 {
	if sigma <= 0 {
		return mean
	}
	return mean + sigma*e.NormFloat64()
}

// Uniform 生成[low, high)区间的均匀分布随机数
func (e *Engine) Uniform(low, high float64) float64 {
	if high <= low {
		return low
	}
	return low + (high-low)*e.Float64()
}

// PTrue 以概率p返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}
