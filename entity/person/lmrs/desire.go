// Package lmrs 基于换道意愿的车道变换模型（LMRS）
// 功能：每个仿真步根据感知快照给出纵向加速度与横向决策
// 说明：
// 1. 换道意愿由强制激励（路线）与自愿激励（速度收益、靠右、礼让）合成
// 2. 意愿超过dFree且通过间隙接受检验时换道；超过dSync时同步，超过dCoop时打开转向灯
// 3. 目标车道上的车辆根据邻车发布的意愿进行合作
package lmrs

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// Desire 左右两个方向的换道意愿
// 说明：每个方向不超过1，没有下限；负值表示主动不希望换道，与0（没有意愿）不同
type Desire struct {
	Left  float64
	Right float64
}

// NewDesire 创建意愿，大于1的值截断为1
func NewDesire(left, right float64) Desire {
	return Desire{Left: math.Min(left, 1), Right: math.Min(right, 1)}
}

// LeftIsLargerOrEqual 向左的意愿是否不小于向右
func (d Desire) LeftIsLargerOrEqual() bool {
	return d.Left >= d.Right
}

// Toward lat方向的意愿
func (d Desire) Toward(lat perception.Lateral) float64 {
	switch lat {
	case perception.Left:
		return d.Left
	case perception.Right:
		return d.Right
	default:
		return 0
	}
}

func (d Desire) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", d.Left, d.Right)
}
