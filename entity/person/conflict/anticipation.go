// Package conflict 冲突区（合流、分流、交叉）通行决策
package conflict

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
)

const (
	// 自由加速预测的时间步长（秒）
	anticipationStep = 0.5
	// 自由加速预测的最大步数
	maxAnticipationSteps = 1000
)

// Anticipation 行驶预测结果
type Anticipation struct {
	Duration float64 // 走完距离所需时间（秒），无法到达为+Inf
	EndSpeed float64 // 到达时的速度（米/秒）
}

// Anticipate 匀加速行驶距离s所需的时间
// 功能：求解 s = v*t + a*t^2/2 的最小正根
// 参数：s-距离，v-当前速度，a-加速度
// 返回：s<=0时为0；a=0且v=0时为+Inf；无正实根（减速停在s之前）时为+Inf
func Anticipate(s, v, a float64) Anticipation {
	if s <= 0 {
		return Anticipation{Duration: 0, EndSpeed: v}
	}
	if a == 0 {
		if v > 0 {
			return Anticipation{Duration: s / v, EndSpeed: v}
		}
		return Anticipation{Duration: math.Inf(1), EndSpeed: 0}
	}
	disc := v*v + 2*a*s
	if disc < 0 {
		return Anticipation{Duration: math.Inf(1), EndSpeed: 0}
	}
	t := (-v + math.Sqrt(disc)) / a
	if t < 0 || math.IsNaN(t) {
		return Anticipation{Duration: math.Inf(1), EndSpeed: 0}
	}
	return Anticipation{Duration: t, EndSpeed: v + a*t}
}

// AnticipateFreeAcceleration 以自由流加速度行驶距离s所需的时间
// 算法说明：
// 1. 每0.5秒按当前速度重新计算自由流加速度
// 2. 若剩余距离在本步内可以走完，则用匀加速公式求出精确时间
// 3. 否则按匀加速推进一步；速度降为0仍未到达则为+Inf
func AnticipateFreeAcceleration(s, v float64, m carfollowing.Model, p *parameter.Parameters, sli carfollowing.SpeedLimitInfo) (Anticipation, error) {
	if s <= 0 {
		return Anticipation{Duration: 0, EndSpeed: v}, nil
	}
	t, x := 0.0, 0.0
	for range maxAnticipationSteps {
		a, err := carfollowing.FreeAcceleration(m, p, v, sli)
		if err != nil {
			return Anticipation{}, err
		}
		ai := Anticipate(s-x, v, a)
		if ai.Duration <= anticipationStep {
			return Anticipation{Duration: t + ai.Duration, EndSpeed: ai.EndSpeed}, nil
		}
		dt := anticipationStep
		if a < 0 && v+a*dt < 0 {
			// 本步内停车
			return Anticipation{Duration: math.Inf(1), EndSpeed: 0}, nil
		}
		x += v*dt + .5*a*dt*dt
		v += a * dt
		t += dt
	}
	return Anticipation{Duration: math.Inf(1), EndSpeed: v}, nil
}
