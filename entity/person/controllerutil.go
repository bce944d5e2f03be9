package person

import (
	"math"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// clampAcc 按车辆性能截断加速度
func clampAcc(a, minA, maxA float64) float64 {
	if math.IsNaN(a) {
		return minA
	}
	return lo.Clamp(a, minA, maxA)
}

// viewDistance 前方观察距离
// 说明：在一般情况下，观察距离应等于汽车在12秒内所通过的路程，不小于minViewDistance
func viewDistance(v float64) float64 {
	return math.Max(v*viewDistanceFactor, minViewDistance)
}

// laneAt 从参考车道起第n条车道，左正右负，不存在时为nil
func laneAt(ref entity.ILane, n int) entity.ILane {
	lane := ref
	for ; n > 0 && lane != nil; n-- {
		lane = lane.LeftLane()
	}
	for ; n < 0 && lane != nil; n++ {
		lane = lane.RightLane()
	}
	return lane
}

// sideOf 横向方向对应的车道侧
func sideOf(lat perception.Lateral) int {
	if lat == perception.Left {
		return entity.LEFT
	}
	return entity.RIGHT
}

// lightColor 信号灯状态转换为感知颜色，未知状态返回false
func lightColor(state mapv2.LightState) (perception.LightColor, bool) {
	switch state {
	case mapv2.LightState_LIGHT_STATE_GREEN:
		return perception.Green, true
	case mapv2.LightState_LIGHT_STATE_YELLOW:
		return perception.Yellow, true
	case mapv2.LightState_LIGHT_STATE_RED:
		return perception.Red, true
	default:
		return 0, false
	}
}
