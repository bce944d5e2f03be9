package conflict

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// RespondToTrafficLights 对前方信号灯的响应加速度
// 算法说明：
// 1. 由近及远，跳过绿灯与来不及停车的黄灯
// 2. 红灯：在停车线处停车
// 3. 黄灯：能以不超过b的减速度停下时停车
// 返回：无约束时为+Inf
func RespondToTrafficLights(ego Ego, lights []perception.TrafficLight) (float64, error) {
	for _, l := range lights {
		if l.Color == perception.Green {
			continue
		}
		if l.Distance < 0 {
			// 已越过停车线
			continue
		}
		aStop, err := ego.stop(l.Distance)
		if err != nil {
			return 0, err
		}
		if l.Color == perception.Red {
			return aStop, nil
		}
		b, err := ego.Params.Get(parameter.B)
		if err != nil {
			return 0, err
		}
		if aStop >= -b {
			return aStop, nil
		}
	}
	return math.Inf(1), nil
}
