// Package carfollowing 跟驰模型
// 功能：把（自身速度、前车速度、间距、行为参数）映射为纵向加速度
// 说明：模型本身无状态，所有参数从参数表读取，因此同一模型可用于计算邻车的响应
package carfollowing

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
)

// SpeedLimitInfo 限速信息
type SpeedLimitInfo struct {
	LegalSpeedLimit float64 // 道路限速（米/秒）
	MaxVehicleSpeed float64 // 车辆最大速度（米/秒）
}

// Leader 前车
type Leader struct {
	Distance float64 // 净间距（米）
	Speed    float64 // 前车速度（米/秒）
}

// Model 跟驰模型接口
type Model interface {
	// Name 模型名
	Name() string
	// DesiredSpeed 期望速度
	DesiredSpeed(p *parameter.Parameters, sli SpeedLimitInfo) (float64, error)
	// DesiredHeadway 期望车头时距
	DesiredHeadway(p *parameter.Parameters, speed float64) (float64, error)
	// FollowingAcceleration 跟驰加速度，leaders按距离由近到远排列，为空时返回自由流加速度
	FollowingAcceleration(p *parameter.Parameters, speed float64, sli SpeedLimitInfo, leaders []Leader) (float64, error)
}

// 读取一组参数，任一缺失即返回错误
func getAll(p *parameter.Parameters, keys ...parameter.Key) ([]float64, error) {
	res := make([]float64, len(keys))
	for i, k := range keys {
		v, err := p.Get(k)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// FollowSingleLeader 对单个前车的跟驰加速度
func FollowSingleLeader(m Model, p *parameter.Parameters, speed float64, sli SpeedLimitInfo, distance, leaderSpeed float64) (float64, error) {
	return m.FollowingAcceleration(p, speed, sli, []Leader{{Distance: distance, Speed: leaderSpeed}})
}

// FreeAcceleration 自由流加速度
func FreeAcceleration(m Model, p *parameter.Parameters, speed float64, sli SpeedLimitInfo) (float64, error) {
	return m.FollowingAcceleration(p, speed, sli, nil)
}

// Stop 在distance处停车所需的加速度（把停车点视作静止前车）
func Stop(m Model, p *parameter.Parameters, speed float64, sli SpeedLimitInfo, distance float64) (float64, error) {
	return FollowSingleLeader(m, p, speed, sli, distance, 0)
}

// ApproachTargetSpeed 在distance处达到目标速度所需的加速度
// 功能：跟随一辆以目标速度行驶的虚拟前车，虚拟前车的位置使得抵达distance时恰好保持期望间距
// 返回：目标速度不低于当前速度时不产生约束（+Inf）
func ApproachTargetSpeed(m Model, p *parameter.Parameters, speed float64, sli SpeedLimitInfo, distance, targetSpeed float64) (float64, error) {
	if targetSpeed >= speed {
		return math.Inf(1), nil
	}
	s0, err := p.Get(parameter.S0)
	if err != nil {
		return 0, err
	}
	headway, err := m.DesiredHeadway(p, targetSpeed)
	if err != nil {
		return 0, err
	}
	return FollowSingleLeader(m, p, speed, sli, distance+s0+targetSpeed*headway, targetSpeed)
}
