package person

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/lmrs"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// Action 车辆动作结构体
// 功能：描述一步的车辆控制动作，由LMRS决策结果转换而来
type Action struct {
	A          float64            // 加速度（米/秒²），已按车辆性能截断
	LaneChange perception.Lateral // 本步开始的换道方向
	LCDuration float64            // 换道持续时间（秒）
	Indicator  perception.Lateral // 转向灯
	SyncState  lmrs.SyncState     // 同步状态
	Desire     lmrs.Desire        // 换道意愿
}

func (a Action) String() string {
	return fmt.Sprintf("Action{A=%.3f, LC=%v(%.1fs), Indicator=%v, Sync=%v, Desire=%v}",
		a.A, a.LaneChange, a.LCDuration, a.Indicator, a.SyncState, a.Desire)
}

// newAction 由决策结果生成车辆动作
// 参数：dec-决策结果，minA/maxA-车辆的最大减速度（负值）与最大加速度
// 说明：+Inf（无约束）截断为maxA，-Inf截断为minA
func newAction(dec lmrs.Decision, minA, maxA float64) Action {
	return Action{
		A:          clampAcc(dec.Acceleration, minA, maxA),
		LaneChange: dec.LaneChange,
		LCDuration: dec.LaneChangeDuration,
		Indicator:  dec.Indicator,
		SyncState:  dec.SyncState,
		Desire:     dec.Desire,
	}
}

// fallbackAction 决策失败时的动作：保持上一步的加速度，不换道
func fallbackAction(prev Action) Action {
	return Action{A: prev.A, Indicator: prev.Indicator}
}
