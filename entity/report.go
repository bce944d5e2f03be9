package entity

import (
	"fmt"
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// AgentDecision 单个智能体一步的决策结果
type AgentDecision struct {
	ID           int32
	Lane         int32
	S            float64
	V            float64
	Acceleration float64
	LaneChange   perception.Lateral
	Indicator    perception.Lateral
	SyncState    string
	DesireLeft   float64
	DesireRight  float64
}

func (d AgentDecision) String() string {
	return fmt.Sprintf("person %d lane=%d s=%.2f v=%.2f a=%.3f lc=%v indicator=%v sync=%v desire=(%.3f, %.3f)",
		d.ID, d.Lane, d.S, d.V, d.Acceleration, d.LaneChange, d.Indicator, d.SyncState, d.DesireLeft, d.DesireRight)
}

// AgentFailure 决策失败的智能体
type AgentFailure struct {
	ID  int32
	Err error
}

// StepReport 一步的汇总
// 说明：Decisions按智能体ID升序
type StepReport struct {
	Step        int32
	Running     int // 在路上的车辆数
	Departed    int // 本步出发的车辆数
	Arrived     int // 本步到达的车辆数
	LaneChanges int // 本步开始的换道数
	Decisions   []AgentDecision
	Failures    []AgentFailure
}

func (r *StepReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d: running=%d departed=%d arrived=%d lane_changes=%d failures=%d",
		r.Step, r.Running, r.Departed, r.Arrived, r.LaneChanges, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n  person %d failed: %v", f.ID, f.Err)
	}
	return b.String()
}
