package conflict

import (
	"maps"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// KeepClear 需要保持畅通的冲突区（相对自身车头的起止距离）
type KeepClear struct {
	ConflictID int32
	Start      float64
	End        float64
}

// Plans 智能体在冲突区上的计划，跨仿真步保存
// 功能：
// 1. 礼让计划：在拥有优先权时主动让行的对象（冲突区ID -> 被让行车辆ID），保证决策前后一致
// 2. 保持畅通列表：本步经过的、停车时不应停在其中的冲突区，每步重建
// 3. 阻塞标记：本步结束时自身是否阻塞了冲突区，供其他车辆下一步读取
type Plans struct {
	yieldPlans map[int32]int32
	keepClear  []KeepClear
	blocking   bool
	stopped    bool // 本步已对某冲突区做出停车决定，更下游的冲突区不再评估
}

// NewPlans 创建空计划
func NewPlans() *Plans {
	return &Plans{
		yieldPlans: make(map[int32]int32),
	}
}

// IsYieldPlan 是否在conflictID处礼让vehicleID
func (p *Plans) IsYieldPlan(conflictID, vehicleID int32) bool {
	id, ok := p.yieldPlans[conflictID]
	return ok && id == vehicleID
}

// SetYieldPlan 记录礼让计划
func (p *Plans) SetYieldPlan(conflictID, vehicleID int32) {
	p.yieldPlans[conflictID] = vehicleID
}

// ClearYieldPlan 放弃礼让计划
func (p *Plans) ClearYieldPlan(conflictID int32) {
	delete(p.yieldPlans, conflictID)
}

// YieldPlans 礼让计划的副本
func (p *Plans) YieldPlans() map[int32]int32 {
	return maps.Clone(p.yieldPlans)
}

// KeepClearList 本步的保持畅通列表
func (p *Plans) KeepClearList() []KeepClear {
	return p.keepClear
}

// Blocking 本步结束时是否阻塞冲突区
func (p *Plans) Blocking() bool {
	return p.blocking
}

// Stopped 本步是否已对某冲突区做出停车决定
func (p *Plans) Stopped() bool {
	return p.stopped
}

// clean 每步冲突评估前的清理
// 算法说明：
// 1. 清空保持畅通列表与停车标记
// 2. 删除以下礼让计划：冲突区已被越过或不再可见；被让行车辆已越过冲突区；双方均已静止
func (p *Plans) clean(conflicts []perception.Conflict, speed float64) {
	p.keepClear = p.keepClear[:0]
	p.stopped = false
	for conflictID, vehicleID := range p.yieldPlans {
		c, ok := lo.Find(conflicts, func(c perception.Conflict) bool { return c.ID == conflictID })
		if !ok || c.Distance < 0 {
			delete(p.yieldPlans, conflictID)
			continue
		}
		v, ok := lo.Find(c.Upstream, func(v perception.ConflictingVehicle) bool { return v.ID == vehicleID })
		if !ok || (speed == 0 && v.Speed == 0) {
			delete(p.yieldPlans, conflictID)
		}
	}
}
