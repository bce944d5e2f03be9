package lmrs

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/conflict"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// NoVehicle 未选定同步车辆
const NoVehicle int32 = -1

// SyncState 同步状态
type SyncState int8

const (
	SyncNone          SyncState = iota // 无
	SyncSynchronizing                  // 为换道调整加速度
	SyncChanging                       // 正在换道
	SyncCooperating                    // 为邻车换道让出空间
)

func (s SyncState) String() string {
	return [...]string{"none", "synchronizing", "changing", "cooperating"}[s]
}

// Data 智能体跨仿真步保存的决策记忆
// 功能：
// 1. 本步与上一步见过的前车，用于识别"新前车"
// 2. 当前同步车辆，避免同步目标在相邻步之间来回切换
// 3. 各激励上一次计算的意愿（诊断用）
// 4. 冲突区计划
// 说明：只被所属智能体的决策过程修改
type Data struct {
	leaders     []int32
	lastLeaders []int32

	syncVehicle int32
	syncState   SyncState
	desireMap   map[IncentiveKind]Desire

	// ExternalLongitudinalControl 纵向控制由外部接管时不计算跟驰加速度，也不做车头时距松弛
	ExternalLongitudinalControl bool

	Plans *conflict.Plans
}

// NewData 创建空的决策记忆
func NewData() *Data {
	return &Data{
		syncVehicle: NoVehicle,
		desireMap:   make(map[IncentiveKind]Desire),
		Plans:       conflict.NewPlans(),
	}
}

// isNewLeader 记录本步的前车，返回其上一步是否不是前车
func (d *Data) isNewLeader(id int32) bool {
	if !lo.Contains(d.leaders, id) {
		d.leaders = append(d.leaders, id)
	}
	return !lo.Contains(d.lastLeaders, id)
}

// finalizeStep 一步结束，本步前车成为上一步前车
func (d *Data) finalizeStep() {
	d.lastLeaders, d.leaders = d.leaders, d.lastLeaders[:0]
}

// syncVehicleIn 在leaders中找到当前同步车辆
func (d *Data) syncVehicleIn(leaders []perception.Neighbor) (perception.Neighbor, bool) {
	if d.syncVehicle == NoVehicle {
		return perception.Neighbor{}, false
	}
	return lo.Find(leaders, func(n perception.Neighbor) bool { return n.ID == d.syncVehicle })
}

// SyncVehicle 当前同步车辆，NoVehicle表示没有
func (d *Data) SyncVehicle() int32 {
	return d.syncVehicle
}

// SyncState 上一步的同步状态
func (d *Data) SyncState() SyncState {
	return d.syncState
}

// DesireMap 各激励最近一次的意愿
func (d *Data) DesireMap() map[IncentiveKind]Desire {
	return lo.Assign(d.desireMap)
}
