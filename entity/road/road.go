package road

import (
	"fmt"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// Road 道路实体
// 功能：表示地图中的道路，包含车道集合与前后路口
type Road struct {
	id           int32
	laneIDs      []int32
	name         string
	drivingLanes []entity.ILane         // 行车道，按从左到右排序
	lanes        map[int32]entity.ILane // 车道id->车道指针映射表

	drivingPredecessor entity.IJunction // 前驱路口
	drivingSuccessor   entity.IJunction // 后继路口

	maxV float64 // 行车道限速的最大值
}

// newRoad 创建并初始化一个新的Road实例
// 功能：根据基础数据创建Road对象，设置车道的所在道路与偏移量
// 参数：base-基础Road数据，laneManager-车道管理器
// 返回：初始化完成的Road实例
func newRoad(base *mapv2.Road, laneManager entity.ILaneManager) *Road {
	r := &Road{
		id:      base.Id,
		name:    base.Name,
		laneIDs: base.LaneIds,
		lanes:   make(map[int32]entity.ILane),
	}
	for i, laneID := range r.laneIDs {
		lane := laneManager.Get(laneID)
		r.lanes[laneID] = lane
		lane.SetParentRoadWhenInit(r, i)
		if lane.Type() == mapv2.LaneType_LANE_TYPE_DRIVING {
			r.drivingLanes = append(r.drivingLanes, lane)
		}
	}
	r.maxV = lo.Max(lo.Map(r.drivingLanes, func(l entity.ILane, _ int) float64 { return l.MaxV() }))
	return r
}

// initAfterJunction 在Junction初始化后设置Road的路口连接关系
// 功能：根据车道的连接关系确定Road的前驱和后继路口
// 说明：前驱和后继路口必须唯一
func (r *Road) initAfterJunction() {
	for _, lane := range r.drivingLanes {
		for _, pre := range lane.Predecessors() {
			junc := pre.Lane.ParentJunction()
			if junc == nil {
				log.Panicf("Lane %d:%d's predecessor is not in junction", r.id, pre.Lane.ID())
			}
			if r.drivingPredecessor == nil {
				r.drivingPredecessor = junc
			} else if r.drivingPredecessor != junc {
				log.Panicf("Road %d's predecessor is not unique: %d v.s. %d", r.id, r.drivingPredecessor.ID(), junc.ID())
			}
		}
		for _, suc := range lane.Successors() {
			junc := suc.Lane.ParentJunction()
			if junc == nil {
				log.Panicf("Lane %d:%d's successor is not in junction", r.id, suc.Lane.ID())
			}
			if r.drivingSuccessor == nil {
				r.drivingSuccessor = junc
			} else if r.drivingSuccessor != junc {
				log.Panicf("Road %d's successor is not unique: %d v.s. %d", r.id, r.drivingSuccessor.ID(), junc.ID())
			}
		}
	}
}

func (r *Road) ID() int32 {
	if r == nil {
		return -1
	}
	return r.id
}

func (r *Road) String() string {
	return fmt.Sprintf("Road %d", r.id)
}

func (r *Road) Name() string {
	return r.name
}

func (r *Road) Lanes() map[int32]entity.ILane {
	return r.lanes
}

// DrivingLanes 行车道，按从左到右排序
func (r *Road) DrivingLanes() []entity.ILane {
	return r.drivingLanes
}

// RightestDrivingLane 获取最右侧的行车道（最靠近路边），无行车道时返回nil
func (r *Road) RightestDrivingLane() entity.ILane {
	if len(r.drivingLanes) == 0 {
		return nil
	}
	return r.drivingLanes[len(r.drivingLanes)-1]
}

func (r *Road) DrivingPredecessor() entity.IJunction {
	return r.drivingPredecessor
}

func (r *Road) DrivingSuccessor() entity.IJunction {
	return r.drivingSuccessor
}

func (r *Road) MaxV() float64 {
	return r.maxV
}

// GetAvgDrivingL 获取道路行车道平均长度
func (r *Road) GetAvgDrivingL() float64 {
	if len(r.drivingLanes) == 0 {
		return 0
	}
	return lo.SumBy(r.drivingLanes, func(l entity.ILane) float64 { return l.Length() }) / float64(len(r.drivingLanes))
}
