package junction

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/junction/trafficlight"
)

type laneGroupKey struct {
	InRoad  entity.IRoad
	OutRoad entity.IRoad
}

type laneGroupValue struct {
	InAngle  float64
	OutAngle float64
	Lanes    []entity.ILane
}

type Junction struct {
	id                int32
	laneIDs           []int32
	trafficLight      ITrafficLight          // 信号灯模块
	lanes             map[int32]entity.ILane // 车道id->车道指针映射表
	drivingLanes      []entity.ILane         // 行车道，按车道组顺序
	drivingLaneGroups map[laneGroupKey]*laneGroupValue
	conflictPairs     []zonePair // 路口内成对的冲突区
}

// newJunction 创建并初始化一个新的Junction实例
// 功能：根据基础数据创建Junction对象，初始化车道、车道组、冲突区与信号灯
// 参数：base-基础Junction数据，laneManager-车道管理器，roadManager-道路管理器，enableTrafficLight-是否启用固定相位信控
// 返回：初始化完成的Junction实例
func newJunction(
	base *mapv2.Junction,
	laneManager entity.ILaneManager,
	roadManager entity.IRoadManager,
	enableTrafficLight bool,
) *Junction {
	j := &Junction{
		id:                base.Id,
		laneIDs:           base.LaneIds,
		lanes:             make(map[int32]entity.ILane),
		drivingLanes:      make([]entity.ILane, 0),
		drivingLaneGroups: make(map[laneGroupKey]*laneGroupValue),
	}

	// 车道映射和信号灯设置
	lanes := make([]entity.ILaneTrafficLightSetter, 0, len(j.laneIDs))
	for _, laneID := range j.laneIDs {
		lane := laneManager.Get(laneID)
		lane.SetParentJunctionWhenInit(j)
		j.lanes[laneID] = lane
		lanes = append(lanes, lane)
	}

	// 车道组
	for _, g := range base.DrivingLaneGroups {
		key := laneGroupKey{
			InRoad:  roadManager.Get(g.InRoadId),
			OutRoad: roadManager.Get(g.OutRoadId),
		}
		value := &laneGroupValue{
			InAngle:  g.InAngle,
			OutAngle: g.OutAngle,
			Lanes:    make([]entity.ILane, len(g.LaneIds)),
		}
		for i, laneID := range g.LaneIds {
			l, ok := j.lanes[laneID]
			if !ok {
				log.Panicf("junction %d: lane group lane %d is not in junction", j.id, laneID)
			}
			value.Lanes[i] = l
			if l.Type() == mapv2.LaneType_LANE_TYPE_DRIVING {
				j.drivingLanes = append(j.drivingLanes, l)
			}
		}
		j.drivingLaneGroups[key] = value
	}
	for _, l := range j.drivingLanes {
		if _, err := l.UniquePredecessor(); err != nil {
			log.Panicf("junction %d: %v", j.id, err)
		}
		if _, err := l.UniqueSuccessor(); err != nil {
			log.Panicf("junction %d: %v", j.id, err)
		}
	}

	j.conflictPairs = buildConflictZones(j.drivingLanes)

	if enableTrafficLight && base.FixedProgram != nil && len(base.FixedProgram.Phases) > 0 {
		j.trafficLight = trafficlight.NewLocalTrafficLight(j.id, lanes)
		if err := j.trafficLight.Set(base.FixedProgram); err != nil {
			log.Panicf("set fixed program error: %v", err)
		}
		// 停车线位于路口内行车道起点
		for _, l := range j.drivingLanes {
			l.AddRSUWhenInit(&entity.TrafficSignal{S: 0, Lane: l})
		}
	}

	return j
}

// prepare 准备阶段，将信号灯状态写入车道
func (j *Junction) prepare() {
	if j.trafficLight != nil {
		j.trafficLight.Prepare()
	}
}

// update 更新阶段，推进信号灯
func (j *Junction) update(dt float64) {
	if j.trafficLight != nil {
		j.trafficLight.Update(dt)
	}
}

func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

func (j *Junction) Lanes() map[int32]entity.ILane {
	return j.lanes
}

// DrivingLaneGroup 根据入道路和出道路获取Junction内的行车道组与角度
// 返回：车道列表、入角度、出角度、是否找到
func (j *Junction) DrivingLaneGroup(inRoad, outRoad entity.IRoad) (lanes []entity.ILane, inAngle, outAngle float64, ok bool) {
	value, ok := j.drivingLaneGroups[laneGroupKey{InRoad: inRoad, OutRoad: outRoad}]
	if !ok {
		return
	}
	return value.Lanes, value.InAngle, value.OutAngle, true
}

// HasTrafficLight 判断是否有生效的信号灯
func (j *Junction) HasTrafficLight() bool {
	return j.trafficLight != nil && j.trafficLight.Ok()
}
