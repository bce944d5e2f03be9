package lane

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"golang.org/x/exp/slices"
)

// Lane 车道实体
// 功能：表示地图中的车道，包含几何信息、拓扑关系、冲突区、路侧设施与车辆链表
type Lane struct {
	id int32

	// 初始化临时变量

	initPredecessors []*mapv2.LaneConnection
	initSuccessors   []*mapv2.LaneConnection
	initLeftLaneIDs  []int32
	initRightLaneIDs []int32
	initOverlaps     []*mapv2.LaneOverlap

	typ               mapv2.LaneType   // 车道类型
	turn              mapv2.LaneTurn   // 转向类型
	maxV              float64          // 当前道路限速
	parentJunction    entity.IJunction // 所在路口
	parentRoad        entity.IRoad     // 所在道路
	parentID          int32
	offsetInRoad      int                          // 在道路中的索引，0为最左侧车道，1为左数第二侧车道，以此类推
	predecessors      map[int32]entity.Connection  // 前驱车道映射表
	successors        map[int32]entity.Connection  // 后继车道映射表
	uniquePredecessor entity.ILane                 // 唯一前驱
	uniqueSuccessor   entity.ILane                 // 唯一后继
	sideLanes         [2][]entity.ILane            // 左/右侧车道（按距离从近到远排序）
	overlaps          map[float64]entity.Overlap   // 冲突点数据集合
	lineLengths       []float64                    // 中心线折线点对应的的长度列表
	length            float64                      // 以中心线的长度为车道长度
	width             float64                      // 车道宽度
	lineDirections    []geometry.PolylineDirection // 中心线折线段每一段的方向（atan2）
	line              []geometry.Point             // 转成Point的中心线折线

	conflictZones []*entity.ConflictZone // 冲突区，按S升序
	rsus          []entity.RSU           // 路侧设施，按位置升序
	initMutex     sync.Mutex             // 初始化阶段冲突区与路侧设施的写锁

	maxVBuffer float64 // 限速buffer

	vehicles *laneList[entity.IPerson, entity.VehicleSideLink]

	lightState              mapv2.LightState // 车道信号灯状态
	lightStateTotalTime     float64          // 车道信号灯本相位总时长
	lightStateRemainingTime float64          // 车道信号灯下一次切换时间
}

// newLane 创建并初始化一个新的Lane实例
// 功能：根据基础数据创建Lane对象，初始化几何信息与信号灯
// 参数：base-基础Lane数据
// 返回：初始化完成的Lane实例
func newLane(base *mapv2.Lane) *Lane {
	l := &Lane{
		id:                      base.Id,
		initPredecessors:        base.Predecessors,
		initSuccessors:          base.Successors,
		initLeftLaneIDs:         base.LeftLaneIds,
		initRightLaneIDs:        base.RightLaneIds,
		initOverlaps:            base.Overlaps,
		typ:                     base.Type,
		turn:                    base.Turn,
		maxV:                    base.MaxSpeed,
		predecessors:            make(map[int32]entity.Connection),
		successors:              make(map[int32]entity.Connection),
		overlaps:                make(map[float64]entity.Overlap),
		width:                   base.Width,
		lightState:              mapv2.LightState_LIGHT_STATE_GREEN,
		lightStateTotalTime:     mathutil.INF,
		lightStateRemainingTime: mathutil.INF,
		maxVBuffer:              base.MaxSpeed,
	}
	switch l.typ {
	case mapv2.LaneType_LANE_TYPE_DRIVING, mapv2.LaneType_LANE_TYPE_WALKING, mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT:
	default:
		log.Panicf("bad type %v for lane %d", l.typ, l.id)
	}
	l.line = lo.Map(base.CenterLine.Nodes, func(node *geov2.XYPosition, _ int) geometry.Point {
		return geometry.NewPointFromPb(node)
	})
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	l.vehicles = newLaneList[entity.IPerson, entity.VehicleSideLink](fmt.Sprintf("lane %d vehicles", l.id))
	return l
}

// initWithManager 在管理器初始化后建立Lane的连接关系
// 功能：根据初始化数据建立前驱、后继、侧车道、冲突点等连接关系
// 参数：laneManager-车道管理器
func (l *Lane) initWithManager(laneManager entity.ILaneManager) {
	for _, conn := range l.initPredecessors {
		lane := laneManager.Get(conn.Id)
		l.predecessors[conn.Id] = entity.Connection{Lane: lane, Type: conn.Type}
	}
	if len(l.predecessors) == 1 {
		for _, conn := range l.predecessors {
			l.uniquePredecessor = conn.Lane
		}
	}
	for _, conn := range l.initSuccessors {
		lane := laneManager.Get(conn.Id)
		l.successors[conn.Id] = entity.Connection{Lane: lane, Type: conn.Type}
	}
	if len(l.successors) == 1 {
		for _, conn := range l.successors {
			l.uniqueSuccessor = conn.Lane
		}
	}
	for _, id := range l.initLeftLaneIDs {
		l.sideLanes[entity.LEFT] = append(l.sideLanes[entity.LEFT], laneManager.Get(id))
	}
	for _, id := range l.initRightLaneIDs {
		l.sideLanes[entity.RIGHT] = append(l.sideLanes[entity.RIGHT], laneManager.Get(id))
	}
	for _, overlap := range l.initOverlaps {
		l.overlaps[overlap.Self.S] = entity.Overlap{
			Other:     laneManager.Get(overlap.Other.LaneId),
			OtherS:    overlap.Other.S,
			SelfFirst: overlap.SelfFirst,
		}
	}
	l.initPredecessors = nil
	l.initSuccessors = nil
	l.initLeftLaneIDs = nil
	l.initRightLaneIDs = nil
	l.initOverlaps = nil
}

// prepare 准备阶段
// 功能：写入限速，维护本车道链表
func (l *Lane) prepare() {
	l.maxV = l.maxVBuffer
	l.vehicles.prepare()
}

// prepare2 第二阶段准备，构建车辆链表的侧链
// 功能：为本车道每辆车找到左右相邻车道上按比例位置的前后车
// 说明：等待相邻车道完成主链构建后进行
func (l *Lane) prepare2() {
	for _, which := range []int{entity.LEFT, entity.RIGHT} {
		var neighborLane entity.ILane
		if len(l.sideLanes[which]) > 0 {
			neighborLane = l.sideLanes[which][0]
		}
		var nBack *entity.VehicleNode
		var nFront *entity.VehicleNode
		if neighborLane != nil {
			nFront = neighborLane.Vehicles().First()
		}
		for node := l.vehicles.list.First(); node != nil; node = node.Next() {
			if neighborLane == nil {
				node.Extra.Links[which] = [2]*entity.VehicleNode{}
				continue
			}
			nodeRatio := node.S / l.length
			// nFront是第一个位置大于等于node的车，nBack是最后一个位置小于node的车
			for nFront != nil && nFront.S/neighborLane.Length() < nodeRatio {
				nBack = nFront
				nFront = nFront.Next()
			}
			node.Extra.Links[which][entity.BEFORE] = nBack
			node.Extra.Links[which][entity.AFTER] = nFront
		}
	}
}

// 数据初始化

// SetParentRoadWhenInit 设置lane所在road与偏移量
func (l *Lane) SetParentRoadWhenInit(parent entity.IRoad, offset int) {
	l.parentRoad = parent
	l.offsetInRoad = offset
	l.parentJunction = nil
	l.parentID = parent.ID()
}

// SetParentJunctionWhenInit 设置lane所在junction
func (l *Lane) SetParentJunctionWhenInit(parent entity.IJunction) {
	l.parentJunction = parent
	l.parentRoad = nil
	l.parentID = parent.ID()
}

// AddConflictZoneWhenInit 添加lane上的冲突区
// 说明：路口并行初始化时可能并发调用，插入后保持按S升序
func (l *Lane) AddConflictZoneWhenInit(zone *entity.ConflictZone) {
	l.initMutex.Lock()
	defer l.initMutex.Unlock()
	i := sort.Search(len(l.conflictZones), func(i int) bool {
		return l.conflictZones[i].S > zone.S
	})
	l.conflictZones = slices.Insert(l.conflictZones, i, zone)
}

// AddRSUWhenInit 添加lane上的路侧设施，插入后保持按位置升序
func (l *Lane) AddRSUWhenInit(rsu entity.RSU) {
	l.initMutex.Lock()
	defer l.initMutex.Unlock()
	i := sort.Search(len(l.rsus), func(i int) bool {
		return l.rsus[i].Position() > rsu.Position()
	})
	l.rsus = slices.Insert(l.rsus, i, rsu)
}

// 静态数据

func (l *Lane) String() string {
	return fmt.Sprintf("Lane %d", l.id)
}

// 获取Lane ID
func (l *Lane) ID() int32 {
	if l == nil {
		return -1
	}
	return l.id
}

func (l *Lane) Length() float64 {
	return l.length
}

func (l *Lane) Width() float64 {
	return l.width
}

func (l *Lane) Type() mapv2.LaneType {
	return l.typ
}

func (l *Lane) Turn() mapv2.LaneTurn {
	return l.turn
}

// 获取Lane的父对象(road/junction)的ID
func (l *Lane) ParentID() int32 {
	return l.parentID
}

func (l *Lane) Line() []geometry.Point {
	return l.line
}

// Road Lane在Road中的偏移量，最左侧为0，往右侧递增
func (l *Lane) OffsetInRoad() int {
	if l.parentRoad == nil {
		log.Panicf("Lane %d: Not in road", l.id)
	}
	return l.offsetInRoad
}

func (l *Lane) Successors() map[int32]entity.Connection {
	return l.successors
}

func (l *Lane) Predecessors() map[int32]entity.Connection {
	return l.predecessors
}

// 查询唯一前驱，仅限于车道类型为DRIVING的路口内车道
func (l *Lane) UniquePredecessor() (entity.ILane, error) {
	if l.parentJunction == nil || l.typ != mapv2.LaneType_LANE_TYPE_DRIVING {
		return nil, fmt.Errorf("lane %d: not in junction or not driving", l.id)
	}
	if l.uniquePredecessor == nil {
		return nil, fmt.Errorf("lane %d: predecessor is not unique", l.id)
	}
	return l.uniquePredecessor, nil
}

// 查询唯一后继，仅限于车道类型为DRIVING的路口内车道
func (l *Lane) UniqueSuccessor() (entity.ILane, error) {
	if l.parentJunction == nil || l.typ != mapv2.LaneType_LANE_TYPE_DRIVING {
		return nil, fmt.Errorf("lane %d: not in junction or not driving", l.id)
	}
	if l.uniqueSuccessor == nil {
		return nil, fmt.Errorf("lane %d: successor is not unique", l.id)
	}
	return l.uniqueSuccessor, nil
}

// VehicleCount 统计非影子车辆数
// 说明：变道中的车辆同时占据两条车道，影子不计入
func (l *Lane) VehicleCount() int32 {
	var cnt int32
	for node := l.Vehicles().First(); node != nil; node = node.Next() {
		if node.Value.ShadowLane() != l {
			cnt++
		}
	}
	return cnt
}

func (l *Lane) Overlaps() map[float64]entity.Overlap {
	return l.overlaps
}

func (l *Lane) ConflictZones() []*entity.ConflictZone {
	return l.conflictZones
}

func (l *Lane) RSUs() []entity.RSU {
	return l.rsus
}

func (l *Lane) ParentRoad() entity.IRoad {
	return l.parentRoad
}

func (l *Lane) ParentJunction() entity.IJunction {
	return l.parentJunction
}

func (l *Lane) InRoad() bool {
	return l.parentRoad != nil
}

func (l *Lane) InJunction() bool {
	return l.parentJunction != nil
}

func (l *Lane) LeftLane() entity.ILane {
	return l.NeighborLane(entity.LEFT)
}

func (l *Lane) RightLane() entity.ILane {
	return l.NeighborLane(entity.RIGHT)
}

// 根据side获取左(side=0)/右(side=1)侧的Lane
func (l *Lane) NeighborLane(side int) entity.ILane {
	if len(l.sideLanes[side]) == 0 {
		return nil
	}
	return l.sideLanes[side][0]
}

// 信号灯

func (l *Lane) Light() (mapv2.LightState, float64, float64) {
	return l.lightState, l.lightStateTotalTime, l.lightStateRemainingTime
}

func (l *Lane) SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) {
	l.lightState = state
	l.lightStateTotalTime = totalTime
	l.lightStateRemainingTime = remainingTime
}

func (l *Lane) IsWalkLane() bool {
	return l.Type() == mapv2.LaneType_LANE_TYPE_WALKING
}

// 路况

func (l *Lane) MaxV() float64 {
	return l.maxV
}

// SpeedLimitAt 获取s处的限速
// 说明：取s之前最后一块限速牌的限速，没有限速牌时为车道限速
func (l *Lane) SpeedLimitAt(s float64) float64 {
	limit := l.maxV
	for _, rsu := range l.rsus {
		if rsu.Position() > s {
			break
		}
		if sign, ok := rsu.(*entity.SpeedLimitSign); ok {
			limit = sign.Limit
		}
	}
	return limit
}

// 设置车道限速（Prepare后生效）
func (l *Lane) SetMaxV(v float64) {
	l.maxVBuffer = v
}

// 车辆链表

func (l *Lane) Vehicles() *entity.VehicleList {
	return l.vehicles.list
}

func (l *Lane) AddVehicle(node *entity.VehicleNode) {
	l.vehicles.add(node)
}

func (l *Lane) RemoveVehicle(node *entity.VehicleNode) {
	l.vehicles.remove(node)
}

func (l *Lane) FirstVehicle() *entity.VehicleNode {
	return l.vehicles.list.First()
}

func (l *Lane) LastVehicle() *entity.VehicleNode {
	return l.vehicles.list.Last()
}

// 对同一道路内的车道按比例"投影"
func (l *Lane) ProjectFromLane(other entity.ILane, otherS float64) float64 {
	if l.ParentRoad() != other.ParentRoad() {
		log.Panicf("project from lane %d to lane %d in different road", other.ID(), l.id)
	}
	return lo.Clamp(otherS/other.Length()*l.length, 0, l.length)
}

// 根据本车道s坐标计算切向角度
func (l *Lane) GetDirectionByS(s float64) (direction geometry.PolylineDirection) {
	s = l.clampS(s)
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		direction = l.lineDirections[0]
	} else {
		direction = l.lineDirections[i-1]
	}
	return
}

// 将当前车道s坐标转换为xy(z)坐标
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	s = l.clampS(s)
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		pos = l.line[0]
	} else {
		sHigh, sLow := l.lineLengths[i], l.lineLengths[i-1]
		k := (s - sLow) / (sHigh - sLow)
		if k < 0 || k > 1 || math.IsNaN(k) {
			log.Panicf("lane %d: GetPositionByS(), bad k %v. sHigh=%f, sLow=%f, s=%f", l.id, k, sHigh, sLow, s)
		}
		pos = geometry.Blend(l.line[i-1], l.line[i], k)
	}
	return
}

func (l *Lane) clampS(s float64) float64 {
	first, last := l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1]
	if s < first || s > last {
		log.Debugf("lane %d: s %v out of range{%v,%v}", l.id, s, first, last)
		s = lo.Clamp(s, first, last)
	}
	return s
}
