package entity

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/container"
)

// 方位常量
const (
	LEFT   = 0 // 左侧
	RIGHT  = 1 // 右侧
	BEFORE = 0 // 后方，等价于prev/behind
	AFTER  = 1 // 前方，等价于next/ahead
)

// RoutePosition 导航起点终点
type RoutePosition struct {
	Lane ILane
	S    float64
}

func (r RoutePosition) String() string {
	return fmt.Sprintf("RoutePosition{Lane=%v, S=%v}", r.Lane.ID(), r.S)
}

// entity/person/person.go的依赖倒置
// 说明：除Neighbor外所有getter读取的都是上一步结束时冻结的快照
type IPerson interface {
	// 自身属性

	ID() int32                               // 获取人的ID
	VehicleAttr() *personv2.VehicleAttribute // 获取车辆属性

	Lane() ILane       // 获取车辆所在的Lane（变道时为目标车道）
	S() float64        // 获取车辆在Lane上的位置S坐标（车头）
	ShadowLane() ILane // 获取车辆影子所在的Lane（变道时为原车道）
	ShadowS() float64  // 获取车辆影子在Lane上的位置S坐标
	V() float64        // 获取车辆的速度
	Length() float64   // 获取车长
	IsLC() bool        // 判断车辆是否正在变道

	// 感知

	// Neighbor 以冻结快照生成邻车记录，distance为已经算好的净间距
	Neighbor(distance float64) perception.Neighbor
	// Blocked 上一步结束时是否处于阻塞状态（因冲突区停在路口内）
	Blocked() bool
	// WillUse 车辆的路线是否会经过lane
	WillUse(lane ILane) bool

	String() string
}

// Lane连接关系
type Connection struct {
	Lane ILane                    // 连接到的Lane
	Type mapv2.LaneConnectionType // 连接类型
}

// Lane冲突点
type Overlap struct {
	Other     ILane   // 冲突Lane
	OtherS    float64 // 冲突车道的S坐标
	SelfFirst bool    // 是否本Lane优先
}

// ConflictZone 车道上的冲突区
// 说明：冲突区总是成对出现，每条车道各持有一份，ID在全地图唯一
type ConflictZone struct {
	ID        int32
	Type      perception.ConflictType
	Rule      perception.ConflictRule
	S         float64 // 冲突区在本车道上的起点
	Length    float64 // 冲突区在本车道上的长度
	KeepClear bool    // 不允许停在冲突区内
	SameRoad  bool    // 冲突双方属于同一道路

	Other  ILane   // 冲突车道
	OtherS float64 // 冲突区在冲突车道上的起点
}

func (z *ConflictZone) String() string {
	return fmt.Sprintf("ConflictZone{ID=%d, %v, %v, S=%.2f, L=%.2f, Other=%v@%.2f}",
		z.ID, z.Type, z.Rule, z.S, z.Length, z.Other.ID(), z.OtherS)
}

// RSU 路侧设施，封闭的联合类型：SpeedLimitSign | TrafficSignal
type RSU interface {
	Position() float64 // 在车道上的位置
	isRSU()
}

// SpeedLimitSign 限速牌，车辆越过后按新的限速行驶
type SpeedLimitSign struct {
	S     float64
	Limit float64 // 限速（米/秒）
}

func (r *SpeedLimitSign) Position() float64 { return r.S }
func (*SpeedLimitSign) isRSU()              {}

// TrafficSignal 信号灯（停车线），颜色来自所在车道的信控状态
type TrafficSignal struct {
	S    float64
	Lane ILane
}

func (r *TrafficSignal) Position() float64 { return r.S }
func (*TrafficSignal) isRSU()              {}

// 车辆链表支链，记录左右车道的前后车辆
type VehicleSideLink struct {
	// [LEFT/RIGHT][BACK/FRONT]
	Links [2][2]*container.ListNode[IPerson, VehicleSideLink]
}

func (l VehicleSideLink) String() string {
	name := func(n *container.ListNode[IPerson, VehicleSideLink]) string {
		if n == nil {
			return "nil"
		}
		return fmt.Sprint(n.Value.ID())
	}
	return fmt.Sprintf("L-B: %s, L-F: %s, R-B: %s, R-F: %s",
		name(l.Links[LEFT][BEFORE]), name(l.Links[LEFT][AFTER]),
		name(l.Links[RIGHT][BEFORE]), name(l.Links[RIGHT][AFTER]),
	)
}

// 清空链表
func (l *VehicleSideLink) Clear() {
	l.Links = [2][2]*container.ListNode[IPerson, VehicleSideLink]{}
}

// 车辆链表节点类型
type VehicleNode = container.ListNode[IPerson, VehicleSideLink]

// 车辆链表类型
type VehicleList = container.List[IPerson, VehicleSideLink]

// entity/lane/lane.go的依赖倒置
type ILane interface {
	ILaneTrafficLightSetter

	// 初始化

	SetParentRoadWhenInit(parent IRoad, offset int) // 设置lane所在road的指针与偏移量
	SetParentJunctionWhenInit(parent IJunction)     // 设置lane所在junction
	AddConflictZoneWhenInit(zone *ConflictZone)     // 添加lane上的冲突区
	AddRSUWhenInit(rsu RSU)                         // 添加lane上的路侧设施

	// Print

	String() string

	// getter

	ID() int32              // 获取Lane ID
	Length() float64        // 获取Lane长度
	Width() float64         // 获取Lane宽度
	Type() mapv2.LaneType   // 获取Lane类型
	Turn() mapv2.LaneTurn   // 获取Lane转向类型
	ParentID() int32        // 获取Lane的父对象(road/junction)的ID
	Line() []geometry.Point // 获取Lane的中心线
	OffsetInRoad() int      // Road Lane在Road中的偏移量，最左侧为0，往右侧递增

	ProjectFromLane(l ILane, s float64) float64 // 对同一道路内的车道按比例"投影"

	Predecessors() map[int32]Connection // 获取Lane的所有前驱Lane与连接关系
	Successors() map[int32]Connection   // 获取Lane的所有后继Lane与连接关系
	// 查询唯一前驱，仅限于车道类型为DRIVING的路口内车道
	UniquePredecessor() (ILane, error)
	// 查询唯一后继，仅限于车道类型为DRIVING的路口内车道
	UniqueSuccessor() (ILane, error)
	Overlaps() map[float64]Overlap  // 获取Lane上的冲突点列表
	ConflictZones() []*ConflictZone // 获取Lane上的冲突区，按S升序
	RSUs() []RSU                    // 获取Lane上的路侧设施，按位置升序
	LeftLane() ILane                // 获取左侧的Lane
	RightLane() ILane               // 获取右侧的Lane
	NeighborLane(side int) ILane    // 根据side获取左(side=0)/右(side=1)侧的Lane
	InRoad() bool                   // 检查Lane是否为Road Lane
	InJunction() bool               // 检查Lane是否为Junction Lane

	// 将当前车道s坐标转换为xy坐标
	GetPositionByS(s float64) geometry.Point
	// 根据本车道s坐标计算切向角度
	GetDirectionByS(s float64) geometry.PolylineDirection

	// 获取特定位置车辆

	FirstVehicle() *VehicleNode // 获取第一辆车
	LastVehicle() *VehicleNode  // 获取最后一辆车
	Vehicles() *VehicleList     // 获取车道上的车辆
	VehicleCount() int32        // 统计非影子车辆数

	// 车道状态

	MaxV() float64                                                             // 获取车道限速
	SpeedLimitAt(s float64) float64                                            // 获取s处的限速（考虑限速牌）
	Light() (state mapv2.LightState, totalTime float64, remainingTime float64) // 获取信号灯状态

	// 所在道路/路口

	ParentRoad() IRoad         // 获取Lane所在的Road
	ParentJunction() IJunction // 获取Lane所在的Junction

	// Lane链表操作

	AddVehicle(node *VehicleNode)    // 向Lane链表中添加车辆（Prepare后生效）
	RemoveVehicle(node *VehicleNode) // 从Lane链表中移除车辆（Prepare后生效）

	// setter

	SetMaxV(v float64) // 设置车道限速
}

// 车道的信控接口
type ILaneTrafficLightSetter interface {
	SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) // 设置信号灯状态
	IsWalkLane() bool                                                          // 检查是否是人行道
}

// entity/road/road.go的依赖倒置
type IRoad interface {
	String() string

	ID() int32                     // 获取Road ID
	Name() string                  // 获取Road名称
	Lanes() map[int32]ILane        // 获取Road的所有Lane(ID -> Lane)
	DrivingLanes() []ILane         // 获取行车道，按从左到右排序
	RightestDrivingLane() ILane    // 获取最右侧的行车道（最靠近路边）
	DrivingPredecessor() IJunction // 获取前驱Junction
	DrivingSuccessor() IJunction   // 获取后继Junction

	MaxV() float64 // 获取道路限速
	GetAvgDrivingL() float64
}

// entity/junction/junction.go的依赖倒置
type IJunction interface {
	ID() int32              // 获取Junction ID
	Lanes() map[int32]ILane // 获取Junction内的所有车道（Lane ID -> Lane）
	HasTrafficLight() bool  // 判断是否有信号灯

	// 根据(入道路, 出道路) 获取Junction内的行车道组与角度
	DrivingLaneGroup(inRoad, outRoad IRoad) (lanes []ILane, inAngle, outAngle float64, ok bool)
}
