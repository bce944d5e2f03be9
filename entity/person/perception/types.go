// Package perception 智能体的感知快照
// 功能：定义决策所需的邻车、冲突区、信号灯等感知记录，以及感知接口
// 说明：一个仿真步内所有决策读取的都是上一步结束时冻结的数据，快照中的邻车参数均为副本
package perception

import (
	"errors"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
)

// ErrCapabilityMissing 智能体的配置要求某项感知能力，但快照中不存在
var ErrCapabilityMissing = errors.New("perception capability missing")

// Lateral 横向方向
type Lateral int8

const (
	None  Lateral = 0
	Left  Lateral = 1
	Right Lateral = -1
)

func (l Lateral) String() string {
	switch l {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "none"
	}
}

// Flip 反方向
func (l Lateral) Flip() Lateral {
	return -l
}

// Lane 该方向上第n条相邻车道的相对偏移量（左正右负），n=0为当前车道
func (l Lateral) Lane(n int) int {
	return int(l) * n
}

// Neighbor 邻车记录
// 说明：Params与Model用于计算邻车自身的跟驰响应。Params为冻结副本，被所有感知到该邻车的智能体共享，
// 只读；需要临时修改（如缩短车头时距）时先Clone
type Neighbor struct {
	ID           int32   // 智能体下标
	Distance     float64 // 净间距（米），前车为自身车头到其车尾，后车为其车头到自身车尾；并排时为负
	Speed        float64 // 速度（米/秒）
	Acceleration float64 // 加速度（米/秒²）
	Length       float64 // 车长（米）

	Params     *parameter.Parameters
	Model      carfollowing.Model
	SpeedLimit carfollowing.SpeedLimitInfo

	ChangingLane Lateral // 正在进行的换道方向
	Indicator    Lateral // 转向灯
	DesireLeft   float64 // 上一步发布的向左换道意愿
	DesireRight  float64 // 上一步发布的向右换道意愿
	DLC          float64 // 上一步换道时的意愿，未知时为NaN
}

// DesireToward 邻车向lat方向换道的意愿
func (n *Neighbor) DesireToward(lat Lateral) float64 {
	switch lat {
	case Left:
		return n.DesireLeft
	case Right:
		return n.DesireRight
	default:
		return 0
	}
}

// Parallel 是否与自身并排（间距为负）
func (n *Neighbor) Parallel() bool {
	return n.Distance < 0
}

// ConflictType 冲突类型
type ConflictType int8

const (
	Merge ConflictType = iota
	Split
	Crossing
)

func (t ConflictType) String() string {
	return [...]string{"merge", "split", "crossing"}[t]
}

// ConflictRule 冲突区通行规则
type ConflictRule int8

const (
	Priority ConflictRule = iota // 本方向优先
	GiveWay                      // 让行
	Stop                         // 停车让行
)

func (r ConflictRule) String() string {
	return [...]string{"priority", "give-way", "stop"}[r]
}

// ConflictingVehicle 冲突方向上的车辆
// 说明：上游车辆的Distance为车头到冲突区起点的距离；
// 下游车辆的Distance为冲突区起点到其车尾的距离，小于冲突区长度时车辆仍在冲突区内
type ConflictingVehicle struct {
	Neighbor
	OnRoute bool // 其路线是否经过该冲突区
	Blocked bool // 上一步结束时是否报告自己处于阻塞状态
}

// Conflict 感知到的冲突区
type Conflict struct {
	ID        int32
	Type      ConflictType
	Rule      ConflictRule
	Distance  float64 // 车头到冲突区起点的距离，已进入时为负
	Length    float64 // 冲突区长度
	KeepClear bool    // 不允许停在其中
	SameRoad  bool    // 冲突双方属于同一道路（道路内的合流/分流）

	Upstream   []ConflictingVehicle // 冲突方向上游车辆，由近及远
	Downstream []ConflictingVehicle // 冲突方向上已越过冲突区起点的车辆，由近及远

	Visibility            float64 // 冲突方向的可视距离
	ConflictingSpeedLimit float64 // 冲突方向的限速
}

func (c *Conflict) IsMerge() bool    { return c.Type == Merge }
func (c *Conflict) IsSplit() bool    { return c.Type == Split }
func (c *Conflict) IsCrossing() bool { return c.Type == Crossing }

// LightColor 信号灯颜色
type LightColor int8

const (
	Green LightColor = iota
	Yellow
	Red
)

// TrafficLight 感知到的信号灯
type TrafficLight struct {
	Distance float64
	Color    LightColor
}
