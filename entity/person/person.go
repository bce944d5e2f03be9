package person

import (
	"errors"
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/protoutil"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	tripv2 "git.fiblab.net/sim/protos/v2/go/city/trip/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/lmrs"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/route"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/schedule"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/randengine"
)

const (
	maxVehicleVNoise = 5  // 车辆速度随机扰动最大值
	maxVehicleANoise = .5 // 车辆加速度随机扰动最大值
)

var errNoTrip = errors.New("no trip to depart")

// Person 人员实体
// 功能：表示模拟系统中的驾驶员与其车辆，管理时刻表、导航与LMRS决策
type Person struct {
	container.IncrementalItemBase
	ctx entity.ITaskContext
	m   *PersonManager

	// 静态属性
	base        *personv2.Person
	id          int32
	vehicleAttr *personv2.VehicleAttribute // 车的属性（已加入随机扰动）

	generator *randengine.Engine // 随机数生成器，以ID为seed

	// 运行时基本数据，记录位置、速度、方向、状态
	runtime  runtime // 运行时数据
	snapshot runtime // 快照

	vehicle *vehicle // 车辆

	schedule *schedule.Schedule // 时刻表

	// 导航
	route         *route.VehicleRoute // 当前行程的导航，只由自身修改
	snapshotRoute route.VehicleRoute  // 导航的快照，供其他车辆查询
}

// stepResult 一步更新的结果
type stepResult struct {
	decision  entity.AgentDecision
	err       error
	startedLC bool
	arrived   bool
}

// newPerson 创建并初始化一个新的Person实例
// 功能：根据基础数据创建Person对象，初始化车辆属性、行为参数、决策器与初始位置
// 参数：ctx-任务上下文，m-人员管理器，base-基础Person数据，laneManager-车道管理器
// 返回：初始化完成的Person实例，数据不合法时返回错误
// 说明：车辆属性中的最大速度与最大刹车加速度加入以ID为种子的随机扰动
func newPerson(
	ctx entity.ITaskContext,
	m *PersonManager,
	base *personv2.Person,
	laneManager entity.ILaneManager,
) (*Person, error) {
	if base.VehicleAttribute == nil {
		return nil, fmt.Errorf("person %d has no vehicle attribute", base.Id)
	}
	p := &Person{
		ctx:         ctx,
		m:           m,
		base:        base,
		id:          base.Id,
		vehicleAttr: protoutil.Clone(base.VehicleAttribute),
		runtime: runtime{
			Status: personv2.Status_STATUS_SLEEP,
		},
		schedule:  schedule.NewSchedule(ctx),
		generator: randengine.New(uint64(base.Id), ctx.RuntimeConfig().C.Seed),
		route:     route.NewVehicleRoute(ctx),
	}
	if err := checkVehicleAttribute(p.vehicleAttr); err != nil {
		return nil, fmt.Errorf("person %d (vehicle_attr=%v): %w", p.ID(), p.vehicleAttr, err)
	}
	// 为车辆属性添加随机扰动
	// 最大速度
	p.vehicleAttr.MaxSpeed = math.Max(p.vehicleAttr.MaxSpeed+
		maxVehicleVNoise*lo.Clamp(.5*p.generator.NormFloat64(), -1, 1),
		.1)
	// 最大刹车加速度，不弱于常用刹车加速度
	p.vehicleAttr.MaxBrakingAcceleration = math.Min(p.vehicleAttr.MaxBrakingAcceleration+
		maxVehicleANoise*lo.Clamp(.5*p.generator.NormFloat64(), -1, 1),
		p.vehicleAttr.UsualBrakingAcceleration)

	params, err := m.newParameters(p.vehicleAttr)
	if err != nil {
		return nil, fmt.Errorf("person %d: %w", p.ID(), err)
	}
	model, err := carfollowing.ByName(ctx.RuntimeConfig().M.CarFollowing, p.generator)
	if err != nil {
		return nil, fmt.Errorf("person %d: %w", p.ID(), err)
	}
	p.vehicle = &vehicle{length: p.vehicleAttr.Length}
	if p.vehicle.controller, err = newController(p, params, model, m.cfg); err != nil {
		return nil, fmt.Errorf("person %d: %w", p.ID(), err)
	}
	// 设置人的初始位置
	home, err := route.NewRoutePosition(laneManager, base.Home)
	if err != nil {
		return nil, fmt.Errorf("person %d has bad home position: %w", p.ID(), err)
	}
	p.runtime.Lane = home.Lane
	p.runtime.S = home.S
	p.runtime.XYZ = home.Lane.GetPositionByS(home.S)
	p.schedule.Set(base.GetSchedules(), ctx.Clock().T)
	p.snapshot = p.runtime
	return p, nil
}

// checkVehicleAttribute 车辆属性检查
func checkVehicleAttribute(attr *personv2.VehicleAttribute) error {
	switch {
	case attr.MaxSpeed <= 0:
		return errors.New("vehicle max speed is not positive")
	case attr.MaxAcceleration <= 0:
		return errors.New("vehicle max acceleration is not positive")
	case attr.MaxBrakingAcceleration >= 0:
		return errors.New("vehicle max braking acceleration is not negative")
	case attr.UsualAcceleration <= 0:
		return errors.New("vehicle usual acceleration is not positive")
	case attr.UsualBrakingAcceleration >= 0:
		return errors.New("vehicle usual braking acceleration is not negative")
	case attr.Length <= 0:
		return errors.New("vehicle length is not positive")
	case attr.Width <= 0:
		return errors.New("vehicle width is not positive")
	case attr.MinGap < 0:
		return errors.New("vehicle min gap is negative")
	case attr.Headway < 0:
		return errors.New("vehicle headway is negative")
	}
	return nil
}

func (p *Person) prepareNode() {
	if p.runtime.Status != personv2.Status_STATUS_DRIVING {
		return
	}
	// 完成计算，清空支链
	p.vehicle.node.Extra.Clear()
	if p.runtime.LC.IsLC {
		p.vehicle.shadowNode.Extra.Clear()
	}
	// key值更新
	p.vehicle.node.S = p.runtime.S
	if p.runtime.LC.IsLC {
		p.vehicle.shadowNode.S = p.runtime.LC.ShadowS
	}
}

// prepare 准备阶段，冻结快照
// 功能：复制运行时数据，并冻结其他车辆在下一步会读取的参数、限速、阻塞状态与导航
func (p *Person) prepare() {
	p.snapshot = p.runtime
	if p.runtime.Status != personv2.Status_STATUS_DRIVING {
		return
	}
	planner := p.vehicle.controller.planner
	p.snapshot.Params = planner.Params.Clone()
	p.snapshot.SpeedLimit = carfollowing.SpeedLimitInfo{
		LegalSpeedLimit: p.runtime.Lane.SpeedLimitAt(p.runtime.S),
		MaxVehicleSpeed: p.vehicleAttr.MaxSpeed,
	}
	p.snapshot.Blocked = planner.Data.Plans.Blocking()
	p.snapshotRoute = *p.route
}

// update 更新阶段，执行一步决策与运动
// 说明：到达终点后转为SLEEP并进入下一次出行
func (p *Person) update(dt float64) stepResult {
	isEnd, startedLC, err := p.updateVehicle(dt)
	if err != nil {
		log.Warnf("person %d: %v", p.ID(), err)
	}
	res := stepResult{
		decision:  p.decision(startedLC),
		err:       err,
		startedLC: startedLC,
		arrived:   isEnd,
	}
	if isEnd {
		p.runtime.Status = personv2.Status_STATUS_SLEEP
		p.schedule.NextTrip(p.ctx.Clock().T)
	}
	return res
}

// decision 本步的决策记录
func (p *Person) decision(startedLC bool) entity.AgentDecision {
	ac := p.runtime.Action
	d := entity.AgentDecision{
		ID:           p.id,
		Lane:         p.runtime.Lane.ID(),
		S:            p.runtime.S,
		V:            p.runtime.V,
		Acceleration: ac.A,
		Indicator:    ac.Indicator,
		SyncState:    ac.SyncState.String(),
		DesireLeft:   ac.Desire.Left,
		DesireRight:  ac.Desire.Right,
	}
	if startedLC {
		d.LaneChange = ac.LaneChange
	}
	return d
}

// depart 按当前trip出发
// 算法说明：
// 1. 以当前位置为起点、trip终点为终点处理预计算路径
// 2. 清空上一次出行的决策记忆
// 3. 在起点车道上加入车辆节点（Prepare后生效）
func (p *Person) depart() error {
	trip := p.schedule.GetTrip()
	if trip == nil {
		return errNoTrip
	}
	start := entity.RoutePosition{Lane: p.runtime.Lane, S: p.runtime.S}
	end, err := route.NewRoutePosition(p.ctx.LaneManager(), trip.End)
	if err != nil {
		return err
	}
	r := route.NewVehicleRoute(p.ctx)
	if err := r.ProcessInputJourney(trip.Routes[0], start, end); err != nil {
		return err
	}
	p.route = r
	p.vehicle.controller.planner.Data = lmrs.NewData()

	p.runtime.Status = personv2.Status_STATUS_DRIVING
	p.runtime.V = 0
	p.runtime.Action = Action{}
	p.runtime.clearLaneChange()
	p.runtime.XYZ = p.runtime.Lane.GetPositionByS(p.runtime.S)
	p.vehicle.node = newVehicleNode(p.runtime.S, p)
	p.vehicle.shadowNode = nil
	p.runtime.Lane.AddVehicle(p.vehicle.node)
	log.Debugf("person %d departs from %v to %v via %v", p.ID(), start, end, r)
	return nil
}

// 获取人的ID
func (p *Person) ID() int32 {
	if p == nil {
		return -1
	}
	return p.id
}

// 获取人开车时的车辆属性
func (p *Person) VehicleAttr() *personv2.VehicleAttribute {
	return p.vehicleAttr
}

// 获取人的速度
func (p *Person) V() float64 {
	return p.snapshot.V
}

// 获取车长
func (p *Person) Length() float64 {
	return p.vehicle.length
}

// 获取人所在的Lane
func (p *Person) Lane() entity.ILane {
	return p.snapshot.Lane
}

// 获取人在Lane上的位置S坐标
func (p *Person) S() float64 {
	return p.snapshot.S
}

// 获取人的状态
func (p *Person) Status() personv2.Status {
	return p.snapshot.Status
}

// Neighbor 以冻结快照生成邻车记录
func (p *Person) Neighbor(distance float64) perception.Neighbor {
	sn := &p.snapshot
	n := perception.Neighbor{
		ID:           p.id,
		Distance:     distance,
		Speed:        sn.V,
		Acceleration: sn.Action.A,
		Length:       p.vehicle.length,
		Params:       sn.Params,
		Model:        p.vehicle.controller.neighborModel,
		SpeedLimit:   sn.SpeedLimit,
		Indicator:    sn.Action.Indicator,
		DLC:          math.NaN(),
	}
	if sn.LC.IsLC {
		n.ChangingLane = sn.LC.Direction
	}
	if sn.Params != nil {
		n.DesireLeft = sn.Params.GetOr(parameter.DLeft, 0)
		n.DesireRight = sn.Params.GetOr(parameter.DRight, 0)
		n.DLC = sn.Params.GetOr(parameter.DLC, math.NaN())
	}
	return n
}

// Blocked 上一步结束时是否处于阻塞状态
func (p *Person) Blocked() bool {
	return p.snapshot.Blocked
}

// WillUse 车辆的路线是否会经过lane
func (p *Person) WillUse(lane entity.ILane) bool {
	if p.snapshot.Status != personv2.Status_STATUS_DRIVING {
		return false
	}
	return p.snapshotRoute.WillUse(lane)
}

// 产生人的基础Protobuf
func (p *Person) ToBasePb() *personv2.Person {
	pb := protoutil.Clone(p.base)
	pb.Schedules = lo.Map(p.schedule.Base(), func(s *tripv2.Schedule, _ int) *tripv2.Schedule {
		return protoutil.Clone(s)
	})
	return pb
}

// 产生人的运行时Protobuf
func (p *Person) ToMotionPb() *personv2.PersonMotion {
	return p.snapshot.ToPb(p)
}

func (p *Person) String() string {
	return fmt.Sprintf("Person %d (%v, lane=%d, s=%.2f, v=%.2f, lc=%v)",
		p.ID(), p.snapshot.Status, laneID(p.snapshot.Lane), p.snapshot.S, p.snapshot.V, p.snapshot.LC.IsLC)
}
