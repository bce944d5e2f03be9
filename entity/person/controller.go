package person

import (
	"cmp"
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/lmrs"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"golang.org/x/exp/slices"
)

const (
	// https://jtgl.beijing.gov.cn/jgj/94220/aqcs/139634/index.html
	viewDistanceFactor   = 12  // 在一般情况下，观察距离应等于汽车在12秒内所通过的路程。如果车速为每小时60公里，则观察距离应为200米。
	minViewDistance      = 50  // 最小观察距离（米）
	followerViewDistance = 100 // 后方观察距离（米）
	conflictVisibility   = 100 // 冲突方向的可视距离（米）
	maxNeighbors         = 8   // 每条车道最多感知的前车/后车数量
	maxScanLanes         = 2   // 感知参考车道两侧各多少条车道
	minLCInterval        = 2   // 两次换道之间的最小间隔（秒）
)

// controller 车辆控制器
// 功能：构建感知快照并调用LMRS决策器得到车辆动作
type controller struct {
	self          *Person
	planner       *lmrs.Planner
	neighborModel carfollowing.Model // 其他车辆计算本车响应时使用的确定性模型

	lastLCTime float64 // 上次开始换道的时间
}

// newController 创建新的车辆控制器
// 参数：self-车辆实体，params-行为参数（由控制器独占），model-跟驰模型，cfg-LMRS配置
func newController(self *Person, params *parameter.Parameters, model carfollowing.Model, cfg *lmrs.Config) (*controller, error) {
	planner, err := lmrs.NewPlanner(params, model, cfg)
	if err != nil {
		return nil, err
	}
	return &controller{
		self:          self,
		planner:       planner,
		neighborModel: carfollowing.Deterministic(model),
		lastLCTime:    math.Inf(-1),
	}, nil
}

// update 一步的决策
// 功能：由上一步结束时冻结的状态构建感知快照，执行LMRS决策并转换为车辆动作
// 返回：车辆动作，决策失败时返回错误
func (c *controller) update() (Action, error) {
	snap := c.perceive()
	dec, err := c.planner.Plan(snap)
	if err != nil {
		return Action{}, err
	}
	if math.IsNaN(dec.Acceleration) {
		return Action{}, fmt.Errorf("person %d: acceleration is NaN", c.self.ID())
	}
	attr := c.self.vehicleAttr
	return newAction(dec, attr.MaxBrakingAcceleration, attr.MaxAcceleration), nil
}

// laneChangeStarted 记录换道开始时间
func (c *controller) laneChangeStarted(t float64) {
	c.lastLCTime = t
}

// perceive 构建感知快照
// 算法说明：
// 1. 参考车道为车辆所在车道，变道时为原车道
// 2. 对参考车道及两侧各maxScanLanes条车道，收集前车、后车、限速与路线信息
// 3. 沿参考车道与路线前方车道收集冲突区与信号灯
func (c *controller) perceive() *perception.Snapshot {
	p := c.self
	rt := &p.snapshot
	ref, s := rt.refLane()
	refNode := p.vehicle.node
	if rt.LC.IsLC {
		refNode = p.vehicle.shadowNode
	}
	view := viewDistance(rt.V)

	snap := &perception.Snapshot{
		EgoSpeed:        rt.V,
		EgoAcceleration: rt.Action.A,
		EgoLength:       p.vehicle.length,
		ChangeAllowed: ref.InRoad() && !rt.LC.IsLC &&
			p.ctx.Clock().T-c.lastLCTime >= minLCInterval,
		Lanes: make(map[int]*perception.LaneView, 2*maxScanLanes+1),
	}
	if rt.LC.IsLC {
		snap.Changing = rt.LC.Direction
	}
	if ref.InRoad() {
		if ref.LeftLane() != nil {
			snap.LegalLeft = ref.Length() - s
		}
		if ref.RightLane() != nil {
			snap.LegalRight = ref.Length() - s
		}
	}

	for n := -maxScanLanes; n <= maxScanLanes; n++ {
		lane := laneAt(ref, n)
		if lane == nil {
			continue
		}
		laneS := s
		var ahead, behind *entity.VehicleNode
		if n != 0 {
			laneS = lane.ProjectFromLane(ref, s)
			// 相邻车道使用车道链表支链作为搜索起点
			if mathutil.Abs(n) == 1 && refNode != nil && refNode.Parent() != nil {
				side := sideOf(perception.Lateral(n))
				ahead = refNode.Extra.Links[side][entity.AFTER]
				behind = refNode.Extra.Links[side][entity.BEFORE]
			}
		}
		snap.Lanes[n] = c.laneView(lane, laneS, ahead, behind, view)
	}
	snap.Intersection = c.intersectionView(ref, s, view)
	return snap
}

// laneView 一条车道的感知结果
func (c *controller) laneView(lane entity.ILane, s float64, ahead, behind *entity.VehicleNode, view float64) *perception.LaneView {
	p := c.self
	n, remaining, reachable := p.route.RequiredLaneChanges(lane, s)
	return &perception.LaneView{
		SpeedLimit: carfollowing.SpeedLimitInfo{
			LegalSpeedLimit: lane.SpeedLimitAt(s),
			MaxVehicleSpeed: p.vehicleAttr.MaxSpeed,
		},
		Leaders:     c.leaders(lane, s, ahead, view),
		Followers:   c.followers(lane, s, behind),
		LaneChanges: n,
		Remaining:   remaining,
		Reachable:   reachable,
	}
}

// leaders 前车，由近及远
// 说明：先搜索本车道s之后的车辆，不足时沿路线搜索前方车道
func (c *controller) leaders(lane entity.ILane, s float64, hint *entity.VehicleNode, view float64) []perception.Neighbor {
	self := c.self
	out := make([]perception.Neighbor, 0, maxNeighbors)
	node := hint
	if node == nil {
		node = lane.Vehicles().FirstAhead(s)
	}
	for ; node != nil && len(out) < maxNeighbors; node = node.Next() {
		if node.Value.ID() == self.id {
			continue
		}
		gap := node.Tail() - s
		if gap > view {
			return out
		}
		out = append(out, node.Value.Neighbor(gap))
	}
	acc := lane.Length() - s
	for _, next := range self.route.Ahead(lane, s, view) {
		if acc > view || len(out) >= maxNeighbors {
			break
		}
		for node := next.FirstVehicle(); node != nil && len(out) < maxNeighbors; node = node.Next() {
			if node.Value.ID() == self.id {
				continue
			}
			gap := acc + node.Tail()
			if gap > view {
				break
			}
			out = append(out, node.Value.Neighbor(gap))
		}
		acc += next.Length()
	}
	return out
}

// followers 后车，由近及远
// 说明：搜索本车道s之前的车辆与所有前驱车道上的车辆
func (c *controller) followers(lane entity.ILane, s float64, hint *entity.VehicleNode) []perception.Neighbor {
	self := c.self
	tail := s - self.vehicle.length
	out := make([]perception.Neighbor, 0, maxNeighbors)
	node := hint
	if node == nil {
		node = lane.Vehicles().LastBehind(s)
	}
	for ; node != nil && len(out) < maxNeighbors; node = node.Prev() {
		if node.Value.ID() == self.id {
			continue
		}
		gap := tail - node.S
		if gap > followerViewDistance {
			break
		}
		out = append(out, node.Value.Neighbor(gap))
	}
	if tail < followerViewDistance {
		for _, conn := range lane.Predecessors() {
			pre := conn.Lane
			for node := pre.LastVehicle(); node != nil; node = node.Prev() {
				if node.Value.ID() == self.id {
					continue
				}
				gap := tail + pre.Length() - node.S
				if gap > followerViewDistance {
					break
				}
				out = append(out, node.Value.Neighbor(gap))
			}
		}
		slices.SortStableFunc(out, func(a, b perception.Neighbor) int {
			return cmp.Compare(a.Distance, b.Distance)
		})
		if len(out) > maxNeighbors {
			out = out[:maxNeighbors]
		}
	}
	return out
}

// intersectionView 参考车道上的冲突区与信号灯，由近及远
func (c *controller) intersectionView(ref entity.ILane, s, view float64) *perception.IntersectionView {
	self := c.self
	var (
		conflicts []perception.Conflict
		lights    []perception.TrafficLight
	)
	lanes := append([]entity.ILane{ref}, self.route.Ahead(ref, s, view)...)
	acc := -s
	for _, lane := range lanes {
		if acc >= view {
			break
		}
		for _, zone := range lane.ConflictZones() {
			d := acc + zone.S
			if d+zone.Length+self.vehicle.length <= 0 {
				// 已完全通过
				continue
			}
			if d >= view {
				break
			}
			conflicts = append(conflicts, c.conflict(zone, d))
		}
		for _, rsu := range lane.RSUs() {
			signal, ok := rsu.(*entity.TrafficSignal)
			if !ok {
				continue
			}
			d := acc + signal.S
			if d < 0 || d >= view {
				continue
			}
			state, _, _ := signal.Lane.Light()
			if color, ok := lightColor(state); ok {
				lights = append(lights, perception.TrafficLight{Distance: d, Color: color})
			}
		}
		acc += lane.Length()
	}
	return &perception.IntersectionView{
		Conflicts:     map[int][]perception.Conflict{0: conflicts},
		TrafficLights: map[int][]perception.TrafficLight{0: lights},
	}
}

// conflict 冲突区感知记录
// 算法说明：
// 1. 上游车辆：冲突车道上车头未到达冲突区起点的车辆，以及冲突车道前驱车道上的车辆
// 2. 下游车辆：冲突车道上车头已越过冲突区起点的车辆
func (c *controller) conflict(zone *entity.ConflictZone, distance float64) perception.Conflict {
	self := c.self
	other := zone.Other
	cv := func(node *entity.VehicleNode, d float64) perception.ConflictingVehicle {
		return perception.ConflictingVehicle{
			Neighbor: node.Value.Neighbor(d),
			OnRoute:  node.Value.WillUse(other),
			Blocked:  node.Value.Blocked(),
		}
	}
	var up, down []perception.ConflictingVehicle
	for node := other.Vehicles().LastBehind(zone.OtherS); node != nil; node = node.Prev() {
		d := zone.OtherS - node.S
		if d > conflictVisibility {
			break
		}
		if node.Value.ID() != self.id {
			up = append(up, cv(node, d))
		}
	}
	preUp := make([]perception.ConflictingVehicle, 0)
	for _, conn := range other.Predecessors() {
		pre := conn.Lane
		for node := pre.LastVehicle(); node != nil; node = node.Prev() {
			d := zone.OtherS + pre.Length() - node.S
			if d > conflictVisibility {
				break
			}
			if node.Value.ID() != self.id {
				preUp = append(preUp, cv(node, d))
			}
		}
	}
	slices.SortStableFunc(preUp, func(a, b perception.ConflictingVehicle) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	up = append(up, preUp...)
	for node := other.Vehicles().FirstAhead(zone.OtherS); node != nil; node = node.Next() {
		d := node.Tail() - zone.OtherS
		if d > conflictVisibility {
			break
		}
		if node.Value.ID() != self.id {
			down = append(down, cv(node, d))
		}
	}
	return perception.Conflict{
		ID:                    zone.ID,
		Type:                  zone.Type,
		Rule:                  zone.Rule,
		Distance:              distance,
		Length:                zone.Length,
		KeepClear:             zone.KeepClear,
		SameRoad:              zone.SameRoad,
		Upstream:              up,
		Downstream:            down,
		Visibility:            conflictVisibility,
		ConflictingSpeedLimit: other.MaxV(),
	}
}
