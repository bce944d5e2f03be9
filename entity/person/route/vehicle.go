package route

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

type JunctionCandidate struct {
	// Lanes和PreLanes一一对应，即PreLanes[i]是Lanes[i]的前驱
	// PreLanes按从左到右排列
	Junction entity.IJunction // 路口
	Lanes    []entity.ILane   // 路口内的车道
	PreLanes []entity.ILane   // 进入路口的车道
}

func (j JunctionCandidate) String() string {
	return fmt.Sprintf("JunctionCandidate{id: %v}", j.Junction.ID())
}

// 路径指针化，主要处理车辆
type VehicleRoute struct {
	ctx entity.ITaskContext

	Start, End entity.RoutePosition // 导航起点终点

	// 路径的组成：start -> roads[0] -> juncLaneGroups[0] -> roads[1] -> ... -> roads[n-1] -> end
	// Vehicle对Route的使用方式：
	// 1. 如果是AtLast（len(roads) == 1 && len(juncLaneGroups) == 0），则需要变道到终点所在车道
	// 2. 如果当前在road上，需要变道进入juncLaneGroups[0]中标记的进入路口的车道集合
	// 3. 如果在junction上，无
	// 4. 完成一条lane后，如果当前在road上，且lane不在juncLaneGroups[0]的进入路口的车道集合中，则传送到最近的对应车道
	// 5. 完成一条lane后，如果当前在junction上，则进入其后继

	AtRoad                 bool                // 当前导航在roads上
	Roads                  []entity.IRoad      // 路径中的所有road
	JuncLaneGroups         []JunctionCandidate // 路径中的所有路口（长度总是等于roads或者比roads少1）
	Eta                    float64             // 预计到达用时
	EtaFreeFlow            float64             // 预计到达用时（道路最高限速+路口不计算）
	EstimatedTotalDistance float64             // 估计的总行驶距离（米）
}

func NewVehicleRoute(ctx entity.ITaskContext) *VehicleRoute {
	return &VehicleRoute{ctx: ctx}
}

func (r VehicleRoute) String() string {
	return fmt.Sprintf("VehicleRoute{Start: %v, End: %v, AtRoad: %v, Roads: %v, JuncLaneGroups: %v, Eta: %v, EtaFreeFlow: %v}",
		r.Start, r.End, r.AtRoad, lo.Map(r.Roads, func(road entity.IRoad, _ int) int32 { return road.ID() }),
		r.JuncLaneGroups, r.Eta, r.EtaFreeFlow)
}

// AtLast 是否已经在最后一条road上
func (r *VehicleRoute) AtLast() bool {
	return r.AtRoad && len(r.JuncLaneGroups) == 0
}

// 根据指示的进入路口前的车道，找到"最适合"的junction lane
// 最适合：offset差距最小（可能不为0，即不为直行可达的）
func (r *VehicleRoute) GetJunctionLaneByPreLane(preLane entity.ILane, juncIndex int) (entity.ILane, int) {
	if juncIndex >= len(r.JuncLaneGroups) {
		return nil, 0
	}
	group := r.JuncLaneGroups[juncIndex]
	preLaneOffset := preLane.OffsetInRoad()
	minDelta := math.MaxInt
	var nearestLanes []entity.ILane
	for i, pre := range group.PreLanes {
		delta := mathutil.Abs(pre.OffsetInRoad() - preLaneOffset)
		if delta < minDelta {
			minDelta = delta
			nearestLanes = []entity.ILane{group.Lanes[i]}
		} else if delta == minDelta {
			nearestLanes = append(nearestLanes, group.Lanes[i])
		}
	}
	// 如果只有1个合适的，不用再考虑了
	if len(nearestLanes) == 1 {
		return nearestLanes[0], minDelta
	}
	// 如果有超过1个合适的，计算junction lane的后继lane再下一个路口的offset情况
	bestLane := nearestLanes[0]
	minNextDelta := math.MaxInt
	for _, juncLane := range nearestLanes {
		nextPreLane, err := juncLane.UniqueSuccessor()
		if err != nil {
			continue
		}
		_, nextDelta := r.GetJunctionLaneByPreLane(nextPreLane, juncIndex+1)
		if nextDelta < minNextDelta {
			minNextDelta = nextDelta
			bestLane = juncLane
		}
	}
	return bestLane, minDelta
}

// Next 完成curLane行驶后的下一个车道
// 功能：推进导航状态，返回nil表示已经没有下一个车道（到达最后一条road的末端）
// 说明：在road上且curLane不在进入路口的车道集合中时，选择offset最近的路口车道
func (r *VehicleRoute) Next(curLane entity.ILane) (entity.ILane, error) {
	var nextLane entity.ILane
	if r.AtRoad {
		if len(r.JuncLaneGroups) == 0 {
			return nil, nil
		}
		var delta int
		nextLane, delta = r.GetJunctionLaneByPreLane(curLane, 0)
		if delta != 0 {
			log.Debugf("VehicleRoute: lane %d is not a candidate of junction %v, move to junction lane %d",
				curLane.ID(), r.JuncLaneGroups[0], nextLane.ID())
		}
		r.Roads = r.Roads[1:]
	} else {
		var err error
		nextLane, err = curLane.UniqueSuccessor()
		if err != nil {
			return nil, fmt.Errorf("VehicleRoute: lane %d has bad successor: %w", curLane.ID(), err)
		}
		r.JuncLaneGroups = r.JuncLaneGroups[1:]
	}
	r.AtRoad = !r.AtRoad
	return nextLane, nil
}

// Ahead 沿路线向前查看
// 功能：不改变导航状态，返回从curLane末端开始依次经过的车道，直到累计长度覆盖distance
// 参数：curLane-当前车道（车辆所在车道或同一road的相邻车道），s-在curLane上的位置，distance-查看距离
// 返回：curLane之后的车道序列
func (r *VehicleRoute) Ahead(curLane entity.ILane, s, distance float64) []entity.ILane {
	var lanes []entity.ILane
	acc := curLane.Length() - s
	juncIndex := 0
	lane := curLane
	for acc < distance {
		var next entity.ILane
		if lane.InRoad() {
			if juncIndex >= len(r.JuncLaneGroups) {
				break
			}
			next, _ = r.GetJunctionLaneByPreLane(lane, juncIndex)
		} else {
			var err error
			if next, err = lane.UniqueSuccessor(); err != nil {
				break
			}
			juncIndex++
		}
		lanes = append(lanes, next)
		acc += next.Length()
		lane = next
	}
	return lanes
}

// WillUse 路线剩余部分是否会经过lane
func (r *VehicleRoute) WillUse(lane entity.ILane) bool {
	if lane.InRoad() {
		return lo.Contains(r.Roads, lane.ParentRoad())
	}
	return lo.ContainsBy(r.JuncLaneGroups, func(g JunctionCandidate) bool {
		return lo.Contains(g.Lanes, lane)
	})
}

// RequiredLaneChanges 在lane上s处时沿路线行驶还需的换道次数
// 功能：为换道决策提供路线信息
// 参数：lane-车辆所在车道或同一road的相邻车道，s-在lane上的位置
// 返回：n-换道次数，remaining-完成换道的剩余距离，reachable-沿路线是否可达
// 算法说明：
// 1. 路口内无法换道，返回(0, +Inf, true)
// 2. 非行车道或不在当前road上时不可达
// 3. 最后一条road：换道到终点车道，剩余距离到终点
// 4. 其他road：换道到最近的进入路口车道，剩余距离到车道末端
func (r *VehicleRoute) RequiredLaneChanges(lane entity.ILane, s float64) (n int, remaining float64, reachable bool) {
	if lane.InJunction() {
		return 0, math.Inf(1), true
	}
	if !r.AtRoad || len(r.Roads) == 0 || lane.ParentRoad() != r.Roads[0] {
		return 0, math.Inf(1), false
	}
	if !lo.Contains(lane.ParentRoad().DrivingLanes(), lane) {
		return 0, math.Inf(1), false
	}
	offset := lane.OffsetInRoad()
	if len(r.JuncLaneGroups) == 0 {
		return mathutil.Abs(r.End.Lane.OffsetInRoad() - offset), math.Max(r.End.S-s, 0), true
	}
	n = math.MaxInt
	for _, pre := range r.JuncLaneGroups[0].PreLanes {
		n = min(n, mathutil.Abs(pre.OffsetInRoad()-offset))
	}
	return n, math.Max(lane.Length()-s, 0), true
}

// ProcessInputJourney 处理输入的单个journey
// 功能：根据预先给定的驾车路径（road序列）生成导航
// 参数：pb-驾车路径，start-起点，end-终点
// 返回：路径无效时返回error
func (r *VehicleRoute) ProcessInputJourney(pb *routingv2.Journey, start, end entity.RoutePosition) error {
	if pb.Type != routingv2.JourneyType_JOURNEY_TYPE_DRIVING || pb.Driving == nil {
		return fmt.Errorf("VehicleRoute: unsupported journey type %v", pb.Type)
	}
	if len(pb.Driving.RoadIds) == 0 {
		return fmt.Errorf("VehicleRoute: empty journey")
	}
	r.Start = start
	r.End = end
	return r.processJourneyCommon(pb.Driving.RoadIds, pb.Driving.Eta)
}

// 处理路径的共同逻辑
func (r *VehicleRoute) processJourneyCommon(roadIDs []int32, eta float64) error {
	// roadIDs -> roads
	roads := make([]entity.IRoad, len(roadIDs))
	for i, roadID := range roadIDs {
		road, err := r.ctx.RoadManager().GetOrError(roadID)
		if err != nil {
			return err
		}
		roads[i] = road
	}
	if first := roads[0]; r.Start.Lane.ParentRoad() != first {
		return fmt.Errorf("VehicleRoute: first road %d does not match start %v", first.ID(), r.Start)
	}
	if last := roads[len(roads)-1]; r.End.Lane.ParentRoad() != last {
		return fmt.Errorf("VehicleRoute: last road %d does not match end %v", last.ID(), r.End)
	}
	if len(roads) == 1 && r.End.S < r.Start.S {
		return fmt.Errorf("VehicleRoute: end %v is behind start %v on the same road", r.End, r.Start)
	}

	// -> junction lane group
	groups := make([]JunctionCandidate, len(roads)-1)
	for i := 0; i < len(roads)-1; i++ {
		inRoad := roads[i]
		outRoad := roads[i+1]
		junc := inRoad.DrivingSuccessor()
		if junc == nil {
			return fmt.Errorf("VehicleRoute: road %d has no successor", inRoad.ID())
		}
		lanes, _, _, ok := junc.DrivingLaneGroup(inRoad, outRoad)
		if !ok {
			return fmt.Errorf("VehicleRoute: road %d and %d are not connected", inRoad.ID(), outRoad.ID())
		}
		preLanes := make([]entity.ILane, len(lanes))
		for j, l := range lanes {
			pre, err := l.UniquePredecessor()
			if err != nil {
				return fmt.Errorf("VehicleRoute: lane %d: %w", l.ID(), err)
			}
			if pre.ParentRoad() != inRoad {
				return fmt.Errorf("VehicleRoute: predecessor of lane %d is not in road %d", l.ID(), inRoad.ID())
			}
			preLanes[j] = pre
		}
		groups[i] = JunctionCandidate{Junction: junc, Lanes: lanes, PreLanes: preLanes}
	}
	r.Roads = roads
	r.JuncLaneGroups = groups
	r.AtRoad = true
	r.Eta = eta
	// 预计到达用时（道路最高限速+路口不计算）
	r.EtaFreeFlow = 0
	r.EstimatedTotalDistance = 0
	if len(roads) == 1 {
		d := r.End.S - r.Start.S
		r.EstimatedTotalDistance = d
		r.EtaFreeFlow = d / roads[0].MaxV()
		return nil
	}
	// 1. 计算起点到第一个路口的时间
	road := roads[0]
	d := math.Max(road.GetAvgDrivingL()-r.Start.S, 0)
	r.EstimatedTotalDistance += d
	r.EtaFreeFlow += d / road.MaxV()
	// 2. 计算中间道路的时间
	for _, road := range roads[1 : len(roads)-1] {
		d := road.GetAvgDrivingL()
		r.EstimatedTotalDistance += d
		r.EtaFreeFlow += d / road.MaxV()
	}
	// 3. 计算最后一个路口到终点的时间
	road = roads[len(roads)-1]
	d = r.End.S
	r.EstimatedTotalDistance += d
	r.EtaFreeFlow += d / road.MaxV()
	return nil
}

// 将VehicleRoute的当前剩余路由转为Protobuf格式
func (r *VehicleRoute) ToPb() *routingv2.Journey {
	return &routingv2.Journey{
		Type: routingv2.JourneyType_JOURNEY_TYPE_DRIVING,
		Driving: &routingv2.DrivingJourneyBody{
			RoadIds: lo.Map(r.Roads, func(road entity.IRoad, _ int) int32 {
				return road.ID()
			}),
			Eta: r.Eta,
		},
	}
}
