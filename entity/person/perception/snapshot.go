package perception

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
)

// Perception 感知接口
// 说明：lane参数为相对车道偏移，0为当前车道，左正右负
type Perception interface {
	Speed() float64
	Acceleration() float64
	Length() float64
	// ChangingLane 正在进行的换道方向
	ChangingLane() Lateral
	// LaneChangeAllowed 智能体当前是否允许开始换道（例如刚进入路段或刚完成换道）
	LaneChangeAllowed() bool
	SpeedLimit(lane int) carfollowing.SpeedLimitInfo
	LaneExists(lane int) bool
	// Leaders 前车，由近及远
	Leaders(lane int) []Neighbor
	// Followers 后车，由近及远
	Followers(lane int) []Neighbor
	// OccupiedAlongside lat方向相邻车道上是否有并排车辆
	OccupiedAlongside(lat Lateral) bool
	// LegalChangePossible 向lat方向合法换道的剩余距离，不可换道时不为正
	LegalChangePossible(lat Lateral) float64
	// RequiredLaneChanges 在lane车道上时到达目的地还需的换道次数及需完成换道的剩余距离，reachable为false表示无法到达
	RequiredLaneChanges(lane int) (n int, remaining float64, reachable bool)
	// Conflicts 车道上由近及远的冲突区
	Conflicts(lane int) ([]Conflict, error)
	// TrafficLights 车道上由近及远的信号灯
	TrafficLights(lane int) ([]TrafficLight, error)
}

// LaneView 一条相对车道的感知结果
type LaneView struct {
	SpeedLimit carfollowing.SpeedLimitInfo
	Leaders    []Neighbor
	Followers  []Neighbor

	LaneChanges int     // 到达目的地还需的换道次数
	Remaining   float64 // 需完成换道的剩余距离
	Reachable   bool    // 目的地是否可达
}

// IntersectionView 交叉口相关感知结果
type IntersectionView struct {
	Conflicts     map[int][]Conflict
	TrafficLights map[int][]TrafficLight
}

// Snapshot 冻结的感知快照，实现Perception
type Snapshot struct {
	EgoSpeed        float64
	EgoAcceleration float64
	EgoLength       float64
	Changing        Lateral
	ChangeAllowed   bool
	LegalLeft       float64
	LegalRight      float64

	Lanes        map[int]*LaneView
	Intersection *IntersectionView // 为nil表示不具备交叉口感知能力
}

var _ Perception = (*Snapshot)(nil)

func (s *Snapshot) Speed() float64          { return s.EgoSpeed }
func (s *Snapshot) Acceleration() float64   { return s.EgoAcceleration }
func (s *Snapshot) Length() float64         { return s.EgoLength }
func (s *Snapshot) ChangingLane() Lateral   { return s.Changing }
func (s *Snapshot) LaneChangeAllowed() bool { return s.ChangeAllowed }

func (s *Snapshot) lane(lane int) *LaneView {
	if s.Lanes == nil {
		return nil
	}
	return s.Lanes[lane]
}

func (s *Snapshot) SpeedLimit(lane int) carfollowing.SpeedLimitInfo {
	if l := s.lane(lane); l != nil {
		return l.SpeedLimit
	}
	if l := s.lane(0); l != nil {
		return l.SpeedLimit
	}
	return carfollowing.SpeedLimitInfo{}
}

func (s *Snapshot) LaneExists(lane int) bool {
	return s.lane(lane) != nil
}

func (s *Snapshot) Leaders(lane int) []Neighbor {
	if l := s.lane(lane); l != nil {
		return l.Leaders
	}
	return nil
}

func (s *Snapshot) Followers(lane int) []Neighbor {
	if l := s.lane(lane); l != nil {
		return l.Followers
	}
	return nil
}

func (s *Snapshot) OccupiedAlongside(lat Lateral) bool {
	l := s.lane(lat.Lane(1))
	if l == nil {
		return false
	}
	parallel := func(n Neighbor) bool { return n.Parallel() }
	return lo.ContainsBy(l.Leaders, parallel) || lo.ContainsBy(l.Followers, parallel)
}

func (s *Snapshot) LegalChangePossible(lat Lateral) float64 {
	switch lat {
	case Left:
		return s.LegalLeft
	case Right:
		return s.LegalRight
	default:
		return 0
	}
}

func (s *Snapshot) RequiredLaneChanges(lane int) (int, float64, bool) {
	l := s.lane(lane)
	if l == nil {
		return 0, math.Inf(1), false
	}
	return l.LaneChanges, l.Remaining, l.Reachable
}

func (s *Snapshot) Conflicts(lane int) ([]Conflict, error) {
	if s.Intersection == nil {
		return nil, fmt.Errorf("conflicts on lane %d: %w", lane, ErrCapabilityMissing)
	}
	return s.Intersection.Conflicts[lane], nil
}

func (s *Snapshot) TrafficLights(lane int) ([]TrafficLight, error) {
	if s.Intersection == nil {
		return nil, fmt.Errorf("traffic lights on lane %d: %w", lane, ErrCapabilityMissing)
	}
	return s.Intersection.TrafficLights[lane], nil
}
