package lane

import (
	"fmt"
	"testing"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
)

type fakePerson struct {
	id     int32
	shadow entity.ILane
}

func (p *fakePerson) ID() int32                               { return p.id }
func (p *fakePerson) VehicleAttr() *personv2.VehicleAttribute { return nil }
func (p *fakePerson) Lane() entity.ILane                      { return nil }
func (p *fakePerson) S() float64                              { return 0 }
func (p *fakePerson) ShadowLane() entity.ILane                { return p.shadow }
func (p *fakePerson) ShadowS() float64                        { return 0 }
func (p *fakePerson) V() float64                              { return 0 }
func (p *fakePerson) Length() float64                         { return 5 }
func (p *fakePerson) IsLC() bool                              { return p.shadow != nil }
func (p *fakePerson) Neighbor(d float64) perception.Neighbor  { return perception.Neighbor{ID: p.id, Distance: d} }
func (p *fakePerson) Blocked() bool                           { return false }
func (p *fakePerson) WillUse(entity.ILane) bool               { return false }
func (p *fakePerson) String() string                          { return fmt.Sprintf("fake %d", p.id) }

func straight(id int32, y, length float64, left, right []int32) *mapv2.Lane {
	return &mapv2.Lane{
		Id:       id,
		Type:     mapv2.LaneType_LANE_TYPE_DRIVING,
		Turn:     mapv2.LaneTurn_LANE_TURN_STRAIGHT,
		MaxSpeed: 15,
		Width:    3.2,
		CenterLine: &geov2.Polyline{Nodes: []*geov2.XYPosition{
			{X: 0, Y: y}, {X: length / 2, Y: y}, {X: length, Y: y},
		}},
		LeftLaneIds:  left,
		RightLaneIds: right,
	}
}

func newTestManager() *LaneManager {
	m := NewManager()
	m.Init([]*mapv2.Lane{
		straight(1, 3.2, 100, nil, []int32{2}),
		straight(2, 0, 200, []int32{1}, nil),
	})
	return m
}

func TestLaneGeometry(t *testing.T) {
	m := newTestManager()
	l := m.Get(1)
	assert.Equal(t, 100.0, l.Length())
	assert.Equal(t, int32(2), l.RightLane().ID())
	assert.Nil(t, l.LeftLane())
	assert.Equal(t, l, m.Get(2).NeighborLane(entity.LEFT))

	pos := l.GetPositionByS(25)
	assert.InDelta(t, 25, pos.X, 1e-9)
	assert.InDelta(t, 3.2, pos.Y, 1e-9)
	pos = l.GetPositionByS(150)
	assert.InDelta(t, 100, pos.X, 1e-9)

	_, err := m.GetOrError(3)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Get(3) })
}

func TestSpeedLimitSigns(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.InitSpeedLimitSigns([]config.SpeedLimitSign{
		{Lane: 1, S: 60, Limit: 8},
		{Lane: 1, S: 30, Limit: 10},
	}))
	l := m.Get(1)
	require.Len(t, l.RSUs(), 2)
	assert.Equal(t, 30.0, l.RSUs()[0].Position())
	assert.Equal(t, 15.0, l.SpeedLimitAt(10))
	assert.Equal(t, 10.0, l.SpeedLimitAt(30))
	assert.Equal(t, 8.0, l.SpeedLimitAt(99))

	assert.Error(t, m.InitSpeedLimitSigns([]config.SpeedLimitSign{{Lane: 9, S: 1, Limit: 5}}))
	assert.Error(t, m.InitSpeedLimitSigns([]config.SpeedLimitSign{{Lane: 1, S: 101, Limit: 5}}))
}

func TestConflictZonesSorted(t *testing.T) {
	m := newTestManager()
	l, other := m.Get(1), m.Get(2)
	l.AddConflictZoneWhenInit(&entity.ConflictZone{ID: 1, S: 50, Other: other})
	l.AddConflictZoneWhenInit(&entity.ConflictZone{ID: 2, S: 10, Other: other})
	l.AddConflictZoneWhenInit(&entity.ConflictZone{ID: 3, S: 70, Other: other})
	ids := []int32{}
	for _, z := range l.ConflictZones() {
		ids = append(ids, z.ID)
	}
	assert.Equal(t, []int32{2, 1, 3}, ids)
}

func TestVehicleListAndSideLinks(t *testing.T) {
	m := newTestManager()
	l1, l2 := m.Get(1), m.Get(2)

	// lane 1: 车辆位于20、60；lane 2: 车辆位于30、100、180（按比例为15%、50%、90%）
	a := &entity.VehicleNode{S: 20, Value: &fakePerson{id: 1}}
	b := &entity.VehicleNode{S: 60, Value: &fakePerson{id: 2}}
	c := &entity.VehicleNode{S: 30, Value: &fakePerson{id: 3}}
	d := &entity.VehicleNode{S: 100, Value: &fakePerson{id: 4, shadow: l2}}
	e := &entity.VehicleNode{S: 180, Value: &fakePerson{id: 5}}
	for _, n := range []*entity.VehicleNode{b, a} {
		l1.AddVehicle(n)
	}
	for _, n := range []*entity.VehicleNode{e, c, d} {
		l2.AddVehicle(n)
	}
	m.Prepare()

	assert.Equal(t, a, l1.FirstVehicle())
	assert.Equal(t, b, l1.LastVehicle())
	assert.Equal(t, int32(2), l2.VehicleCount())

	// a: 20% -> 后方c(15%)，前方d(50%)
	assert.Equal(t, c, a.Extra.Links[entity.RIGHT][entity.BEFORE])
	assert.Equal(t, d, a.Extra.Links[entity.RIGHT][entity.AFTER])
	// b: 60% -> 后方d，前方e
	assert.Equal(t, d, b.Extra.Links[entity.RIGHT][entity.BEFORE])
	assert.Equal(t, e, b.Extra.Links[entity.RIGHT][entity.AFTER])
	assert.Nil(t, a.Extra.Links[entity.LEFT][entity.AFTER])
	// c: 15% -> 前方a
	assert.Nil(t, c.Extra.Links[entity.LEFT][entity.BEFORE])
	assert.Equal(t, a, c.Extra.Links[entity.LEFT][entity.AFTER])

	// 位置更新后失序的节点在下一次Prepare时归位
	a.S = 80
	l1.RemoveVehicle(b)
	m.Prepare()
	assert.Equal(t, []float64{80}, l1.Vehicles().Keys())
	assert.Nil(t, b.Parent())
}

func TestLight(t *testing.T) {
	m := newTestManager()
	l := m.Get(1)
	state, _, _ := l.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_GREEN, state)
	l.SetLight(mapv2.LightState_LIGHT_STATE_RED, 30, 12)
	state, total, remaining := l.Light()
	assert.Equal(t, mapv2.LightState_LIGHT_STATE_RED, state)
	assert.Equal(t, 30.0, total)
	assert.Equal(t, 12.0, remaining)
	assert.False(t, l.IsWalkLane())
}
