package person

import (
	"math"
	"testing"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	tripv2 "git.fiblab.net/sim/protos/v2/go/city/trip/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/clock"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/internal/testmap"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/road"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
)

type fakeContext struct {
	clk *clock.Clock
	lm  *lane.LaneManager
	rm  *road.RoadManager
	jm  *junction.JunctionManager
	pm  *PersonManager
	rc  *config.RuntimeConfig
}

func (c *fakeContext) Clock() *clock.Clock                      { return c.clk }
func (c *fakeContext) LaneManager() entity.ILaneManager         { return c.lm }
func (c *fakeContext) RoadManager() entity.IRoadManager         { return c.rm }
func (c *fakeContext) JunctionManager() entity.IJunctionManager { return c.jm }
func (c *fakeContext) PersonManager() entity.IPersonManager     { return c.pm }
func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig     { return c.rc }

func newContext(t *testing.T, total int32, model config.Model) *fakeContext {
	t.Helper()
	m := testmap.New(false)
	cfg := config.Config{
		Control: config.Control{Step: config.ControlStep{Total: total, Interval: 1}},
		Model:   model,
	}
	ctx := &fakeContext{rc: config.NewRuntimeConfig(cfg)}
	ctx.clk = clock.New(ctx.rc.C.Step)
	ctx.lm = lane.NewManager()
	ctx.lm.Init(m.Lanes)
	ctx.rm = road.NewManager()
	ctx.rm.Init(m.Roads, ctx.lm)
	ctx.jm = junction.NewManager(ctx)
	ctx.jm.Init(m.Junctions, ctx.lm, ctx.rm)
	ctx.rm.InitAfterJunction(ctx.jm)
	ctx.pm = NewManager(ctx)
	return ctx
}

// step 与任务主循环相同的一步
func (c *fakeContext) step() *entity.StepReport {
	c.pm.PrepareNode()
	c.pm.Prepare()
	c.lm.Prepare()
	c.jm.Prepare()
	dt := c.clk.DT
	c.pm.Update(dt)
	c.jm.Update(dt)
	c.clk.Next()
	return c.pm.Report()
}

func attr() *personv2.VehicleAttribute {
	return &personv2.VehicleAttribute{
		MaxSpeed:                 30,
		MaxAcceleration:          3,
		MaxBrakingAcceleration:   -10,
		UsualAcceleration:        2,
		UsualBrakingAcceleration: -4.5,
		Length:                   5,
		Width:                    2,
		MinGap:                   1,
		Headway:                  1.5,
	}
}

func onLane(laneID int32, s float64) *geov2.Position {
	return &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: laneID, S: s}}
}

func newPb(id, homeLane int32, homeS float64, endLane int32, endS float64, roadIDs ...int32) *personv2.Person {
	departure := 0.0
	return &personv2.Person{
		Id:               id,
		Home:             onLane(homeLane, homeS),
		VehicleAttribute: attr(),
		Schedules: []*tripv2.Schedule{{
			Trips: []*tripv2.Trip{{
				Mode: tripv2.TripMode_TRIP_MODE_DRIVE_ONLY,
				End:  onLane(endLane, endS),
				Routes: []*routingv2.Journey{{
					Type:    routingv2.JourneyType_JOURNEY_TYPE_DRIVING,
					Driving: &routingv2.DrivingJourneyBody{RoadIds: roadIDs},
				}},
			}},
			LoopCount:     1,
			DepartureTime: &departure,
		}},
	}
}

func TestManagerInitRejects(t *testing.T) {
	noAttr := newPb(1, 10, 0, 20, 100, 1, 2)
	noAttr.VehicleAttribute = nil
	badAttr := newPb(1, 10, 0, 20, 100, 1, 2)
	badAttr.VehicleAttribute.Length = 0
	badHome := newPb(1, 999, 0, 20, 100, 1, 2)

	for name, pbs := range map[string][]*personv2.Person{
		"no vehicle attribute": {noAttr},
		"bad vehicle":          {badAttr},
		"bad home":             {badHome},
		"duplicate id":         {newPb(1, 10, 0, 20, 100, 1, 2), newPb(1, 11, 0, 21, 100, 1, 2)},
	} {
		ctx := newContext(t, 10, config.Model{})
		assert.Error(t, ctx.pm.Init(pbs, ctx.lm), name)
	}

	ctx := newContext(t, 10, config.Model{Parameters: map[string]float64{"unknown": 1}})
	assert.Error(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 0, 20, 100, 1, 2)}, ctx.lm))

	ctx = newContext(t, 10, config.Model{CarFollowing: "bogus"})
	assert.Error(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 0, 20, 100, 1, 2)}, ctx.lm))

	ctx = newContext(t, 10, config.Model{Synchronization: "bogus"})
	assert.Error(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 0, 20, 100, 1, 2)}, ctx.lm))

	ctx = newContext(t, 10, config.Model{Parameters: map[string]float64{"tau": 30}})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 0, 20, 100, 1, 2)}, ctx.lm))
	p, err := ctx.pm.GetOrError(1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.ID())
	_, err = ctx.pm.GetOrError(2)
	assert.Error(t, err)
	assert.Panics(t, func() { ctx.pm.Get(2) })
}

func TestManagerDepartAndArrive(t *testing.T) {
	ctx := newContext(t, 200, config.Model{})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{
		newPb(2, 11, 30, 21, 100, 1, 2),
		newPb(1, 10, 0, 20, 100, 1, 2),
	}, ctx.lm))

	r := ctx.step()
	assert.Equal(t, 2, r.Departed)
	assert.Empty(t, r.Decisions)
	assert.Equal(t, []int32{}, ctx.pm.Running())

	r = ctx.step()
	assert.Equal(t, int32(1), r.Step)
	assert.Equal(t, 2, r.Running)
	require.Len(t, r.Decisions, 2)
	assert.Equal(t, int32(1), r.Decisions[0].ID)
	assert.Equal(t, int32(2), r.Decisions[1].ID)
	assert.Empty(t, r.Failures)
	for _, d := range r.Decisions {
		assert.Greater(t, d.Acceleration, 0.0)
		assert.Greater(t, d.V, 0.0)
	}
	assert.Equal(t, []int32{1, 2}, ctx.pm.Running())

	departed, arrived := 2, 0
	for !ctx.clk.Done() && arrived < 2 {
		r = ctx.step()
		departed += r.Departed
		arrived += r.Arrived
		assert.Empty(t, r.Failures, "step %d", r.Step)
		for _, d := range r.Decisions {
			assert.False(t, math.IsNaN(d.Acceleration))
			assert.GreaterOrEqual(t, d.V, 0.0)
		}
	}
	assert.Equal(t, 2, departed)
	assert.Equal(t, 2, arrived)
	assert.False(t, ctx.clk.Done(), "both trips should end before the simulation ends")
	assert.Equal(t, int32(2), ctx.pm.Stats().NumCompletedTrips)
	assert.Greater(t, ctx.pm.Stats().TravelTime, 0.0)
	assert.Equal(t, 0, ctx.pm.departures.Len())

	ctx.step()
	assert.Empty(t, ctx.pm.Running())
	for _, id := range []int32{1, 2} {
		p := ctx.pm.data[id]
		assert.Equal(t, personv2.Status_STATUS_SLEEP, p.runtime.Status)
		assert.Equal(t, p.route.End.Lane, p.runtime.Lane)
		assert.Equal(t, 0.0, p.runtime.V)
		assert.Zero(t, p.runtime.Lane.VehicleCount())
	}
}

func TestManagerSkipsBadDeparture(t *testing.T) {
	ctx := newContext(t, 10, config.Model{})
	// 起点不在路线的第一条道路上
	require.NoError(t, ctx.pm.Init([]*personv2.Person{newPb(1, 30, 0, 20, 100, 1, 2)}, ctx.lm))
	r := ctx.step()
	assert.Equal(t, 0, r.Departed)
	assert.Equal(t, 0, ctx.pm.departures.Len())
	r = ctx.step()
	assert.Empty(t, r.Decisions)
	assert.Equal(t, personv2.Status_STATUS_SLEEP, ctx.pm.data[1].runtime.Status)
}

// departOne 让id对应的person出发并完成一次准备阶段
func departOne(t *testing.T, ctx *fakeContext, id int32) *Person {
	t.Helper()
	ctx.step()
	ctx.pm.PrepareNode()
	ctx.pm.Prepare()
	ctx.lm.Prepare()
	p := ctx.pm.data[id]
	require.Equal(t, personv2.Status_STATUS_DRIVING, p.snapshot.Status)
	return p
}

func TestRefreshRuntimeLaneChange(t *testing.T) {
	ctx := newContext(t, 100, config.Model{})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 50, 20, 100, 1, 2)}, ctx.lm))
	p := departOne(t, ctx, 1)
	l10, l11 := ctx.lm.Get(10), ctx.lm.Get(11)

	// 最左侧车道不能再向左换道
	_, started, err := p.refreshRuntime(Action{LaneChange: perception.Left, LCDuration: 3}, 1)
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, p.runtime.LC.IsLC)
	assert.Equal(t, l10, p.runtime.Lane)

	_, started, err = p.refreshRuntime(Action{LaneChange: perception.Right, LCDuration: 3}, 1)
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, p.runtime.LC.IsLC)
	assert.Equal(t, perception.Right, p.runtime.LC.Direction)
	assert.Equal(t, l11, p.runtime.Lane)
	assert.Equal(t, l10, p.runtime.LC.ShadowLane)
	assert.InDelta(t, 50, p.runtime.S, 1e-9)
	assert.InDelta(t, 50, p.runtime.LC.ShadowS, 1e-9)
	assert.InDelta(t, 1.0/3, p.runtime.LC.CompletedRatio, 1e-9)
	// 位置在两条车道之间插值
	assert.InDelta(t, testmap.Width*2/3, p.runtime.XYZ.Y, 1e-6)
	assert.Equal(t, ctx.clk.T, p.vehicle.controller.lastLCTime)

	// 换道过程中不再开始新的换道
	_, started, err = p.refreshRuntime(Action{LaneChange: perception.Left, LCDuration: 3}, 1)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, perception.Right, p.runtime.LC.Direction)
	assert.InDelta(t, 2.0/3, p.runtime.LC.CompletedRatio, 1e-9)

	_, _, err = p.refreshRuntime(Action{}, 1)
	require.NoError(t, err)
	assert.False(t, p.runtime.LC.IsLC)
	assert.Equal(t, l11, p.runtime.Lane)
	assert.InDelta(t, 0, p.runtime.XYZ.Y, 1e-6)
}

func TestRefreshRuntimeCrossesLanes(t *testing.T) {
	ctx := newContext(t, 100, config.Model{})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 195, 20, 100, 1, 2)}, ctx.lm))
	p := departOne(t, ctx, 1)
	p.snapshot.V = 10

	skip, _, err := p.refreshRuntime(Action{}, 1)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, int32(101), p.runtime.Lane.ID())
	assert.InDelta(t, 5, p.runtime.S, 1e-9)
	assert.Equal(t, 10.0, p.runtime.V)

	p.snapshot.V = 30
	skip, _, err = p.refreshRuntime(Action{}, 1)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, int32(20), p.runtime.Lane.ID())
	assert.InDelta(t, 15, p.runtime.S, 1e-9)
}

func TestNeighborFromSnapshot(t *testing.T) {
	ctx := newContext(t, 100, config.Model{})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{newPb(1, 10, 50, 20, 100, 1, 2)}, ctx.lm))
	p := departOne(t, ctx, 1)

	n := p.Neighbor(7)
	assert.Equal(t, int32(1), n.ID)
	assert.Equal(t, 7.0, n.Distance)
	assert.Equal(t, 5.0, n.Length)
	assert.Equal(t, 0.0, n.Speed)
	assert.Equal(t, perception.None, n.ChangingLane)
	assert.NotNil(t, n.Model)
	require.NotNil(t, n.Params)
	assert.NotSame(t, p.vehicle.controller.planner.Params, n.Params)
	assert.Equal(t, testmap.RoadSpeed, n.SpeedLimit.LegalSpeedLimit)

	// 运行时的变化在下一次准备阶段之前不可见
	p.runtime.V = 12
	assert.Equal(t, 0.0, p.Neighbor(7).Speed)
	assert.Equal(t, 0.0, p.V())

	assert.True(t, p.WillUse(ctx.lm.Get(101)))
	assert.True(t, p.WillUse(ctx.lm.Get(20)))
	assert.False(t, p.WillUse(ctx.lm.Get(40)))
	assert.False(t, p.Blocked())
}

func TestPerceive(t *testing.T) {
	ctx := newContext(t, 100, config.Model{})
	require.NoError(t, ctx.pm.Init([]*personv2.Person{
		newPb(1, 10, 50, 20, 100, 1, 2),
		newPb(2, 10, 80, 20, 100, 1, 2),
		newPb(3, 11, 40, 21, 100, 1, 2),
	}, ctx.lm))
	p := departOne(t, ctx, 1)

	p.snapshot.V = 20
	snap := p.vehicle.controller.perceive()
	assert.True(t, snap.ChangeAllowed)
	assert.Equal(t, 20.0, snap.EgoSpeed)
	assert.Equal(t, 150.0, snap.LegalRight)
	assert.Equal(t, 0.0, snap.LegalLeft)
	require.Contains(t, snap.Lanes, 0)
	require.Contains(t, snap.Lanes, -1)
	assert.NotContains(t, snap.Lanes, 1)

	own := snap.Lanes[0]
	require.Len(t, own.Leaders, 1)
	assert.Equal(t, int32(2), own.Leaders[0].ID)
	assert.InDelta(t, 25, own.Leaders[0].Distance, 1e-9)
	assert.Empty(t, own.Followers)
	assert.Equal(t, testmap.RoadSpeed, own.SpeedLimit.LegalSpeedLimit)

	right := snap.Lanes[-1]
	require.Len(t, right.Followers, 1)
	assert.Equal(t, int32(3), right.Followers[0].ID)
	assert.InDelta(t, 5, right.Followers[0].Distance, 1e-9)
	assert.Empty(t, right.Leaders)

	require.NotNil(t, snap.Intersection)
	assert.NotEmpty(t, snap.Intersection.Conflicts[0], "lane 101 crosses lanes 105 and 106")
	for _, c := range snap.Intersection.Conflicts[0] {
		assert.Greater(t, c.Distance, 0.0)
		assert.Empty(t, c.Upstream)
	}
}

func TestHelpers(t *testing.T) {
	v, ds := computeVAndDistance(10, 2, 1)
	assert.Equal(t, 12.0, v)
	assert.Equal(t, 11.0, ds)
	v, ds = computeVAndDistance(4, -8, 1)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 1.0, ds)

	assert.Equal(t, -10.0, clampAcc(math.NaN(), -10, 3))
	assert.Equal(t, 3.0, clampAcc(math.Inf(1), -10, 3))
	assert.Equal(t, -10.0, clampAcc(math.Inf(-1), -10, 3))
	assert.Equal(t, 1.5, clampAcc(1.5, -10, 3))

	assert.Equal(t, float64(minViewDistance), viewDistance(0))
	assert.Equal(t, 240.0, viewDistance(20))

	ctx := newContext(t, 10, config.Model{})
	l10, l11 := ctx.lm.Get(10), ctx.lm.Get(11)
	assert.Equal(t, l10, laneAt(l10, 0))
	assert.Equal(t, l11, laneAt(l10, -1))
	assert.Equal(t, l10, laneAt(l11, 1))
	assert.Nil(t, laneAt(l10, 1))
	assert.Nil(t, laneAt(l11, -2))

	assert.Equal(t, entity.LEFT, sideOf(perception.Left))
	assert.Equal(t, entity.RIGHT, sideOf(perception.Right))

	c, ok := lightColor(mapv2.LightState_LIGHT_STATE_RED)
	assert.True(t, ok)
	assert.Equal(t, perception.Red, c)
	c, ok = lightColor(mapv2.LightState_LIGHT_STATE_GREEN)
	assert.True(t, ok)
	assert.Equal(t, perception.Green, c)
	_, ok = lightColor(mapv2.LightState(-1))
	assert.False(t, ok)
}
