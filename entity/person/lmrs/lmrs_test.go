package lmrs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

var sli20 = carfollowing.SpeedLimitInfo{LegalSpeedLimit: 20, MaxVehicleSpeed: 50}

// constantModel 总是返回固定加速度的跟驰模型
type constantModel struct {
	acc float64
}

func (m constantModel) Name() string { return "constant" }
func (m constantModel) DesiredSpeed(p *parameter.Parameters, sli carfollowing.SpeedLimitInfo) (float64, error) {
	return sli.LegalSpeedLimit, nil
}
func (m constantModel) DesiredHeadway(p *parameter.Parameters, speed float64) (float64, error) {
	return p.Get(parameter.T)
}
func (m constantModel) FollowingAcceleration(*parameter.Parameters, float64, carfollowing.SpeedLimitInfo, []carfollowing.Leader) (float64, error) {
	return m.acc, nil
}

func neighbor(id int32, distance, speed float64) perception.Neighbor {
	return perception.Neighbor{
		ID:         id,
		Distance:   distance,
		Speed:      speed,
		Length:     4,
		Params:     parameter.Defaults(),
		Model:      carfollowing.NewIDMPlus(),
		SpeedLimit: sli20,
		DLC:        math.NaN(),
	}
}

// lane 可达且不需要换道的车道
func lane(leaders, followers []perception.Neighbor) *perception.LaneView {
	return &perception.LaneView{
		SpeedLimit: sli20,
		Leaders:    leaders,
		Followers:  followers,
		Remaining:  math.Inf(1),
		Reachable:  true,
	}
}

func newContext(t *testing.T, snap *perception.Snapshot, cfg *Config) *decisionContext {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &decisionContext{
		per:    snap,
		params: parameter.Defaults(),
		model:  carfollowing.NewIDMPlus(),
		sli:    snap.SpeedLimit(0),
		speed:  snap.Speed(),
		length: snap.Length(),
		data:   NewData(),
		cfg:    cfg,
	}
}

func TestDesireClamp(t *testing.T) {
	d := NewDesire(2, -3)
	assert.Equal(t, 1.0, d.Left)
	assert.Equal(t, -3.0, d.Right)

	d = NewDesire(0.5, 0.2)
	assert.Equal(t, 0.5, d.Left)
	assert.Equal(t, 0.2, d.Right)

	d = NewDesire(math.Inf(1), math.Inf(-1))
	assert.Equal(t, 1.0, d.Left)
	assert.True(t, math.IsInf(d.Right, -1))
	assert.True(t, NewDesire(0.3, 0.3).LeftIsLargerOrEqual())
	assert.False(t, NewDesire(0.2, 0.3).LeftIsLargerOrEqual())
}

func TestTheta(t *testing.T) {
	const dSync, dCoop = 0.577, 0.788
	// 强制意愿恰好为dSync
	assert.Equal(t, 1.0, theta(dSync, -0.5, dSync, dCoop))
	// 同号
	assert.Equal(t, 1.0, theta(0.7, 0.2, dSync, dCoop))
	// 异号，介于dSync与dCoop之间
	assert.InDelta(t, 0.5, theta((dSync+dCoop)/2, -0.2, dSync, dCoop), 1e-9)
	// 异号，不低于dCoop
	assert.Equal(t, 0.0, theta(dCoop, -0.2, dSync, dCoop))
	assert.Equal(t, 0.0, theta(math.Inf(-1), 0.4, dSync, dCoop))

	assert.Equal(t, 0.8, blend(0.8, -0.3, dSync, dCoop, 1))
	assert.InDelta(t, 0.3, blend(0.1, 0.2, dSync, dCoop, 1), 1e-9)
	assert.Equal(t, 1.0, blend(0.9, 0.5, dSync, dCoop, 1))
	assert.True(t, math.IsInf(blend(math.Inf(-1), 0, dSync, dCoop, 1), -1))
}

func TestGentleUrgency(t *testing.T) {
	p := parameter.Defaults()
	tests := []struct {
		name   string
		a      float64
		desire float64
		want   float64
	}{
		{"mild deceleration passes through", -1, 0.9, -1},
		{"below dCoop clamps to b", -5, 0.5, -2.09},
		{"desire 1 clamps to bCrit", -5, 1, -3.5},
		{"halfway between dCoop and 1", -5, (0.788 + 1) / 2, -2.09 - (3.5-2.09)/2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gentleUrgency(p, tt.a, tt.desire)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHeadwayRelaxation(t *testing.T) {
	p := parameter.Defaults()
	require.NoError(t, setDesiredHeadway(p, 1))
	assert.Equal(t, 0.56, p.GetOr(parameter.T, 0))
	// 只减不增
	require.NoError(t, setDesiredHeadway(p, 0))
	assert.Equal(t, 0.56, p.GetOr(parameter.T, 0))

	require.NoError(t, exponentialHeadwayRelaxation(p))
	// dt/tau = 0.5/25
	assert.InDelta(t, 0.56+(1.2-0.56)*0.02, p.GetOr(parameter.T, 0), 1e-9)

	// 临时设置在返回后恢复
	before := p.GetOr(parameter.T, 0)
	_, err := withDesiredHeadway(p, 1, func() (float64, error) {
		assert.Equal(t, 0.56, p.GetOr(parameter.T, 0))
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, before, p.GetOr(parameter.T, 0))
}

func TestGapAcceptanceMonotonic(t *testing.T) {
	snap := &perception.Snapshot{
		EgoSpeed:  20,
		EgoLength: 4,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane(nil, []perception.Neighbor{neighbor(2, 15, 20)}),
		},
	}
	c := newContext(t, snap, nil)
	ok, err := Informed.accept(c, perception.Left, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Informed.accept(c, perception.Left, 0.1, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// 邻车参数为共享快照，不能被修改
	assert.Equal(t, 1.2, snap.Lanes[1].Followers[0].Params.GetOr(parameter.T, 0))
}

func TestGapAcceptanceEgoHeadway(t *testing.T) {
	f := neighbor(2, 15, 20)
	// 后车自身偏好很大的车头时距
	require.NoError(t, f.Params.Apply(map[parameter.Key]float64{parameter.TMin: 2, parameter.TMax: 3, parameter.T: 3}))
	snap := &perception.Snapshot{
		EgoSpeed:  20,
		EgoLength: 4,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane(nil, []perception.Neighbor{f}),
		},
	}
	c := newContext(t, snap, nil)
	ok, err := Informed.accept(c, perception.Left, 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = EgoHeadway.accept(c, perception.Left, 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, f.Params.GetOr(parameter.TMin, 0))
}

func TestAlongsideVeto(t *testing.T) {
	snap := &perception.Snapshot{
		EgoSpeed:  20,
		EgoLength: 4,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane(nil, []perception.Neighbor{neighbor(2, -1, 0)}),
		},
	}
	c := newContext(t, snap, nil)
	for _, g := range []GapAcceptance{Informed, EgoHeadway} {
		ok, err := g.accept(c, perception.Left, 1, math.Inf(1))
		require.NoError(t, err)
		assert.False(t, ok, g.String())
	}
}

func TestCooperate(t *testing.T) {
	leader := neighbor(2, 5, 10)
	leader.DesireRight = 0.9
	snap := &perception.Snapshot{
		EgoSpeed:  15,
		EgoLength: 4,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane([]perception.Neighbor{leader}, nil),
		},
	}
	c := newContext(t, snap, nil)
	a, err := CoopPassive.cooperate(c, perception.Left)
	require.NoError(t, err)
	assert.InDelta(t, -2.09, a, 1e-9)

	a, err = CoopPassive.cooperate(c, perception.Right)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))

	snap.Lanes[1].Leaders[0].DesireRight = 0.5
	a, err = CoopActive.cooperate(c, perception.Left)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))
}

func TestSyncDeadEnd(t *testing.T) {
	cur := lane(nil, nil)
	cur.LaneChanges = 1
	cur.Remaining = 23
	snap := &perception.Snapshot{EgoSpeed: 20, EgoLength: 4, Lanes: map[int]*perception.LaneView{0: cur}}
	c := newContext(t, snap, nil)
	a, err := syncDeadEnd(c)
	require.NoError(t, err)
	// 400/(2·20) = 10 ≥ bCrit
	assert.InDelta(t, -10, a, 1e-9)

	cur.Remaining = 2
	a, err = syncDeadEnd(c)
	require.NoError(t, err)
	assert.Equal(t, -3.5, a)

	c.speed = 0
	a, err = syncDeadEnd(c)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]string{"route", "keep"}, "ego-headway", "active", "passive-moving", false, true)
	require.NoError(t, err)
	assert.Equal(t, []IncentiveKind{IncentiveRoute, IncentiveKeep}, cfg.Incentives)
	assert.Equal(t, EgoHeadway, cfg.GapAcceptance)
	assert.Equal(t, Active, cfg.Synchronization)
	assert.Equal(t, CoopPassiveMoving, cfg.Cooperation)
	assert.False(t, cfg.Conflicts)

	_, err = ParseConfig([]string{"overtake"}, "", "", "", false, false)
	assert.Error(t, err)
	_, err = ParseConfig(nil, "", "nonsense", "", false, false)
	assert.Error(t, err)
}

func TestData(t *testing.T) {
	d := NewData()
	assert.True(t, d.isNewLeader(3))
	assert.True(t, d.isNewLeader(3))
	d.finalizeStep()
	assert.False(t, d.isNewLeader(3))
	assert.True(t, d.isNewLeader(4))
	d.finalizeStep()
	d.finalizeStep()
	assert.True(t, d.isNewLeader(3))

	assert.Equal(t, NoVehicle, d.SyncVehicle())
	d.syncVehicle = 7
	n, ok := d.syncVehicleIn([]perception.Neighbor{{ID: 5}, {ID: 7, Speed: 3}})
	require.True(t, ok)
	assert.Equal(t, 3.0, n.Speed)
	_, ok = d.syncVehicleIn([]perception.Neighbor{{ID: 5}})
	assert.False(t, ok)
}
