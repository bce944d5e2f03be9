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

const tagSpeed = 295.0 / 43

// paramsWithT 默认参数，车头时距为t
func paramsWithT(t *testing.T, headway float64) *parameter.Parameters {
	t.Helper()
	p := parameter.Defaults()
	require.NoError(t, p.Set(parameter.T, headway))
	return p
}

// activeSnapshot 需要向左换一次道，左侧车道上有leaders
func activeSnapshot(leaders ...perception.Neighbor) *perception.Snapshot {
	cur := lane(nil, nil)
	cur.LaneChanges = 1
	cur.Remaining = 500
	return &perception.Snapshot{
		EgoSpeed:  10,
		EgoLength: 4,
		LegalLeft: 100,
		Lanes: map[int]*perception.LaneView{
			0: cur,
			1: lane(leaders, nil),
		},
	}
}

func TestSyncActiveSelectsFirstComfortableLeader(t *testing.T) {
	// 2m处的静止车辆与12m处的慢车都无法舒适尾随
	snap := activeSnapshot(neighbor(2, 2, 0), neighbor(3, 12, 5), neighbor(4, 60, 15))
	c := newContext(t, snap, nil)
	a, err := syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, int32(4), c.data.SyncVehicle())

	want, err := tagAlongAcceleration(c, &snap.Lanes[1].Leaders[2], tagSpeed, 0.6)
	require.NoError(t, err)
	assert.InDelta(t, want, a, 1e-9)
}

func TestSyncActiveKeepsSyncVehicle(t *testing.T) {
	snap := activeSnapshot(neighbor(2, 2, 0), neighbor(3, 12, 5), neighbor(4, 60, 15))
	c := newContext(t, snap, nil)
	c.data.syncVehicle = 3
	a, err := syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.data.SyncVehicle())
	// 尾随减速度按意愿限制为−b
	assert.InDelta(t, -2.09, a, 1e-9)
}

func TestSyncActiveMovesUpstream(t *testing.T) {
	snap := activeSnapshot(neighbor(2, 2, 0), neighbor(3, 40, 15), neighbor(4, 80, 15))
	c := newContext(t, snap, nil)
	c.data.syncVehicle = 4
	a, err := syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.data.SyncVehicle())

	want, err := tagAlongAcceleration(c, &snap.Lanes[1].Leaders[1], tagSpeed, 0.6)
	require.NoError(t, err)
	assert.InDelta(t, want, a, 1e-9)
}

func TestSyncActiveDropsVanishedSyncVehicle(t *testing.T) {
	snap := activeSnapshot(neighbor(4, 60, 15))
	c := newContext(t, snap, nil)
	c.data.syncVehicle = 9
	_, err := syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, int32(4), c.data.SyncVehicle())

	snap.Lanes[1].Leaders = nil
	_, err = syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, NoVehicle, c.data.SyncVehicle())
}

func TestSyncActiveSlowsForRemainingLaneChanges(t *testing.T) {
	snap := activeSnapshot()
	snap.Lanes[0].LaneChanges = 2
	snap.Lanes[0].Remaining = 60
	c := newContext(t, snap, nil)
	a, err := syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, -2.09, a)

	snap.Lanes[0].Remaining = 1000
	a, err = syncActive(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))
}

func TestRequiredBufferSpace(t *testing.T) {
	const x0, t0, lc, dCoop = 295, 43, 3, 0.788
	assert.InDelta(t, 30, requiredBufferSpace(10, 1, x0, t0, lc, dCoop), 1e-9)
	assert.InDelta(t, 30+430*2*(1-dCoop), requiredBufferSpace(10, 3, x0, t0, lc, dCoop), 1e-9)
	// 低速时以x0为下限
	assert.InDelta(t, 15+295*2*(1-dCoop), requiredBufferSpace(5, 3, x0, t0, lc, dCoop), 1e-9)
}

func TestCanBeAhead(t *testing.T) {
	c := newContext(t, activeSnapshot(), nil)

	behind := asLeader(neighbor(5, 30, 10), 4)
	require.Equal(t, -38.0, behind.Distance)
	// 后车可以舒适地跟随自身
	ok, err := canBeAhead(c, &behind, 10, 1, tagSpeed, 0.9)
	require.NoError(t, err)
	assert.True(t, ok)
	// 意愿不足时按时间比较，缓冲区已不够
	ok, err = canBeAhead(c, &behind, 10, 1, tagSpeed, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	// 双方都低于尾随速度
	c.speed = 5
	slow := asLeader(neighbor(5, 30, 5), 4)
	ok, err = canBeAhead(c, &slow, 10, 1, tagSpeed, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)

	c.speed = 10
	ahead := neighbor(6, 20, 10)
	ok, err = canBeAhead(c, &ahead, 492, 1, tagSpeed, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
	ahead.Speed = 5
	ok, err = canBeAhead(c, &ahead, 492, 1, tagSpeed, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetBehindAcceleration(t *testing.T) {
	c := newContext(t, activeSnapshot(), nil)
	adj := neighbor(6, 2, 10)

	acc, ok, err := getBehindAcceleration(c, &adj, 150, 1, 0.5)
	require.NoError(t, err)
	require.True(t, ok)
	// t = (150−2−30)/10，期望间距 10·(0.56+0.5·0.64)
	tt := 11.8
	assert.InDelta(t, 2*(150-30-10*tt-8.8)/(tt*tt), acc, 1e-9)

	_, ok, err = getBehindAcceleration(c, &adj, 20, 1, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	standing := neighbor(6, 2, 0)
	_, ok, err = getBehindAcceleration(c, &standing, 150, 1, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	// 减速过程中会停下
	slow := neighbor(6, 2, 2)
	_, ok, err = getBehindAcceleration(c, &slow, 150, 1, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStopForEnd(t *testing.T) {
	c := newContext(t, activeSnapshot(), nil)
	model := carfollowing.NewIDMPlus()
	pMin := paramsWithT(t, 0.56)

	a, err := stopForEnd(c, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, -3.5, a)

	a, err = stopForEnd(c, 1000, 0)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))

	a, err = stopForEnd(c, 30, 0)
	require.NoError(t, err)
	assert.InDelta(t, -2.09, a, 1e-9)

	// 不在可以换道的位置之前停下
	a, err = stopForEnd(c, 15, 25)
	require.NoError(t, err)
	want, err := carfollowing.Stop(model, pMin, 10, sli20, 25)
	require.NoError(t, err)
	assert.InDelta(t, want, a, 1e-9)
	assert.Equal(t, 1.2, c.params.GetOr(parameter.T, 0))
}

func TestTagAlongAcceleration(t *testing.T) {
	c := newContext(t, activeSnapshot(), nil)
	leader := neighbor(3, 20, 5)
	leader.Length = 2
	for name, tc := range map[string]struct {
		speed, desire, adjustment float64
	}{
		"standing with low desire": {speed: 0, desire: 0.5, adjustment: 3 + 1},
		"above tag speed":          {speed: 10, desire: 0.5, adjustment: 0},
		"full desire":              {speed: 0, desire: 1, adjustment: 0},
		"half way":                 {speed: tagSpeed / 2, desire: (0.788 + 1) / 2, adjustment: (3 + 1) * .5},
	} {
		c.speed = tc.speed
		got, err := tagAlongAcceleration(c, &leader, tagSpeed, tc.desire)
		require.NoError(t, err, name)
		want, err := singleAcceleration(c, 20+tc.adjustment, 5, tc.desire)
		require.NoError(t, err, name)
		assert.InDelta(t, want, got, 1e-9, name)
	}
}

func TestSyncAlignGap(t *testing.T) {
	snap := &perception.Snapshot{
		EgoSpeed:  10,
		EgoLength: 4,
		LegalLeft: 100,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane([]perception.Neighbor{neighbor(2, 10, 10)}, []perception.Neighbor{neighbor(3, 5, 10)}),
		},
	}
	c := newContext(t, snap, nil)
	p := paramsWithT(t, 0.88)
	model := carfollowing.NewIDMPlus()

	a, err := AlignGap.synchronize(c, 0.5, perception.Left)
	require.NoError(t, err)
	// 10 − (10+5)/2 + 3 + 10·0.88
	want, err := carfollowing.FollowSingleLeader(model, p, 10, sli20, 14.3, 10)
	require.NoError(t, err)
	assert.InDelta(t, want, a, 1e-9)

	snap.Lanes[1].Followers = nil
	a, err = AlignGap.synchronize(c, 0.5, perception.Left)
	require.NoError(t, err)
	want, err = carfollowing.FollowSingleLeader(model, p, 10, sli20, 10, 10)
	require.NoError(t, err)
	assert.InDelta(t, want, a, 1e-9)
}

func TestSyncPassiveMoving(t *testing.T) {
	snap := &perception.Snapshot{
		EgoSpeed:  5,
		EgoLength: 4,
		LegalLeft: 100,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane([]perception.Neighbor{neighbor(2, 6, 2)}, nil),
		},
	}
	c := newContext(t, snap, nil)

	// 低速且意愿低于dCoop时不同步
	a, err := PassiveMoving.synchronize(c, 0.6, perception.Left)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))

	for _, tc := range []struct {
		speed, desire float64
	}{{5, 0.9}, {10, 0.6}} {
		c.speed = tc.speed
		got, err := PassiveMoving.synchronize(c, tc.desire, perception.Left)
		require.NoError(t, err)
		want, err := Passive.synchronize(c, tc.desire, perception.Left)
		require.NoError(t, err)
		assert.False(t, math.IsInf(want, 1))
		assert.Equal(t, want, got)
	}
}

func TestCoopPassiveMoving(t *testing.T) {
	leader := neighbor(2, 5, 20)
	leader.DesireRight = 0.9
	leader.Acceleration = -1
	snap := &perception.Snapshot{
		EgoSpeed:  15,
		EgoLength: 4,
		Lanes: map[int]*perception.LaneView{
			0: lane(nil, nil),
			1: lane([]perception.Neighbor{leader}, nil),
		},
	}
	c := newContext(t, snap, nil)

	passive, err := CoopPassive.cooperate(c, perception.Left)
	require.NoError(t, err)
	assert.False(t, math.IsInf(passive, 1))

	// 非拥堵且正在减速的车辆不需要合作
	a, err := CoopPassiveMoving.cooperate(c, perception.Left)
	require.NoError(t, err)
	assert.True(t, math.IsInf(a, 1))

	snap.Lanes[1].Leaders[0].Acceleration = 0
	a, err = CoopPassiveMoving.cooperate(c, perception.Left)
	require.NoError(t, err)
	assert.Equal(t, passive, a)
}

func TestAbsMax(t *testing.T) {
	assert.Equal(t, -0.5, absMax(0.3, -0.5))
	assert.Equal(t, -0.2, absMax(-0.2, 0.1))
	assert.True(t, math.IsInf(absMax(0.9, math.Inf(-1)), -1))
	assert.True(t, math.IsInf(absMax(math.Inf(-1), 1), -1))
}

// desireSnapshot 当前车道需要向右换一次道，左侧车道还需两次
func desireSnapshot() *perception.Snapshot {
	cur := lane(nil, nil)
	cur.LaneChanges = 1
	cur.Remaining = 258
	left := lane(nil, nil)
	left.LaneChanges = 2
	left.Remaining = 258
	return &perception.Snapshot{
		EgoSpeed:   20,
		EgoLength:  4,
		LegalLeft:  100,
		LegalRight: 100,
		Lanes: map[int]*perception.LaneView{
			0:  cur,
			1:  left,
			-1: lane(nil, nil),
		},
	}
}

func TestLaneChangeDesire(t *testing.T) {
	const dSync, dCoop, dFree, socio = 0.577, 0.788, 0.365, 0.5
	mandatoryRight := 1 - (258.0/20)/43
	mandatoryLeft := -(1 - (258.0/20)/(2*43))

	t.Run("same sign adds voluntary desire", func(t *testing.T) {
		c := newContext(t, desireSnapshot(), nil)
		d, err := laneChangeDesire(c)
		require.NoError(t, err)
		assert.InDelta(t, mandatoryLeft, d.Left, 1e-9)
		assert.Equal(t, 1.0, d.Right)
		assert.Equal(t, NewDesire(0, dFree), c.data.desireMap[IncentiveKeep])
	})

	t.Run("opposite voluntary desire is weighted by theta", func(t *testing.T) {
		snap := desireSnapshot()
		yielder := neighbor(7, 50, 20)
		yielder.DesireLeft = 1
		snap.Lanes[-2] = lane([]perception.Neighbor{yielder}, nil)
		c := newContext(t, snap, nil)
		d, err := laneChangeDesire(c)
		require.NoError(t, err)

		assert.InDelta(t, -socio, c.data.desireMap[IncentiveCourtesy].Right, 1e-9)
		voluntary := dFree - socio
		w := (dCoop - mandatoryRight) / (dCoop - dSync)
		assert.InDelta(t, mandatoryRight+w*voluntary, d.Right, 1e-9)
		assert.Less(t, d.Right, mandatoryRight)
	})

	t.Run("missing lane dominates", func(t *testing.T) {
		snap := desireSnapshot()
		delete(snap.Lanes, 1)
		c := newContext(t, snap, nil)
		d, err := laneChangeDesire(c)
		require.NoError(t, err)
		assert.True(t, math.IsInf(c.data.desireMap[IncentiveRoute].Left, -1))
		assert.True(t, math.IsInf(d.Left, -1))
	})

	t.Run("mandatory only", func(t *testing.T) {
		c := newContext(t, desireSnapshot(), &Config{Incentives: []IncentiveKind{IncentiveRoute}})
		d, err := laneChangeDesire(c)
		require.NoError(t, err)
		assert.InDelta(t, mandatoryRight, d.Right, 1e-9)
		assert.Len(t, c.data.desireMap, 1)
	})
}
