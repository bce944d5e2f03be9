package conflict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

func egoAt(speed float64) Ego {
	return Ego{
		Params:     parameter.Defaults(),
		Model:      carfollowing.NewIDMPlus(),
		SpeedLimit: carfollowing.SpeedLimitInfo{LegalSpeedLimit: 25, MaxVehicleSpeed: 50},
		Speed:      speed,
		Length:     4,
	}
}

func upstream(id int32, distance, speed, length float64) perception.ConflictingVehicle {
	return perception.ConflictingVehicle{
		Neighbor: perception.Neighbor{ID: id, Distance: distance, Speed: speed, Length: length},
		OnRoute:  true,
	}
}

// stopWithS0Conf 以s0conf为静止间距在distance处停车的加速度
func stopWithS0Conf(t *testing.T, ego Ego, distance float64) float64 {
	t.Helper()
	p := parameter.Defaults()
	require.NoError(t, p.Set(parameter.S0, p.GetOr(parameter.S0Conf, 0)))
	a, err := carfollowing.Stop(ego.Model, p, ego.Speed, ego.SpeedLimit, distance)
	require.NoError(t, err)
	return a
}

func TestStopLine(t *testing.T) {
	for name, tc := range map[string]struct {
		starts, ends []float64
		want         int
	}{
		"only the forcing conflict":  {starts: []float64{10}, want: 0},
		"enough space before it":     {starts: []float64{5, 30}, ends: []float64{10}, want: 1},
		"exactly passable":           {starts: []float64{5, 17}, ends: []float64{10}, want: 1},
		"no space anywhere":          {starts: []float64{5, 12, 20}, ends: []float64{10, 17}, want: 0},
		"most downstream gap wins":   {starts: []float64{5, 30, 60, 62}, ends: []float64{10, 35, 61}, want: 2},
		"gap only between the first": {starts: []float64{5, 30, 33}, ends: []float64{10, 31}, want: 1},
	} {
		assert.Equal(t, tc.want, stopLine(tc.starts, tc.ends, 7), name)
	}
}

func TestKeepClearCascade(t *testing.T) {
	priorityCrossing := perception.Conflict{
		ID:       1,
		Type:     perception.Crossing,
		Rule:     perception.Priority,
		Distance: 5,
		Length:   5,
	}
	giveWayCrossing := func(distance float64, cv perception.ConflictingVehicle) perception.Conflict {
		return perception.Conflict{
			ID:       2,
			Type:     perception.Crossing,
			Rule:     perception.GiveWay,
			Distance: distance,
			Length:   5,
			Upstream: []perception.ConflictingVehicle{cv},
		}
	}

	t.Run("stop downstream of a passable gap", func(t *testing.T) {
		ego := egoAt(2)
		plans := NewPlans()
		conflicts := []perception.Conflict{priorityCrossing, giveWayCrossing(30, upstream(9, 10, 10, 4))}
		a, err := ApproachConflicts(ego, conflicts, nil, plans)
		require.NoError(t, err)
		assert.True(t, plans.Stopped())
		assert.InDelta(t, stopWithS0Conf(t, ego, 30), a, 1e-9)
		assert.Greater(t, a, 0.0)
	})

	t.Run("keep the upstream crossing clear", func(t *testing.T) {
		ego := egoAt(2)
		conflicts := []perception.Conflict{priorityCrossing, giveWayCrossing(12, upstream(9, 10, 10, 4))}
		a, err := ApproachConflicts(ego, conflicts, nil, NewPlans())
		require.NoError(t, err)
		assert.InDelta(t, stopWithS0Conf(t, ego, 5), a, 1e-9)
		assert.Less(t, a, 0.0)
	})

	t.Run("move downstream when the stop is too harsh", func(t *testing.T) {
		ego := egoAt(8)
		bCrit := ego.Params.GetOr(parameter.BCrit, 0)
		require.Less(t, stopWithS0Conf(t, ego, 5), -bCrit)
		conflicts := []perception.Conflict{priorityCrossing, giveWayCrossing(12, upstream(9, 20, 10, 4))}
		a, err := ApproachConflicts(ego, conflicts, nil, NewPlans())
		require.NoError(t, err)
		assert.InDelta(t, stopWithS0Conf(t, ego, 12), a, 1e-9)
	})

	t.Run("blocking ego stops at the forcing conflict", func(t *testing.T) {
		ego := egoAt(2)
		occupied := perception.Conflict{
			ID:       3,
			Type:     perception.Crossing,
			Rule:     perception.GiveWay,
			Distance: -2,
			Length:   6,
		}
		plans := NewPlans()
		conflicts := []perception.Conflict{occupied, priorityCrossing, giveWayCrossing(12, upstream(9, 10, 10, 4))}
		a, err := ApproachConflicts(ego, conflicts, nil, plans)
		require.NoError(t, err)
		assert.True(t, plans.Blocking())
		assert.InDelta(t, stopWithS0Conf(t, ego, 12), a, 1e-9)
	})
}

func TestAvoidCrossingCollision(t *testing.T) {
	crossing := func(vehicles ...perception.ConflictingVehicle) *perception.Conflict {
		return &perception.Conflict{
			ID:       4,
			Type:     perception.Crossing,
			Rule:     perception.Priority,
			Distance: 20,
			Length:   5,
			Upstream: vehicles,
		}
	}

	t.Run("parabolic deceleration to the conflict start", func(t *testing.T) {
		// 冲突车辆1s后进入、2.5s后离开，自身约1.8s到达
		a, err := avoidCrossingCollision(egoAt(10), crossing(upstream(9, 10, 10, 10)))
		require.NoError(t, err)
		assert.InDelta(t, 2*(20-10*2.5)/(2.5*2.5), a, 1e-9)
	})

	t.Run("no braking needed to arrive after it clears", func(t *testing.T) {
		// 冲突车辆1.9s后离开，自身约1.8s到达，匀速行驶即可晚于其离开
		a, err := avoidCrossingCollision(egoAt(10), crossing(upstream(9, 10, 10, 4)))
		require.NoError(t, err)
		assert.InDelta(t, 2*(20-10*1.9)/(1.9*1.9), a, 1e-9)
		assert.Greater(t, a, 0.0)
	})

	t.Run("stop when the profile would stand still", func(t *testing.T) {
		ego := egoAt(4)
		c := crossing(upstream(9, 5, 5, 20))
		c.Distance = 10
		a, err := avoidCrossingCollision(ego, c)
		require.NoError(t, err)
		want, err := ego.stop(10)
		require.NoError(t, err)
		assert.InDelta(t, want, a, 1e-9)
	})

	t.Run("stop when the vehicle on the conflict never clears", func(t *testing.T) {
		ego := egoAt(10)
		c := crossing()
		c.Downstream = []perception.ConflictingVehicle{upstream(9, 2, 0, 4)}
		a, err := avoidCrossingCollision(ego, c)
		require.NoError(t, err)
		want, err := ego.stop(20)
		require.NoError(t, err)
		assert.InDelta(t, want, a, 1e-9)
	})

	t.Run("vehicle already clear", func(t *testing.T) {
		a, err := avoidCrossingCollision(egoAt(10), crossing(upstream(9, 80, 10, 4)))
		require.NoError(t, err)
		assert.True(t, math.IsInf(a, 1))
	})

	t.Run("vehicle off route is ignored", func(t *testing.T) {
		cv := upstream(9, 10, 10, 10)
		cv.OnRoute = false
		a, err := avoidCrossingCollision(egoAt(10), crossing(cv))
		require.NoError(t, err)
		assert.True(t, math.IsInf(a, 1))
	})
}

func TestGiveWayCrossingNeedsSpaceBehindLeader(t *testing.T) {
	c := &perception.Conflict{
		ID:       5,
		Type:     perception.Crossing,
		Rule:     perception.GiveWay,
		Distance: 10,
		Length:   5,
		Upstream: []perception.ConflictingVehicle{upstream(9, 60, 10, 4)},
	}
	ego := egoAt(10)

	stop, err := stopForGiveWayConflict(ego, c, nil, parameter.B)
	require.NoError(t, err)
	assert.False(t, stop)

	moving := []perception.Neighbor{{ID: 3, Distance: 12, Speed: 10, Length: 4}}
	stop, err = stopForGiveWayConflict(ego, c, moving, parameter.B)
	require.NoError(t, err)
	assert.False(t, stop)

	// 静止的前车不会为自身腾出冲突区后方的空间
	standing := []perception.Neighbor{{ID: 3, Distance: 12, Speed: 0, Length: 4}}
	stop, err = stopForGiveWayConflict(ego, c, standing, parameter.B)
	require.NoError(t, err)
	assert.True(t, stop)
}

func TestGiveWayMergeSpeedDifference(t *testing.T) {
	merge := func(cv perception.ConflictingVehicle) *perception.Conflict {
		return &perception.Conflict{
			ID:       6,
			Type:     perception.Merge,
			Rule:     perception.GiveWay,
			Distance: 10,
			Length:   5,
			Upstream: []perception.ConflictingVehicle{cv},
		}
	}
	ego := egoAt(5)

	// 到达时间相同，速度接近时可以汇入
	stop, err := stopForGiveWayConflict(ego, merge(upstream(9, 100, 8, 4)), nil, parameter.B)
	require.NoError(t, err)
	assert.False(t, stop)

	// 4s后才到达，但速度差使其无法以b减速保持安全间距
	stop, err = stopForGiveWayConflict(ego, merge(upstream(9, 100, 25, 4)), nil, parameter.B)
	require.NoError(t, err)
	assert.True(t, stop)

	stop, err = stopForGiveWayConflict(ego, merge(upstream(9, 20, 15, 4)), nil, parameter.B)
	require.NoError(t, err)
	assert.True(t, stop)
}
