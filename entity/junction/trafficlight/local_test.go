package trafficlight

import (
	"testing"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

type lightRecorder struct {
	state     mapv2.LightState
	total     float64
	remaining float64
}

func (r *lightRecorder) SetLight(state mapv2.LightState, total, remaining float64) {
	r.state, r.total, r.remaining = state, total, remaining
}

func (r *lightRecorder) IsWalkLane() bool { return false }

const (
	green = mapv2.LightState_LIGHT_STATE_GREEN
	red   = mapv2.LightState_LIGHT_STATE_RED
)

func program() *mapv2.TrafficLight {
	return &mapv2.TrafficLight{
		JunctionId: 4,
		Phases: []*mapv2.Phase{
			{Duration: 10, States: []mapv2.LightState{green, red}},
			{Duration: 20, States: []mapv2.LightState{red, green}},
		},
	}
}

func TestLocalTrafficLightCycle(t *testing.T) {
	a, b := &lightRecorder{}, &lightRecorder{}
	tl := NewLocalTrafficLight(4, []entity.ILaneTrafficLightSetter{a, b})
	require.NoError(t, tl.Set(program()))
	assert.True(t, tl.Ok())

	// 生效前全绿
	tl.Prepare()
	assert.Equal(t, green, b.state)
	assert.Equal(t, mathutil.INF, b.remaining)

	// 4%2=0，从第0相位开始
	tl.Update(1)
	tl.Prepare()
	assert.Equal(t, int32(0), tl.Step())
	assert.Equal(t, green, a.state)
	assert.Equal(t, red, b.state)
	assert.InDelta(t, 9, a.remaining, 1e-9)
	assert.InDelta(t, 9, tl.RemainingTime(), 1e-9)

	for i := 0; i < 9; i++ {
		tl.Update(1)
	}
	tl.Prepare()
	assert.Equal(t, int32(1), tl.Step())
	assert.Equal(t, red, a.state)
	assert.Equal(t, green, b.state)
	assert.InDelta(t, 20, b.remaining, 1e-9)
	assert.Equal(t, program().Phases[1].Duration, tl.Get().Phases[1].Duration)
}

func TestTimeBeforeChange(t *testing.T) {
	tl := &mapv2.TrafficLight{Phases: []*mapv2.Phase{
		{Duration: 10, States: []mapv2.LightState{green, green}},
		{Duration: 5, States: []mapv2.LightState{red, green}},
		{Duration: 20, States: []mapv2.LightState{green, green}},
	}}
	res := computeTimeBeforeChange(tl, 2)
	// 车道0：相位2结束后回到相位0仍为绿灯，共保持10秒
	assert.Equal(t, []float64{0, 0, 10}, res[0])
	assert.Equal(t, []float64{mathutil.INF, mathutil.INF, mathutil.INF}, res[1])
}

func TestSetRejectsBadProgram(t *testing.T) {
	tl := NewLocalTrafficLight(4, []entity.ILaneTrafficLightSetter{&lightRecorder{}})
	assert.Error(t, tl.Set(program()))

	p := program()
	p.JunctionId = 5
	assert.Error(t, NewLocalTrafficLight(4, []entity.ILaneTrafficLightSetter{&lightRecorder{}, &lightRecorder{}}).Set(p))

	zero := &mapv2.TrafficLight{JunctionId: 4, Phases: []*mapv2.Phase{{Duration: 0, States: []mapv2.LightState{green}}}}
	assert.Error(t, tl.Set(zero))
	assert.False(t, tl.Ok())
}
