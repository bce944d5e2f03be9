package parameter_test

import (
	"errors"
	"testing"

	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
)

func TestGetMissing(t *testing.T) {
	p := parameter.New()
	_, err := p.Get(parameter.B)
	require.Error(t, err)
	assert.True(t, errors.Is(err, parameter.ErrParameterMissing))
	var pErr *parameter.Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, parameter.B, pErr.Key)
	assert.Equal(t, 1.5, p.GetOr(parameter.B, 1.5))
}

func TestThresholdOrder(t *testing.T) {
	cases := []struct {
		name string
		key  parameter.Key
		v    float64
	}{
		{"dFree equals dSync", parameter.DFree, 0.577},
		{"dFree above dSync", parameter.DFree, 0.6},
		{"dSync equals dCoop", parameter.DSync, 0.788},
		{"dSync below dFree", parameter.DSync, 0.3},
		{"dCoop below dSync", parameter.DCoop, 0.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := parameter.Defaults()
			before, _ := p.Get(c.key)
			err := p.Set(c.key, c.v)
			assert.ErrorIs(t, err, parameter.ErrThresholdOrder)
			after, _ := p.Get(c.key)
			assert.Equal(t, before, after)
		})
	}

	p := parameter.Defaults()
	assert.NoError(t, p.Set(parameter.DFree, 0.2))
	assert.NoError(t, p.Set(parameter.DCoop, 0.9))
}

func TestApplyValidatesOnce(t *testing.T) {
	p := parameter.Defaults()
	// 单独设置dSync=0.8会违反约束，批量设置则合法
	require.NoError(t, p.Apply(map[parameter.Key]float64{
		parameter.DSync: 0.8,
		parameter.DCoop: 0.9,
	}))
	v, _ := p.Get(parameter.DSync)
	assert.Equal(t, 0.8, v)

	err := p.Apply(map[parameter.Key]float64{parameter.DFree: 0.95})
	assert.ErrorIs(t, err, parameter.ErrThresholdOrder)
	v, _ = p.Get(parameter.DFree)
	assert.Equal(t, 0.365, v)
}

func TestResettable(t *testing.T) {
	p := parameter.Defaults()
	require.NoError(t, p.SetResettable(parameter.T, 0.8))
	require.NoError(t, p.SetResettable(parameter.T, 0.6))
	v, _ := p.Get(parameter.T)
	assert.Equal(t, 0.6, v)
	require.NoError(t, p.Reset(parameter.T))
	v, _ = p.Get(parameter.T)
	assert.Equal(t, 0.8, v)
	require.NoError(t, p.Reset(parameter.T))
	v, _ = p.Get(parameter.T)
	assert.Equal(t, 1.2, v)
	assert.ErrorIs(t, p.Reset(parameter.T), parameter.ErrNothingToReset)

	// 临时设置一个原本不存在的参数，恢复后应消失
	require.NoError(t, p.SetResettable("custom", 1))
	require.NoError(t, p.Reset("custom"))
	assert.False(t, p.Contains("custom"))
}

func TestTemporarily(t *testing.T) {
	p := parameter.Defaults()
	seen, err := p.Temporarily(parameter.T, 0.7, func() (float64, error) {
		return p.Get(parameter.T)
	})
	require.NoError(t, err)
	assert.Equal(t, 0.7, seen)
	v, _ := p.Get(parameter.T)
	assert.Equal(t, 1.2, v)

	_, err = p.Temporarily(parameter.T, 0.7, func() (float64, error) {
		return 0, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	v, _ = p.Get(parameter.T)
	assert.Equal(t, 1.2, v)
}

func TestCloneIsIndependent(t *testing.T) {
	p := parameter.Defaults()
	c := p.Clone()
	require.NoError(t, c.Set(parameter.T, 0.9))
	v, _ := p.Get(parameter.T)
	assert.Equal(t, 1.2, v)
}

func TestFromVehicleAttribute(t *testing.T) {
	attr := &personv2.VehicleAttribute{
		MaxSpeed:                         41.6,
		MaxAcceleration:                  3,
		MaxBrakingAcceleration:           -10,
		UsualAcceleration:                2,
		UsualBrakingAcceleration:         -4.5,
		Length:                           5,
		Width:                            2,
		MinGap:                           1,
		Headway:                          1.5,
		LaneMaxSpeedRecognitionDeviation: 1.1,
	}
	p, err := parameter.FromVehicleAttribute(attr)
	require.NoError(t, err)
	for k, want := range map[parameter.Key]float64{
		parameter.VMax:   41.6,
		parameter.A:      2,
		parameter.B:      4.5,
		parameter.BCrit:  10,
		parameter.S0:     1,
		parameter.T:      1.5,
		parameter.TMax:   1.5,
		parameter.TMin:   0.56,
		parameter.FSpeed: 1.1,
	} {
		got, err := p.Get(k)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "key %s", k)
	}

	attr.UsualBrakingAcceleration = 1
	_, err = parameter.FromVehicleAttribute(attr)
	assert.ErrorIs(t, err, parameter.ErrInvalidValue)
}
