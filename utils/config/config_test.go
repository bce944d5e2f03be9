package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
input:
  uri: mongodb://localhost:27017
  map:
    db: srt
    col: map_test
    file: data/map.pb
  person:
    db: srt
    col: person_test
control:
  step:
    start: 0
    total: 3600
    interval: 0.5
  enable_traffic_light: true
  seed: 7
  speed_limit_signs:
    - lane: 12
      s: 40
      limit: 8.3
model:
  car_following: idm+random
  gap_acceptance: egoistic
  synchronization: active
  cooperation: active
  incentives: [route, speed-with-courtesy, keep]
  conflicts: false
  parameters:
    T: 1.4
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "data/map.pb", c.Input.Map.File)
	assert.Equal(t, "srt.person_test.pb", c.Input.Person.GetCachePath())
	assert.Equal(t, int32(3600), c.Control.Step.Total)
	assert.True(t, c.Control.EnableTrafficLight)
	assert.Equal(t, uint64(7), c.Control.Seed)
	require.Len(t, c.Control.SpeedLimitSigns, 1)
	assert.Equal(t, SpeedLimitSign{Lane: 12, S: 40, Limit: 8.3}, c.Control.SpeedLimitSigns[0])
	assert.Equal(t, []string{"route", "speed-with-courtesy", "keep"}, c.Model.Incentives)
	assert.False(t, c.Model.ConflictsEnabled())
	assert.True(t, c.Model.TrafficLightsEnabled())
	assert.Equal(t, 1.4, c.Model.Parameters["T"])
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("control:\n  step:\n    total: 10\n  unknown: 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("control:\n  step:\n    total: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("control:\n  step:\n    total: 1\n  speed_limit_signs:\n    - lane: 1\n      s: 0\n      limit: 0\n"))
	assert.Error(t, err)
}

func TestRuntimeConfigDefaults(t *testing.T) {
	rc := NewRuntimeConfig(Config{Control: Control{Step: ControlStep{Total: 10}}})
	assert.Equal(t, defaultInterval, rc.C.Step.Interval)
	assert.Equal(t, "idm+", rc.M.CarFollowing)
	assert.Equal(t, rc.C, rc.All.Control)
}
