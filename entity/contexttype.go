package entity

import (
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/clock"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
)

type ITaskContext interface {
	Clock() *clock.Clock
	LaneManager() ILaneManager
	RoadManager() IRoadManager
	JunctionManager() IJunctionManager
	PersonManager() IPersonManager
	RuntimeConfig() *config.RuntimeConfig
}
