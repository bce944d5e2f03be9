package entity

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
)

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	Init(pbs []*mapv2.Lane) // 初始化
	// 在车道上放置限速牌
	InitSpeedLimitSigns(signs []config.SpeedLimitSign) error

	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)

	Prepare() // 准备阶段
}

// entity/road/manager.go的依赖倒置
type IRoadManager interface {
	Init(pbs []*mapv2.Road, laneManager ILaneManager)   // 初始化
	InitAfterJunction(junctionManager IJunctionManager) // 初始化所有Road的Junction关系

	// 输入Road ID，查找Road，如果不存在则panic
	Get(id int32) IRoad
	// 输入Road ID，查找Road，如果不存在则返回error
	GetOrError(id int32) (IRoad, error)
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	Init(pbs []*mapv2.Junction, laneManager ILaneManager, roadManager IRoadManager) // 初始化

	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}

// entity/person/manager.go的依赖倒置
type IPersonManager interface {
	// 初始化
	Init(pbs []*personv2.Person, laneManager ILaneManager) error

	// 输入Person ID，查找Person，如果不存在则panic
	Get(id int32) IPerson
	// 输入Person ID，查找Person，如果不存在则返回error
	GetOrError(id int32) (IPerson, error)

	PrepareNode()        // 准备阶段：链表节点更新
	Prepare()            // 准备阶段：snapshot更新
	Update(dt float64)   // 更新阶段
	Report() *StepReport // 最近一次更新阶段的汇总
}
