package task

import (
	"fmt"
	"sync/atomic"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/clock"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/lane"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/road"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/recorder"
)

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：管理仿真系统的所有组件，包括时钟、管理器、配置、输出等
type Context struct {
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock

	// Lane管理器
	laneManager *lane.LaneManager
	// Road管理器
	roadManager *road.RoadManager
	// Junction管理器
	junctionManager *junction.JunctionManager
	// Person管理器
	personManager *person.PersonManager

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig

	// 用于初始化的输入
	initRes *input.Input

	// 每步汇总的记录器，为nil时不记录
	recorder *recorder.Recorder
}

// NewContext 创建新的仿真任务上下文
// 功能：加载输入数据并创建所有管理器
// 参数：
//   - cacheDir: 缓存目录
//   - c: 配置对象
//   - reportPath: 每步汇总的SQLite数据库路径，为空则不记录
//
// 返回：初始化完成的Context实例
func NewContext(cacheDir string, c config.Config, reportPath string) (*Context, error) {
	// 下载所有模拟器启动所需的数据
	initRes, err := input.Init(c, cacheDir)
	if err != nil {
		return nil, err
	}
	ctx := NewContextFromInput(c, initRes)
	if reportPath != "" {
		if ctx.recorder, err = recorder.Open(reportPath); err != nil {
			return nil, fmt.Errorf("open report db: %w", err)
		}
	}
	return ctx, nil
}

// NewContextFromInput 由已加载的输入数据创建上下文
func NewContextFromInput(c config.Config, initRes *input.Input) *Context {
	ctx := &Context{
		clock:         clock.New(c.Control.Step),
		runtimeConfig: config.NewRuntimeConfig(c),
		initRes:       initRes,
	}
	// 新建各类模拟对象
	ctx.laneManager = lane.NewManager()
	ctx.roadManager = road.NewManager()
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.personManager = person.NewManager(ctx)
	return ctx
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) RoadManager() entity.IRoadManager {
	return ctx.roadManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) PersonManager() entity.IPersonManager {
	return ctx.personManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

// Init 构建路网与人员
// 算法说明：
// 1. 先完成lane的初始化并放置限速牌
// 2. road、junction依次初始化，junction同时生成冲突区与信控
// 3. 完成地图构建后创建person
func (ctx *Context) Init() error {
	ctx.clock.Init()

	var (
		mapData = ctx.initRes.Map
		persons []*personv2.Person
	)
	if mapData == nil {
		mapData = &mapv2.Map{}
	}
	if ctx.initRes.Persons != nil {
		persons = ctx.initRes.Persons.Persons
	}

	log.Infof("Lane: %v", len(mapData.Lanes))
	log.Infof("Road: %v", len(mapData.Roads))
	log.Infof("Junction: %v", len(mapData.Junctions))
	log.Infof("Person: %v", len(persons))

	ctx.laneManager.Init(mapData.Lanes)
	if err := ctx.laneManager.InitSpeedLimitSigns(ctx.runtimeConfig.C.SpeedLimitSigns); err != nil {
		return err
	}
	ctx.roadManager.Init(mapData.Roads, ctx.laneManager)
	ctx.junctionManager.Init(mapData.Junctions, ctx.laneManager, ctx.roadManager)
	// road初始化其中的前驱后继路口
	ctx.roadManager.InitAfterJunction(ctx.junctionManager)

	return ctx.personManager.Init(persons, ctx.laneManager)
}

// Close 请求停止仿真，在当前步结束后生效
func (ctx *Context) Close() {
	ctx.closed.Store(true)
}
