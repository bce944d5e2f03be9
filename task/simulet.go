package task

import (
	"flag"
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 功能：在每个仿真步骤开始时冻结上一步的结果
// 算法说明：
// 1. 心跳日志：定期输出系统状态信息
// 2. 人员管理器：应用增删并更新链表节点的key
// 3. 并行准备：
//   - 人员管理器：冻结快照
//   - 车道管理器：链表排序并建立支链
//
// 4. 路口管理器：将信号灯状态写入车道
func (ctx *Context) prepare() {
	if *heartBeatInterval > 0 && ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f) running: %d",
			ctx.clock.InternalStep,
			hour, minute, second,
			ctx.personManager.Report().Running,
		)
	}

	ctx.personManager.PrepareNode()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.personManager.Prepare() // person
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.laneManager.Prepare() // lane
	}()
	wg.Wait()
	ctx.junctionManager.Prepare() // junction
}

// update 更新阶段，每步执行一次
// 功能：并行执行人员决策与信号灯推进
// 说明：人员只读取准备阶段写入车道的信号灯状态
func (ctx *Context) update() *entity.StepReport {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.personManager.Update(ctx.clock.DT) // person
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.junctionManager.Update(ctx.clock.DT) // junction
	}()
	wg.Wait()

	report := ctx.personManager.Report()
	if len(report.Failures) > 0 {
		log.Warn(report)
	} else {
		log.Debug(report)
	}
	return report
}

// Step 执行一步
func (ctx *Context) Step() *entity.StepReport {
	ctx.prepare()
	report := ctx.update()
	ctx.recorder.Write(report)
	ctx.clock.Next()
	return report
}

// Run 运行
// 功能：初始化后逐步推进直到结束步或收到关闭指令
func (ctx *Context) Run() error {
	if err := ctx.Init(); err != nil {
		return err
	}
	for !ctx.clock.Done() && !ctx.closed.Load() {
		ctx.Step()
	}
	stats := ctx.personManager.Stats()
	log.Infof("engine complete at step %d: %d trips completed, total travel time %.1fs",
		ctx.clock.InternalStep, stats.NumCompletedTrips, stats.TravelTime)
	if err := ctx.recorder.Close(); err != nil {
		return err
	}
	if ctx.recorder != nil {
		log.Infof("recorder: %+v", ctx.recorder.Stats())
	}
	return nil
}
