package trafficlight

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// localTlRuntime 本地信号灯运行时数据结构
type localTlRuntime struct {
	tl           *mapv2.TrafficLight
	tlStep       int32
	tlTotalTime  float64
	tlRemainingT float64
}

// localTrafficLight 本地固定相位信号灯控制器
// 功能：按照预设的相位顺序和时长进行切换，把每条车道的灯色与到下一次变灯的时间写入车道
type localTrafficLight struct {
	JunctionID int32                            // 所属junction ID
	lanes      []entity.ILaneTrafficLightSetter // 车道数据，与相位中States一一对应

	timeBeforeChange [][]float64     // [车道][相位] 本相位结束后该车道灯色保持不变的时长
	snapshot         localTlRuntime  // snapshot，车辆读取的数据
	runtime          localTlRuntime  // 运行时数据
	buffer           *localTlRuntime // 新程序buffer，下一次Update生效
}

// NewLocalTrafficLight 创建固定相位信号灯控制器
// 参数：junctionID-路口ID，lanes-车道列表
func NewLocalTrafficLight(junctionID int32, lanes []entity.ILaneTrafficLightSetter) *localTrafficLight {
	return &localTrafficLight{
		JunctionID: junctionID,
		lanes:      lanes,
	}
}

// Prepare 准备阶段
// 功能：冻结运行时数据，将当前相位信息写入车道
// 说明：没有信号灯程序时保持全绿灯状态
func (l *localTrafficLight) Prepare() {
	l.snapshot = l.runtime
	if l.snapshot.tl == nil {
		for _, lane := range l.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	p := l.snapshot.tl.Phases[l.snapshot.tlStep]
	for i, lane := range l.lanes {
		lane.SetLight(
			p.States[i],
			l.snapshot.tlTotalTime+l.timeBeforeChange[i][l.snapshot.tlStep],
			l.snapshot.tlRemainingT+l.timeBeforeChange[i][l.snapshot.tlStep],
		)
	}
}

// Update 更新阶段
// 功能：应用新程序，推进相位时间并切换相位
// 参数：dt-时间步长
func (l *localTrafficLight) Update(dt float64) {
	if l.buffer != nil {
		l.runtime = *l.buffer
		l.buffer = nil
		l.timeBeforeChange = nil
		if l.runtime.tl != nil {
			l.timeBeforeChange = computeTimeBeforeChange(l.runtime.tl, len(l.lanes))
		}
	}
	if l.runtime.tl == nil {
		return
	}

	l.runtime.tlRemainingT -= dt
	if l.runtime.tlRemainingT <= 0 {
		l.runtime.tlRemainingT = 0
		l.runtime.tlTotalTime = 0
		// 跳过时长为0的相位
		for {
			l.runtime.tlStep = (l.runtime.tlStep + 1) % int32(len(l.runtime.tl.Phases))
			l.runtime.tlRemainingT += l.runtime.tl.Phases[l.runtime.tlStep].Duration
			if l.runtime.tlRemainingT > 0 {
				l.runtime.tlTotalTime = l.runtime.tlRemainingT
				break
			}
		}
	}
}

// computeTimeBeforeChange 计算每条车道在每个相位结束后灯色继续保持的时长
// 算法说明：
// 1. 从后往前遍历相位，与后一相位灯色相同时累加后一相位时长
// 2. 所有相位灯色都相同时为无穷大
// 3. 首尾相位灯色相同时，末尾连续的同色相位再加上开头同色段的时长
func computeTimeBeforeChange(tl *mapv2.TrafficLight, numLanes int) [][]float64 {
	numPhases := len(tl.Phases)
	res := make([][]float64, 0, numLanes)
	for laneIndex := 0; laneIndex < numLanes; laneIndex++ {
		time := make([]float64, numPhases)
		allTheSame := true
		for phaseIndex := numPhases - 2; phaseIndex >= 0; phaseIndex-- {
			state := tl.Phases[phaseIndex].States[laneIndex]
			next := tl.Phases[phaseIndex+1]
			if state == next.States[laneIndex] {
				time[phaseIndex] = time[phaseIndex+1] + next.Duration
			} else {
				allTheSame = false
			}
		}
		if allTheSame {
			for idx := range time {
				time[idx] = mathutil.INF
			}
		} else {
			lastState := tl.Phases[numPhases-1].States[laneIndex]
			if lastState == tl.Phases[0].States[laneIndex] {
				t0 := time[0] + tl.Phases[0].Duration
				for phaseIndex := numPhases - 1; phaseIndex >= 0; phaseIndex-- {
					if lastState != tl.Phases[phaseIndex].States[laneIndex] {
						break
					}
					time[phaseIndex] += t0
				}
			}
		}
		res = append(res, time)
	}
	return res
}

// Get 获取当前信号灯程序
func (l *localTrafficLight) Get() *mapv2.TrafficLight {
	return l.snapshot.tl
}

// Set 设置信号灯程序
// 功能：验证程序有效性后写入buffer，下一次Update生效
// 说明：初始相位为路口ID对相位数取模，使相邻路口的相位错开
func (l *localTrafficLight) Set(tl *mapv2.TrafficLight) error {
	if tl.JunctionId != l.JunctionID {
		return fmt.Errorf("set junction %d with wrong traffic light id %d", l.JunctionID, tl.JunctionId)
	}
	if len(tl.Phases) == 0 {
		return fmt.Errorf("set junction %d with empty traffic light", l.JunctionID)
	}
	total := 0.0
	for _, p := range tl.Phases {
		if len(p.States) != len(l.lanes) {
			return fmt.Errorf("number of lanes %d and traffic light states %d does not match", len(l.lanes), len(p.States))
		}
		if p.Duration < 0 {
			return fmt.Errorf("negative phase duration %v in junction %d", p.Duration, l.JunctionID)
		}
		total += p.Duration
	}
	if total <= 0 {
		return fmt.Errorf("traffic light of junction %d has zero cycle time", l.JunctionID)
	}

	phaseIndex := l.JunctionID % int32(len(tl.Phases))
	l.buffer = &localTlRuntime{
		tl: tl, tlStep: phaseIndex, tlRemainingT: tl.Phases[phaseIndex].Duration, tlTotalTime: tl.Phases[phaseIndex].Duration,
	}
	return nil
}

// Step 当前相位索引
func (l *localTrafficLight) Step() int32 {
	return l.snapshot.tlStep
}

// RemainingTime 当前相位剩余时间
func (l *localTrafficLight) RemainingTime() float64 {
	return l.snapshot.tlRemainingT
}

// Ok 是否有生效的信号灯程序
func (l *localTrafficLight) Ok() bool {
	return l.snapshot.tl != nil || l.buffer != nil
}
