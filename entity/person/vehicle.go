package person

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

const (
	closeToEnd = 5 // 车辆到达终点的判定范围（米）
)

// vehicle 车辆实体数据结构
// 功能：管理车辆在车道链表中的节点与控制器
type vehicle struct {
	length           float64             // 车辆长度
	node, shadowNode *entity.VehicleNode // 主节点和影子节点（用于变道）
	controller       *controller         // 车辆控制器
}

// updateLaneVehicleNodes 更新车道车辆节点
// 功能：维护车辆在车道链表中的节点，处理车道切换和变道
// 参数：needIndexMaintenance-是否需要维护索引
// 算法说明：
// 1. 比较运行时和快照的车道信息
// 2. 如果需要维护索引：
//   - 处理主车道切换
//   - 处理变道影子节点
//   - 创建新节点避免并发问题
//
// 3. 如果不需要维护索引：
//   - 移除所有节点
func (p *Person) updateLaneVehicleNodes(needIndexMaintenance bool) {
	log.Debugf("updateLaneVehicleNodes %v need %v lane %v->%v shadow %v->%v step %v",
		p.ID(), needIndexMaintenance,
		laneID(p.snapshot.Lane), laneID(p.runtime.Lane),
		laneID(p.snapshot.LC.ShadowLane), laneID(p.runtime.LC.ShadowLane),
		p.ctx.Clock().InternalStep,
	)
	if !needIndexMaintenance {
		p.snapshot.Lane.RemoveVehicle(p.vehicle.node)
		if p.snapshot.LC.IsLC {
			p.snapshot.LC.ShadowLane.RemoveVehicle(p.vehicle.shadowNode)
		}
		return
	}
	if p.snapshot.Lane != p.runtime.Lane {
		p.snapshot.Lane.RemoveVehicle(p.vehicle.node)
		// 换一个新的node来避免remove操作和add操作处理同一个对象需要保证先后顺序
		p.vehicle.node = newVehicleNode(p.runtime.S, p)
		p.runtime.Lane.AddVehicle(p.vehicle.node)
	}
	was, is := p.snapshot.LC.IsLC, p.runtime.LC.IsLC
	switch {
	case !was && !is:
	case was && !is:
		p.snapshot.LC.ShadowLane.RemoveVehicle(p.vehicle.shadowNode)
	case !was && is:
		p.vehicle.shadowNode = newVehicleNode(p.runtime.LC.ShadowS, p)
		p.runtime.LC.ShadowLane.AddVehicle(p.vehicle.shadowNode)
	default:
		if p.snapshot.LC.ShadowLane != p.runtime.LC.ShadowLane {
			p.snapshot.LC.ShadowLane.RemoveVehicle(p.vehicle.shadowNode)
			p.vehicle.shadowNode = newVehicleNode(p.runtime.LC.ShadowS, p)
			p.runtime.LC.ShadowLane.AddVehicle(p.vehicle.shadowNode)
		}
	}
}

// updateVehicle 更新车辆状态
// 功能：执行一步决策并按动作推进车辆
// 返回：isEnd-是否到达终点，startedLC-本步是否开始换道，err-决策或推进失败
// 算法说明：
// 1. 决策失败时保持上一步的加速度且不换道，错误返回给调用方记录
// 2. 按动作更新速度、位置与变道状态
// 3. 到达终点或仿真结束时移除车辆节点，否则增量维护车道链表
func (p *Person) updateVehicle(dt float64) (isEnd bool, startedLC bool, err error) {
	ac, err := p.vehicle.controller.update()
	if err != nil {
		ac = fallbackAction(p.snapshot.Action)
	}
	p.runtime.Action = ac
	skipToEnd, startedLC, moveErr := p.refreshRuntime(ac, dt)
	if moveErr != nil {
		if err == nil {
			err = moveErr
		}
		skipToEnd = true
	}
	// 到最后一个step了，不管到没到目的地，都进行清理操作
	forceEnd := p.ctx.Clock().IsLastStep()
	reachTarget := p.checkCloseToEndAndRefreshRuntime(skipToEnd)
	if reachTarget || forceEnd {
		// 增量更新车道索引（不再维护数据）
		p.updateLaneVehicleNodes(false)
		return true, startedLC, err
	}
	// 增量更新车道索引（维护数据）
	p.updateLaneVehicleNodes(true)
	return false, startedLC, err
}

// 计算本时刻的速度与移动距离
// v(t)=v(t-1)+acc*dt, ds=v(t-1)*dt+acc*dt*dt/2
func computeVAndDistance(v, a, dt float64) (float64, float64) {
	dv := a * dt
	if v+dv < 0 {
		// 刹车到停止
		return 0, v * v / 2 / -a
	}
	return v + dv, (v + dv/2) * dt
}

// refreshRuntime 按动作推进车辆
// 算法说明：
// 1. 开始换道：车辆移到目标车道的投影位置，原车道作为影子车道
// 2. 沿车道与路线前进ds
// 3. 换道进度按时间推进，达到1时完成换道
func (p *Person) refreshRuntime(ac Action, dt float64) (skipToEnd bool, startedLC bool, err error) {
	v, ds := computeVAndDistance(p.snapshot.V, ac.A, dt)

	newRuntime := p.runtime
	if ac.LaneChange != perception.None && !newRuntime.LC.IsLC {
		target := newRuntime.Lane.NeighborLane(sideOf(ac.LaneChange))
		switch {
		case target == nil || target.Type() != mapv2.LaneType_LANE_TYPE_DRIVING:
			log.Warnf("vehicle: vehicle %v has no %v lane to change to from %v, ignore it",
				p.ID(), ac.LaneChange, newRuntime.Lane.ID())
		default:
			//  --------------------------------------------
			//   [2] → → (lane change duration) → → [3]
			//  --↑-----------------------------------------
			//   [1]     (ignore the width)
			//  --------------------------------------------
			// 1: motion.lane + motion.s
			// 2: target_lane + neighbor_s
			// 3: target_lane + target_s
			newRuntime.LC = lcRuntime{
				IsLC:       true,
				Direction:  ac.LaneChange,
				ShadowLane: newRuntime.Lane,
				ShadowS:    newRuntime.S,
				Duration:   ac.LCDuration,
			}
			newRuntime.S = target.ProjectFromLane(newRuntime.Lane, newRuntime.S)
			newRuntime.Lane = target
			p.vehicle.controller.laneChangeStarted(p.ctx.Clock().T)
			startedLC = true
		}
	}
	// 向前更新位置
	skipToEnd, err = p.driveStraightAndRefreshLocation(&newRuntime, ds)
	if err != nil || skipToEnd {
		p.runtime = newRuntime
		p.runtime.V = v
		return
	}
	if newRuntime.LC.IsLC {
		ratio := 1.0
		if newRuntime.LC.Duration > 0 {
			ratio = newRuntime.LC.CompletedRatio + dt/newRuntime.LC.Duration
		}
		if ratio >= 1 {
			// 变道已经完成
			newRuntime.clearLaneChange()
		} else {
			newRuntime.LC.CompletedRatio = ratio
			newRuntime.LC.ShadowS = newRuntime.LC.ShadowLane.ProjectFromLane(newRuntime.Lane, newRuntime.S)
		}
	}

	// 更新xy坐标
	xyz := newRuntime.Lane.GetPositionByS(newRuntime.S)
	if newRuntime.LC.IsLC {
		shadowXYZ := newRuntime.LC.ShadowLane.GetPositionByS(newRuntime.LC.ShadowS)
		xyz = geometry.Blend(shadowXYZ, xyz, newRuntime.LC.CompletedRatio)
	}
	newRuntime.XYZ = xyz

	p.runtime = newRuntime
	p.runtime.V = v
	return
}

// driveStraightAndRefreshLocation 沿车道与路线前进ds
// 说明：越过车道末端时放弃未完成的变道
func (p *Person) driveStraightAndRefreshLocation(rt *runtime, ds float64) (skipToEnd bool, err error) {
	s := rt.S + ds
	lane := rt.Lane
	if s > lane.Length() {
		if rt.LC.IsLC {
			log.Debugf("vehicle: vehicle %v skipped the change to lane (LC=%+v)",
				p.ID(), rt.LC)
		}
		rt.clearLaneChange()
		for s > lane.Length() {
			s -= lane.Length()
			next, err := p.route.Next(lane)
			if err != nil {
				return true, fmt.Errorf("person %d: %w", p.ID(), err)
			}
			if next == nil {
				return true, nil
			}
			lane = next
		}
	}
	rt.Lane = lane
	rt.S = s
	return false, nil
}

// 检查车辆是否到达目标地点，是则返回true
func (p *Person) checkCloseToEndAndRefreshRuntime(skipToEnd bool) bool {
	end := p.route.End
	if skipToEnd || (p.runtime.Lane.ParentRoad() != nil &&
		p.runtime.Lane.ParentRoad() == end.Lane.ParentRoad() &&
		end.S-p.runtime.S <= closeToEnd) {
		p.runtime.Lane = end.Lane
		p.runtime.S = end.S
		p.runtime.V = 0
		p.runtime.XYZ = end.Lane.GetPositionByS(end.S)
		p.runtime.clearLaneChange()
		if skipToEnd {
			log.Debugf("skipToEnd: vehicle %v from %v@%.2f to %v",
				p.ID(), laneID(p.snapshot.Lane), p.snapshot.S, end)
		}
		return true
	}
	return false
}

// getter

// 获取车辆影子所在的Lane
func (p *Person) ShadowLane() entity.ILane {
	return p.snapshot.LC.ShadowLane
}

// 获取车辆影子在Lane上的位置S坐标
func (p *Person) ShadowS() float64 {
	return p.snapshot.LC.ShadowS
}

// 判断车辆是否正在变道
func (p *Person) IsLC() bool {
	return p.snapshot.LC.IsLC
}

func newVehicleNode(key float64, value entity.IPerson) *entity.VehicleNode {
	return &entity.VehicleNode{
		S:     key,
		Value: value,
	}
}

func laneID(l entity.ILane) int32 {
	if l == nil {
		return -1
	}
	return l.ID()
}
