package conflict

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

const (
	// 无上游车辆时，在可视距离处假想的冲突车辆车长
	virtualVehicleLength = 4.0
)

// Ego 自身状态与行为模型
type Ego struct {
	Params     *parameter.Parameters
	Model      carfollowing.Model
	SpeedLimit carfollowing.SpeedLimitInfo
	Speed      float64
	Length     float64
}

func (e *Ego) follow(distance, leaderSpeed float64) (float64, error) {
	return carfollowing.FollowSingleLeader(e.Model, e.Params, e.Speed, e.SpeedLimit, distance, leaderSpeed)
}

func (e *Ego) stop(distance float64) (float64, error) {
	return carfollowing.Stop(e.Model, e.Params, e.Speed, e.SpeedLimit, distance)
}

// passableDistance 前车需要驶离的距离，使冲突区后方能容纳自身
func (e *Ego) passableDistance() (float64, error) {
	s0, err := e.Params.Get(parameter.S0)
	if err != nil {
		return 0, err
	}
	return s0 + e.Length, nil
}

// ApproachConflicts 接近冲突区时的加速度
// 功能：依次评估前方的冲突区，给出不超过的加速度上限
// 参数：ego-自身状态，conflicts-由近及远的冲突区，leaders-当前车道前车，plans-冲突计划（会被修改）
// 返回：加速度上限，无约束时为+Inf
// 算法说明：
// 1. 第一个冲突区在停车距离（s0+车长+v²/2b）之外时不做任何约束
// 2. 交叉冲突：避免与冲突方向车辆在冲突区内相撞；合流/分流冲突：跟随冲突方向已越过冲突区起点的车辆
// 3. 已进入的冲突区只用于跟随；位于非优先交叉冲突区内时标记自身为阻塞
// 4. 按通行规则判断是否需要在冲突区前停车：
//   - 优先：仅在可能阻塞冲突区时礼让（礼让计划）
//   - 让行/停车让行：与冲突方向车辆比较到达与离开时间，阻塞时以bCrit计算
//   - 分流：不停车
//
// 5. 需要停车时，从不可停留的冲突区（交叉、保持畅通）中找到可停车的空隙，停在空隙前；不再评估更远的冲突区
// 6. 记录自身经过的交叉与保持畅通冲突区，更新阻塞标记
func ApproachConflicts(ego Ego, conflicts []perception.Conflict, leaders []perception.Neighbor, plans *Plans) (float64, error) {
	plans.clean(conflicts, ego.Speed)
	if len(conflicts) == 0 {
		plans.blocking = false
		return math.Inf(1), nil
	}
	p := ego.Params
	vals, err := getAll(p, parameter.S0, parameter.B, parameter.BCrit, parameter.S0Conf)
	if err != nil {
		return 0, err
	}
	s0, b, bCrit, s0Conf := vals[0], vals[1], vals[2], vals[3]

	stoppingDistance := s0 + ego.Length + .5*ego.Speed*ego.Speed/b
	if conflicts[0].Distance > stoppingDistance {
		plans.blocking = false
		return math.Inf(1), nil
	}
	passable := s0 + ego.Length

	a := math.Inf(1)
	blocking := false
	var prevStarts, prevEnds []float64
	for i := range conflicts {
		c := &conflicts[i]

		// 冲突方向车辆
		var aFollow float64
		if c.IsCrossing() {
			aFollow, err = avoidCrossingCollision(ego, c)
		} else {
			aFollow, err = followConflictingLeaderOnMergeOrSplit(ego, c, s0Conf)
		}
		if err != nil {
			return 0, err
		}
		a = math.Min(a, aFollow)

		if c.Distance < 0 {
			if c.IsCrossing() && c.Rule != perception.Priority {
				blocking = true
			}
			continue
		}

		var stop bool
		switch c.Rule {
		case perception.Priority:
			var blocked bool
			stop, blocked, err = stopForPriorityConflict(ego, c, leaders, plans)
			blocking = blocking || blocked
		case perception.GiveWay, perception.Stop:
			bType := parameter.B
			if blocking {
				bType = parameter.BCrit
			}
			stop, err = stopForGiveWayConflict(ego, c, leaders, bType)
		}
		if err != nil {
			return 0, err
		}
		if c.IsSplit() {
			stop = false
		}

		if stop {
			prevStarts = append(prevStarts, c.Distance)
			j := stopLine(prevStarts, prevEnds, passable)
			if blocking && j == 0 {
				// 自身阻塞冲突区时，不停在比迫使停车的冲突区更上游的位置
				j = len(prevStarts) - 1
			}
			// 停在第j个冲突区前，减速度过大时依次改停在下游的冲突区前
			aConflict, err := p.Temporarily(parameter.S0, s0Conf, func() (float64, error) {
				aStop := math.Inf(-1)
				for ; aStop < -bCrit && j < len(prevStarts); j++ {
					if prevStarts[j] < s0Conf {
						// 已在停车线附近，以bCrit为限
						aStop = math.Max(aStop, -bCrit)
						continue
					}
					aj, err := ego.stop(prevStarts[j])
					if err != nil {
						return 0, err
					}
					aStop = math.Max(aStop, aj)
				}
				return aStop, nil
			})
			if err != nil {
				return 0, err
			}
			a = math.Min(a, aConflict)
			plans.stopped = true
			log.Debugf("stop for %s conflict %d at %.2fm: a=%.3f", c.Type, c.ID, c.Distance, aConflict)
			break
		}

		if c.IsCrossing() || c.KeepClear {
			prevStarts = append(prevStarts, c.Distance)
			prevEnds = append(prevEnds, c.Distance+c.Length)
			plans.keepClear = append(plans.keepClear, KeepClear{ConflictID: c.ID, Start: c.Distance, End: c.Distance + c.Length})
		}
	}
	plans.blocking = blocking
	return a, nil
}

// stopLine 需要停车时的停车位置下标
// 说明：prevStarts比prevEnds多一个元素（迫使停车的冲突区）。由下游向上游寻找第一个足以容纳自身的空隙，
// 停在空隙下游的冲突区前；没有足够的空隙时停在最上游的冲突区前
func stopLine(prevStarts, prevEnds []float64, passable float64) int {
	for k := len(prevEnds); k >= 1; k-- {
		if prevStarts[k]-prevEnds[k-1] >= passable {
			return k
		}
	}
	return 0
}

func getAll(p *parameter.Parameters, keys ...parameter.Key) ([]float64, error) {
	res := make([]float64, len(keys))
	for i, k := range keys {
		v, err := p.Get(k)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// followConflictingLeaderOnMergeOrSplit 跟随合流/分流冲突方向上已越过冲突区起点的车辆
// 算法说明：
// 1. 虚拟间距 = 到冲突区起点的距离 + 冲突车辆车尾到冲突区起点的距离，跳过虚拟间距不为正的车辆
// 2. 合流且冲突车辆尚有一部分在冲突区上游时，至少允许以s0conf为最小间距停在冲突区起点
func followConflictingLeaderOnMergeOrSplit(ego Ego, c *perception.Conflict, s0Conf float64) (float64, error) {
	for _, v := range c.Downstream {
		virtual := c.Distance + v.Distance
		if virtual <= 0 {
			continue
		}
		a, err := ego.follow(virtual, v.Speed)
		if err != nil {
			return 0, err
		}
		if c.IsMerge() && v.Distance < 0 && c.Distance > 0 {
			aStop, err := ego.Params.Temporarily(parameter.S0, s0Conf, func() (float64, error) {
				return ego.stop(c.Distance)
			})
			if err != nil {
				return 0, err
			}
			a = math.Max(a, aStop)
		}
		return a, nil
	}
	return math.Inf(1), nil
}

// avoidCrossingCollision 避免在交叉冲突区内与冲突方向车辆相撞
// 功能：冲突车辆在自身到达前进入、在自身到达后才离开时，减速使自身晚于其离开到达
// 算法说明：
// 1. 候选车辆：上游第一辆经过冲突区的车辆，以及仍在冲突区内的下游车辆
// 2. tteC/ttcC为冲突车辆进入/离开冲突区的时间，tteO为自身以自由加速度到达的时间
// 3. tteC < tteO < ttcC 时：冲突车辆静止则停车；否则按抛物线减速，使自身在ttcC时刚好到达，减速中途会停下时直接停车
func avoidCrossingCollision(ego Ego, c *perception.Conflict) (float64, error) {
	type candidate struct {
		perception.ConflictingVehicle
		onConflict bool
	}
	var candidates []candidate
	if v, ok := firstUpstream(c); ok {
		candidates = append(candidates, candidate{ConflictingVehicle: v})
	}
	for _, v := range c.Downstream {
		if v.Distance < c.Length {
			candidates = append(candidates, candidate{ConflictingVehicle: v, onConflict: true})
		}
	}
	if len(candidates) == 0 {
		return math.Inf(1), nil
	}
	tteO, err := AnticipateFreeAcceleration(c.Distance, ego.Speed, ego.Model, ego.Params, ego.SpeedLimit)
	if err != nil {
		return 0, err
	}
	a := math.Inf(1)
	for _, v := range candidates {
		var tteC, ttcC Anticipation
		if v.onConflict {
			tteC = Anticipation{Duration: 0, EndSpeed: v.Speed}
			ttcC = Anticipate(c.Length-v.Distance, v.Speed, 0)
		} else {
			tteC = Anticipate(v.Distance, v.Speed, 0)
			ttcC = Anticipate(v.Distance+c.Length+v.Length, v.Speed, 0)
		}
		if !(tteC.Duration < tteO.Duration && tteO.Duration < ttcC.Duration) {
			continue
		}
		if math.IsInf(ttcC.Duration, 1) {
			aStop, err := ego.stop(c.Distance)
			if err != nil {
				return 0, err
			}
			a = math.Min(a, aStop)
			continue
		}
		t := ttcC.Duration
		acc := 2 * (c.Distance - ego.Speed*t) / (t * t)
		if acc >= 0 || ego.Speed/-acc > t {
			a = math.Min(a, acc)
		} else {
			aStop, err := ego.stop(c.Distance)
			if err != nil {
				return 0, err
			}
			a = math.Min(a, aStop)
		}
	}
	return a, nil
}

// firstUpstream 上游第一辆经过冲突区且在可视范围内的车辆
func firstUpstream(c *perception.Conflict) (perception.ConflictingVehicle, bool) {
	for _, v := range c.Upstream {
		if c.Visibility > 0 && v.Distance > c.Visibility {
			break
		}
		if v.OnRoute {
			return v, true
		}
	}
	return perception.ConflictingVehicle{}, false
}

// stopForPriorityConflict 优先方向上是否礼让
// 返回：stop-是否在冲突区前停车，blocked-自身是否估计处于阻塞状态
// 算法说明：
// 1. 没有前车或冲突方向没有车辆时无需礼让，放弃已有礼让计划
// 2. 冲突车辆报告自身阻塞时不礼让，避免相互等待形成死锁
// 3. 已礼让的车辆成为前车后不再礼让
// 4. ttcC为自身驶过冲突区所需时间，ttpD为前车腾出足够空间所需时间；ttpD < ttcC时不会阻塞冲突区，放弃礼让
// 5. 可能阻塞冲突区时：冲突车辆静止且尚无礼让计划，只有自身也被堵住且能舒适停车时才开始礼让
// 6. 其余情况记录礼让计划并停车
func stopForPriorityConflict(ego Ego, c *perception.Conflict, leaders []perception.Neighbor, plans *Plans) (bool, bool, error) {
	if len(leaders) == 0 {
		plans.ClearYieldPlan(c.ID)
		return false, false, nil
	}
	cv, ok := firstUpstream(c)
	if !ok || cv.Blocked {
		plans.ClearYieldPlan(c.ID)
		return false, false, nil
	}
	leader := leaders[0]
	if plans.IsYieldPlan(c.ID, leader.ID) {
		return false, false, nil
	}
	passable, err := ego.passableDistance()
	if err != nil {
		return false, false, err
	}
	clearDist := c.Distance + ego.Length
	room := c.Distance - leader.Distance + passable
	if c.IsCrossing() {
		clearDist += c.Length
		room += c.Length
	}
	ttcC := Anticipate(clearDist, ego.Speed, 0)
	ttpD := Anticipate(room, leader.Speed, 0)
	blocked := ego.Speed == 0 && math.IsInf(ttcC.Duration, 1) && math.IsInf(ttpD.Duration, 1)
	if ttpD.Duration < ttcC.Duration {
		plans.ClearYieldPlan(c.ID)
		return false, blocked, nil
	}
	if cv.Speed == 0 && !plans.IsYieldPlan(c.ID, cv.ID) {
		if !math.IsInf(ttpD.Duration, 1) {
			return false, blocked, nil
		}
		b, err := ego.Params.Get(parameter.B)
		if err != nil {
			return false, false, err
		}
		if c.Distance > 0 && .5*ego.Speed*ego.Speed/c.Distance > b {
			return false, blocked, nil
		}
	}
	plans.SetYieldPlan(c.ID, cv.ID)
	log.Debugf("yield at priority conflict %d to vehicle %d", c.ID, cv.ID)
	return true, blocked, nil
}

// stopForGiveWayConflict 让行方向上是否需要停车
// 功能：以时间因子放大自身到达/离开时间，与冲突方向车辆的到达时间比较
// 参数：bType-计算冲突车辆减速时使用的减速度参数（阻塞时为bCrit）
// 算法说明：
// 1. 交叉冲突区内仍有车辆时停车
// 2. ttcOa为自身以自由加速度驶过冲突区的时间；交叉冲突还需前车腾出空间，ttpDz/ttpDs为前车匀速/减速时腾出空间的时间
// 3. 可视范围内没有冲突车辆时，在可视距离处假想一辆以冲突方向限速行驶的车辆
// 4. 第一辆冲突车辆静止时不停车
// 5. 逐辆比较冲突车辆匀速/自由加速到达时间tteCa与以b减速到达时间tteCs：
//   - 合流：自身驶过冲突区需早于tteCa；考虑速度差，冲突车辆以b减速时仍需保持安全间距
//   - 交叉：前车腾出空间与自身驶过冲突区都需早于冲突车辆到达
func stopForGiveWayConflict(ego Ego, c *perception.Conflict, leaders []perception.Neighbor, bType parameter.Key) (bool, error) {
	if c.IsCrossing() && len(c.Downstream) > 0 && c.Downstream[0].Distance < c.Length {
		return true, nil
	}
	vals, err := getAll(ego.Params, bType, parameter.TimeFactor, parameter.MinGap, parameter.TMax, parameter.S0)
	if err != nil {
		return false, err
	}
	b, f, gap, tMax, s0 := -vals[0], vals[1], vals[2], vals[3], vals[4]

	dist := c.Distance + ego.Length
	if c.IsCrossing() {
		dist += c.Length
	}
	ttcOa, err := AnticipateFreeAcceleration(dist, ego.Speed, ego.Model, ego.Params, ego.SpeedLimit)
	if err != nil {
		return false, err
	}
	var ttpDz, ttpDs Anticipation
	if c.IsCrossing() && len(leaders) > 0 {
		passable, err := ego.passableDistance()
		if err != nil {
			return false, err
		}
		d := c.Distance - leaders[0].Distance + c.Length + passable
		ttpDz = Anticipate(d, leaders[0].Speed, 0)
		ttpDs = Anticipate(d, leaders[0].Speed, b)
	}

	type vehicle struct {
		perception.ConflictingVehicle
		virtual bool
	}
	var vehicles []vehicle
	for _, v := range c.Upstream {
		if c.Visibility > 0 && v.Distance > c.Visibility {
			break
		}
		if v.OnRoute {
			vehicles = append(vehicles, vehicle{ConflictingVehicle: v})
		}
	}
	if len(vehicles) == 0 && c.Visibility > 0 && c.ConflictingSpeedLimit > 0 {
		vehicles = append(vehicles, vehicle{
			ConflictingVehicle: perception.ConflictingVehicle{
				Neighbor: perception.Neighbor{
					ID:       -1,
					Distance: c.Visibility,
					Speed:    c.ConflictingSpeedLimit,
					Length:   virtualVehicleLength,
				},
				OnRoute: true,
			},
			virtual: true,
		})
	}
	if len(vehicles) == 0 || vehicles[0].Speed == 0 {
		return false, nil
	}

	for _, v := range vehicles {
		var tteCa Anticipation
		if !v.virtual && v.Model != nil && v.Params != nil {
			tteCa, err = AnticipateFreeAcceleration(v.Distance, v.Speed, v.Model, v.Params, v.SpeedLimit)
			if err != nil {
				return false, err
			}
		} else {
			tteCa = Anticipate(v.Distance, v.Speed, v.Acceleration)
		}
		tteCs := Anticipate(v.Distance, v.Speed, b)

		if c.IsMerge() {
			vSelf := ttcOa.EndSpeed
			speedDiff := math.Max(v.Speed-vSelf, 0)
			additionalTime := speedDiff / -b
			followerFront := v.Speed*ttcOa.Duration - v.Distance +
				(v.Speed*additionalTime + .5*b*additionalTime*additionalTime)
			ownRear := vSelf * additionalTime
			if ttcOa.Duration*f+gap > tteCa.Duration ||
				(ttcOa.Duration+additionalTime)*f+gap > tteCs.Duration ||
				ownRear < (followerFront+(tMax+gap)*vSelf+s0)*f {
				return true, nil
			}
		} else if c.IsCrossing() {
			if ttpDz.Duration*f+gap > tteCa.Duration ||
				ttcOa.Duration*f+gap > tteCa.Duration ||
				ttpDs.Duration*f+gap > tteCs.Duration {
				return true, nil
			}
		}
	}
	return false, nil
}
