package lmrs

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// Synchronization 同步策略
type Synchronization int8

const (
	// DeadEnd 只在必须完成换道的位置前停车
	DeadEnd Synchronization = iota
	// Passive 跟随目标车道前车，不主动选择间隙
	Passive
	// AlignGap 与目标车道前后车之间的间隙中点对齐
	AlignGap
	// PassiveMoving 低速且意愿低于dCoop时不同步，否则同Passive
	PassiveMoving
	// Active 主动选择并记住同步车辆
	Active
)

var synchronizationNames = [...]string{"dead-end", "passive", "align-gap", "passive-moving", "active"}

func (s Synchronization) String() string {
	if int(s) < len(synchronizationNames) {
		return synchronizationNames[s]
	}
	return fmt.Sprintf("Synchronization(%d)", int8(s))
}

// ParseSynchronization 由名称解析同步策略
func ParseSynchronization(name string) (Synchronization, error) {
	if name == "" {
		return Passive, nil
	}
	for i, n := range synchronizationNames {
		if n == name {
			return Synchronization(i), nil
		}
	}
	return 0, fmt.Errorf("unknown synchronization %q", name)
}

// synchronize 为向lat方向换道计算的加速度约束
func (s Synchronization) synchronize(c *decisionContext, desire float64, lat perception.Lateral) (float64, error) {
	switch s {
	case DeadEnd:
		return syncDeadEnd(c)
	case Passive:
		return syncPassive(c, desire, lat)
	case AlignGap:
		return syncAlignGap(c, desire, lat)
	case PassiveMoving:
		vals, err := getAll(c.params, parameter.DCoop, parameter.X0, parameter.T0)
		if err != nil {
			return 0, err
		}
		if desire < vals[0] && c.speed < vals[1]/vals[2] {
			return syncDeadEnd(c)
		}
		return syncPassive(c, desire, lat)
	case Active:
		return syncActive(c, desire, lat)
	default:
		return 0, fmt.Errorf("unknown synchronization %d", s)
	}
}

// syncDeadEnd 在必须完成换道的位置前停车
// 算法说明：
// 1. 剩余距离 = 到必须完成换道位置的距离 − s0
// 2. 剩余距离不为正：行驶中以−bCrit减速，静止时允许以1m/s²起步，避免死锁
// 3. 否则所需减速度 v²/(2x) 达到bCrit时以该减速度停车，未达到时不约束
func syncDeadEnd(c *decisionContext) (float64, error) {
	n, remaining, _ := c.per.RequiredLaneChanges(0)
	if n == 0 || math.IsInf(remaining, 1) {
		return math.Inf(1), nil
	}
	vals, err := getAll(c.params, parameter.S0, parameter.BCrit)
	if err != nil {
		return 0, err
	}
	s0, bCrit := vals[0], vals[1]
	remaining -= s0
	if remaining <= 0 {
		if c.speed > 0 {
			return -bCrit, nil
		}
		return 1, nil
	}
	bMin := .5 * c.speed * c.speed / remaining
	if bMin >= bCrit {
		return -bMin, nil
	}
	return math.Inf(1), nil
}

// syncPassive 跟随目标车道前车
// 算法说明：
// 1. 先计算DeadEnd，已低于−bCrit时直接返回
// 2. 意愿不低于dCoop时跟随目标车道第一辆前车，否则跟随第一辆行驶中的前车，按意愿限制减速度
// 3. 当前车道前车处于拥堵速度以下时同样跟随
// 4. 不在可以换道的位置之前停下
func syncPassive(c *decisionContext, desire float64, lat perception.Lateral) (float64, error) {
	a, err := syncDeadEnd(c)
	if err != nil {
		return 0, err
	}
	vals, err := getAll(c.params, parameter.BCrit, parameter.DCoop, parameter.VCong)
	if err != nil {
		return 0, err
	}
	bCrit, dCoop, vCong := vals[0], vals[1], vals[2]
	if a < -bCrit {
		return a, nil
	}

	var leader *perception.Neighbor
	leaders := c.per.Leaders(lat.Lane(1))
	for i := range leaders {
		if desire >= dCoop || leaders[i].Speed > 0 {
			leader = &leaders[i]
			break
		}
	}
	if leader != nil {
		aSingle, err := singleAcceleration(c, leader.Distance, leader.Speed, desire)
		if err != nil {
			return 0, err
		}
		if a, err = gentleUrgency(c.params, math.Min(a, aSingle), desire); err != nil {
			return 0, err
		}
	}

	if current := c.per.Leaders(0); len(current) > 0 && current[0].Speed < vCong {
		aSingle, err := singleAcceleration(c, current[0].Distance, current[0].Speed, desire)
		if err != nil {
			return 0, err
		}
		if aSingle, err = gentleUrgency(c.params, aSingle, desire); err != nil {
			return 0, err
		}
		a = math.Min(a, aSingle)
	}

	if xMerge := mergeDistance(c.per, lat) - c.length; xMerge > 0 {
		aMerge, err := singleAcceleration(c, xMerge, 0, desire)
		if err != nil {
			return 0, err
		}
		a = math.Max(a, aMerge)
	}
	return a, nil
}

// syncAlignGap 与目标车道间隙的中点对齐
// 算法说明：
// 1. 有前车时以前车间距为基础；同时有后车时取 max(前车间距, 前车间距 − 间隙中点 + 平衡间距s0+v·T)
// 2. 以意愿缩短的车头时距跟随，按意愿限制减速度
// 3. 与DeadEnd取小，但不在可以换道的位置之前停下
func syncAlignGap(c *decisionContext, desire float64, lat perception.Lateral) (float64, error) {
	a := math.Inf(1)
	target := lat.Lane(1)
	if leaders := c.per.Leaders(target); len(leaders) > 0 {
		leader := leaders[0]
		aAlign, err := withDesiredHeadway(c.params, desire, func() (float64, error) {
			gap := leader.Distance
			if followers := c.per.Followers(target); len(followers) > 0 {
				headway, err := c.model.DesiredHeadway(c.params, c.speed)
				if err != nil {
					return 0, err
				}
				s0, err := c.get(parameter.S0)
				if err != nil {
					return 0, err
				}
				mid := (leader.Distance + followers[0].Distance) * .5
				gap = math.Max(gap, leader.Distance-mid+s0+c.speed*headway)
			}
			return carfollowing.FollowSingleLeader(c.model, c.params, c.speed, c.sli, gap, leader.Speed)
		})
		if err != nil {
			return 0, err
		}
		if a, err = gentleUrgency(c.params, aAlign, desire); err != nil {
			return 0, err
		}
	}
	aEnd, err := syncDeadEnd(c)
	if err != nil {
		return 0, err
	}
	a = math.Min(a, aEnd)
	if xMerge := mergeDistance(c.per, lat); xMerge > 0 {
		aMerge, err := singleAcceleration(c, xMerge, 0, desire)
		if err != nil {
			return 0, err
		}
		a = math.Max(a, aMerge)
	}
	return a, nil
}

// syncActive 主动同步
// 算法说明：
// 1. xCur为必须完成换道前剩余的距离（每次换道预留两个车长），xMergeSync为在其之内选择间隙已无意义的距离
// 2. 同步车辆拥堵且在xMergeSync之内、或超出xCur时放弃
// 3. 没有同步车辆时，在min(x0, xCur)内由近及远选择第一辆（在xMergeSync之外或未拥堵）且尾随减速度不超过b的前车
// 4. 向上游更换同步车辆：其后方车辆可以尾随，或（意愿超过dCoop且）无法保持在其之前；换到目标车道后车时放弃同步
// 5. 有同步车辆时按意愿限制的尾随加速度；否则还需换道且有相邻车辆时：
//   - 无法保持在后车之前：以恒定减速度退到后车之后，不适合时在换道终点前停车
//   - 否则间隙不可接受时在换道终点前停车，但不比退到前车之后更强
//
// 6. 还需多次换道时降低车速，保证后续换道有足够时间
func syncActive(c *decisionContext, desire float64, lat perception.Lateral) (float64, error) {
	vals, err := getAll(c.params, parameter.B, parameter.VCong, parameter.X0, parameter.T0, parameter.LC, parameter.DCoop)
	if err != nil {
		return 0, err
	}
	b, vCong, x0, t0, lc, dCoop := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	tagSpeed := x0 / t0

	xMerge := mergeDistance(c.per, lat)
	nCur, xCur := 0, math.Inf(1)
	if n, remaining, _ := c.per.RequiredLaneChanges(0); n > 0 {
		nCur = n
		xCur = remaining - c.length*2*float64(n)
	}
	xMergeSync := math.Min(xMerge, xCur-.5*c.speed*c.speed/b)

	target := lat.Lane(1)
	leaders := c.per.Leaders(target)
	tagAlongOk := func(n *perception.Neighbor) (bool, error) {
		a, err := tagAlongAcceleration(c, n, tagSpeed, desire)
		return a > -b, err
	}

	var sync *perception.Neighbor
	if v, ok := c.data.syncVehicleIn(leaders); ok {
		if !((v.Speed < vCong && v.Distance < xMergeSync) || v.Distance > xCur) {
			sync = &v
		}
	}
	if sync == nil {
		maxDistance := math.Min(x0, xCur)
		for i := range leaders {
			if leaders[i].Distance >= maxDistance {
				break
			}
			if leaders[i].Distance > xMergeSync || leaders[i].Speed > vCong {
				ok, err := tagAlongOk(&leaders[i])
				if err != nil {
					return 0, err
				}
				if ok {
					sync = &leaders[i]
					break
				}
			}
		}
	}

	var follower *perception.Neighbor
	if followers := c.per.Followers(target); len(followers) > 0 {
		f := asLeader(followers[0], c.length)
		follower = &f
	}
	if sync != nil {
		up, hasUp := getFollower(sync.ID, leaders, follower)
		for hasUp {
			upOk, err := tagAlongOk(up)
			if err != nil {
				return 0, err
			}
			if !upOk {
				ahead, err := canBeAhead(c, up, xCur, nCur, tagSpeed, desire)
				if err != nil {
					return 0, err
				}
				if ahead || desire <= dCoop {
					break
				}
			}
			if !(up.Distance > xMergeSync || up.Speed > vCong) {
				break
			}
			if up == follower {
				// 没有合适的前车可以同步
				sync = nil
				break
			}
			sync = up
			up, hasUp = getFollower(sync.ID, leaders, follower)
		}
	}
	if sync != nil {
		c.data.syncVehicle = sync.ID
	} else {
		c.data.syncVehicle = NoVehicle
	}

	a, err := syncDeadEnd(c)
	if err != nil {
		return 0, err
	}
	if sync != nil {
		aTag, err := tagAlongAcceleration(c, sync, tagSpeed, desire)
		if err != nil {
			return 0, err
		}
		if a, err = gentleUrgency(c.params, aTag, desire); err != nil {
			return 0, err
		}
	} else if nCur > 0 && (follower != nil || len(leaders) > 0) {
		ahead := true
		if follower != nil {
			if ahead, err = canBeAhead(c, follower, xCur, nCur, tagSpeed, desire); err != nil {
				return 0, err
			}
		}
		if !ahead {
			acc, ok, err := getBehindAcceleration(c, follower, xCur, nCur, desire)
			if err != nil {
				return 0, err
			}
			if ok {
				a, err = gentleUrgency(c.params, acc, desire)
			} else {
				a, err = stopForEnd(c, xCur, xMerge)
			}
			if err != nil {
				return 0, err
			}
		} else {
			accepted, err := acceptLaneChange(c, lat, desire, 0)
			if err != nil {
				return 0, err
			}
			if !accepted {
				if a, err = stopForEnd(c, xCur, xMerge); err != nil {
					return 0, err
				}
				if len(leaders) > 0 {
					acc, ok, err := getBehindAcceleration(c, &leaders[0], xCur, nCur, desire)
					if err != nil {
						return 0, err
					}
					if ok {
						a = math.Max(a, acc)
					}
				}
			}
		}
	}

	if nCur > 1 {
		if xMerge > 0 {
			vMerge := 0.0
			if xCur >= xMerge {
				vMerge = (xCur - xMerge) / (t0*(1-dCoop)*float64(nCur-1) + lc)
			}
			vMerge = math.Max(vMerge, x0/t0)
			aTarget, err := carfollowing.ApproachTargetSpeed(c.model, c.params, c.speed, c.sli, xMerge, vMerge)
			if err != nil {
				return 0, err
			}
			a = math.Min(a, aTarget)
		} else if xCur < requiredBufferSpace(c.speed, nCur, x0, t0, lc, dCoop) {
			a = math.Min(a, -b)
		}
	}
	return a, nil
}
