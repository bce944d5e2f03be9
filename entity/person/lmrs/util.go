package lmrs

import (
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/conflict"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// 换道时检查合流冲突区上并排车辆的距离范围（米）
const mergeParallelCheckDistance = 10.0

// decisionContext 一次决策中使用的自身信息
type decisionContext struct {
	per    perception.Perception
	params *parameter.Parameters
	model  carfollowing.Model
	sli    carfollowing.SpeedLimitInfo
	speed  float64
	length float64
	data   *Data
	cfg    *Config
}

func (c *decisionContext) ego() conflict.Ego {
	return conflict.Ego{
		Params:     c.params,
		Model:      c.model,
		SpeedLimit: c.sli,
		Speed:      c.speed,
		Length:     c.length,
	}
}

func (c *decisionContext) get(key parameter.Key) (float64, error) {
	return c.params.Get(key)
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

func toLeaders(neighbors []perception.Neighbor) []carfollowing.Leader {
	return lo.Map(neighbors, func(n perception.Neighbor, _ int) carfollowing.Leader {
		return carfollowing.Leader{Distance: n.Distance, Speed: n.Speed}
	})
}

// desiredHeadwayFor 意愿对应的车头时距 d·Tmin + (1−d)·Tmax，d截断到[0,1]
func desiredHeadwayFor(p *parameter.Parameters, desire float64) (float64, error) {
	vals, err := getAll(p, parameter.TMin, parameter.TMax)
	if err != nil {
		return 0, err
	}
	d := lo.Clamp(desire, 0, 1)
	return d*vals[0] + (1-d)*vals[1], nil
}

// setDesiredHeadway 按意愿永久缩短车头时距，T只减不增
func setDesiredHeadway(p *parameter.Parameters, desire float64) error {
	tDes, err := desiredHeadwayFor(p, desire)
	if err != nil {
		return err
	}
	t, err := p.Get(parameter.T)
	if err != nil {
		return err
	}
	return p.Set(parameter.T, math.Min(tDes, t))
}

// withDesiredHeadway 在按意愿缩短的车头时距下执行fn，执行后恢复
func withDesiredHeadway(p *parameter.Parameters, desire float64, fn func() (float64, error)) (float64, error) {
	tDes, err := desiredHeadwayFor(p, desire)
	if err != nil {
		return 0, err
	}
	t, err := p.Get(parameter.T)
	if err != nil {
		return 0, err
	}
	return p.Temporarily(parameter.T, math.Min(tDes, t), fn)
}

// exponentialHeadwayRelaxation 车头时距向Tmax指数松弛：T ← T + (Tmax − T)·min(dt/tau, 1)
func exponentialHeadwayRelaxation(p *parameter.Parameters) error {
	vals, err := getAll(p, parameter.DT, parameter.Tau, parameter.T, parameter.TMax)
	if err != nil {
		return err
	}
	dt, tau, t, tMax := vals[0], vals[1], vals[2], vals[3]
	ratio := math.Min(dt/tau, 1)
	return p.Set(parameter.T, t+(tMax-t)*ratio)
}

// singleAcceleration 以意愿对应的车头时距跟随单个前车的加速度
func singleAcceleration(c *decisionContext, distance, leaderSpeed, desire float64) (float64, error) {
	return withDesiredHeadway(c.params, desire, func() (float64, error) {
		return carfollowing.FollowSingleLeader(c.model, c.params, c.speed, c.sli, distance, leaderSpeed)
	})
}

// neighborAcceleration 邻车以意愿对应的车头时距跟随单个前车的加速度
// 说明：邻车参数为共享快照，在副本上修改
func neighborAcceleration(n *perception.Neighbor, distance, leaderSpeed, desire float64) (float64, error) {
	if n.Params == nil || n.Model == nil {
		// 无法获知邻车的行为模型
		return math.Inf(1), nil
	}
	p := n.Params.Clone()
	return withDesiredHeadway(p, desire, func() (float64, error) {
		return carfollowing.FollowSingleLeader(n.Model, p, n.Speed, n.SpeedLimit, distance, leaderSpeed)
	})
}

// gentleUrgency 按意愿限制减速度
// 算法说明：
// 1. a > −b 时不限制
// 2. 意愿低于dCoop时为−b
// 3. 否则下限从−b（意愿dCoop）线性插值到−bCrit（意愿1）
func gentleUrgency(p *parameter.Parameters, a, desire float64) (float64, error) {
	vals, err := getAll(p, parameter.B, parameter.DCoop, parameter.BCrit)
	if err != nil {
		return 0, err
	}
	b, dCoop, bCrit := vals[0], vals[1], vals[2]
	if a > -b {
		return a, nil
	}
	if desire < dCoop {
		return -b, nil
	}
	f := (desire - dCoop) / (1 - dCoop)
	lim := -b + (b-bCrit)*f
	return math.Max(a, lim), nil
}

// tagAlongAcceleration 尾随加速度
// 功能：低速或低意愿时不必完全与间隙对齐，缩小期望间距使自身可以与目标车辆部分并排
// 算法说明：缩小量 = (s0 + 0.5·min(自身车长, 目标车长))·min(速度因子, 意愿因子)
func tagAlongAcceleration(c *decisionContext, leader *perception.Neighbor, tagSpeed, desire float64) (float64, error) {
	vals, err := getAll(c.params, parameter.DCoop, parameter.S0)
	if err != nil {
		return 0, err
	}
	dCoop, s0 := vals[0], vals[1]
	tagV := 0.0
	if c.speed < tagSpeed {
		tagV = 1 - c.speed/tagSpeed
	}
	tagD := 1.0
	if desire > dCoop {
		tagD = 1 - (desire-dCoop)/(1-dCoop)
	}
	extent := math.Min(tagV, tagD)
	adjustment := (s0 + .5*math.Min(c.length, leader.Length)) * extent
	return singleAcceleration(c, leader.Distance+adjustment, leader.Speed, desire)
}

// requiredBufferSpace 完成剩余n次换道所需的最小剩余距离
// v·lc + max(v·t0, x0)·(n−1)·(1−dCoop)
func requiredBufferSpace(speed float64, n int, x0, t0, lc, dCoop float64) float64 {
	xCrit := math.Max(speed*t0, x0)
	return speed*lc + xCrit*float64(n-1)*(1-dCoop)
}

// asLeader 把目标车道的后车转换为以自身车头为参照的前车记录（距离为负）
func asLeader(follower perception.Neighbor, ownLength float64) perception.Neighbor {
	follower.Distance = -(follower.Distance + ownLength + follower.Length)
	return follower
}

// getFollower 目标车道上紧跟在id车辆之后的车辆
// 返回：id为第一辆前车时返回follower；id不在leaders中时返回false
func getFollower(id int32, leaders []perception.Neighbor, follower *perception.Neighbor) (*perception.Neighbor, bool) {
	for i := range leaders {
		if leaders[i].ID == id {
			if i == 0 {
				return follower, follower != nil
			}
			return &leaders[i-1], true
		}
	}
	return nil, false
}

// canBeAhead 自身能否在剩余距离内保持在相邻车辆之前完成换道
// 算法说明：
// 1. 相邻车辆在后方，且（意愿超过dCoop并且其跟随自身的减速度不超过b，或双方都低于尾随速度）时为true
// 2. 否则比较自身到达缓冲区边界的时间与相邻车辆到达（考虑期望间距）的时间
func canBeAhead(c *decisionContext, adj *perception.Neighbor, xCur float64, nCur int, tagSpeed, desire float64) (bool, error) {
	vals, err := getAll(c.params, parameter.DCoop, parameter.B, parameter.TMin, parameter.TMax, parameter.X0, parameter.T0, parameter.LC)
	if err != nil {
		return false, err
	}
	dCoop, b, tMin, tMax, x0, t0, lc := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]

	if adj.Distance < -c.length {
		aAdj, err := neighborAcceleration(adj, -adj.Distance-adj.Length-c.length, c.speed, desire)
		if err != nil {
			return false, err
		}
		if (desire > dCoop && aAdj > -b) || (c.speed < tagSpeed && adj.Speed < tagSpeed) {
			return true, nil
		}
	}
	buffer := requiredBufferSpace(c.speed, nCur, x0, t0, lc, dCoop)
	t := (xCur - buffer) / c.speed
	xGap := adj.Speed * (tMin + desire*(tMax-tMin))
	return 0 < t && t < (xCur-adj.Distance-c.length-adj.Length-buffer-xGap)/adj.Speed, nil
}

// getBehindAcceleration 以恒定减速度退到相邻车辆之后，在缓冲区边界恰好与其保持期望间距
// 返回：不适合退后（相邻车辆静止、中途会停车或时间为负）时ok为false
func getBehindAcceleration(c *decisionContext, adj *perception.Neighbor, xCur float64, nCur int, desire float64) (float64, bool, error) {
	vals, err := getAll(c.params, parameter.TMin, parameter.TMax, parameter.X0, parameter.T0, parameter.LC, parameter.DCoop)
	if err != nil {
		return 0, false, err
	}
	tMin, tMax, x0, t0, lc, dCoop := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	buffer := requiredBufferSpace(c.speed, nCur, x0, t0, lc, dCoop)
	t := (xCur - adj.Distance - buffer) / adj.Speed
	xGap := c.speed * (tMin + desire*(tMax-tMin))
	acc := 2 * (xCur - buffer - c.speed*t - xGap) / (t * t)
	if adj.Speed == 0 || acc < -c.speed/t || t < 0 {
		return 0, false, nil
	}
	return acc, true, nil
}

// stopForEnd 在必须完成换道的位置前停车
// 算法说明：
// 1. 已错过最后的换道位置：以不超过bCrit的减速度在可换道位置停车
// 2. 否则以意愿1的车头时距计算在xCur处停车的加速度；需要减速时至少减速b，但不在xMerge之前停下
func stopForEnd(c *decisionContext, xCur, xMerge float64) (float64, error) {
	if xCur < 0 {
		bCrit, err := c.get(parameter.BCrit)
		if err != nil {
			return 0, err
		}
		aStop, err := carfollowing.Stop(c.model, c.params, c.speed, c.sli, xMerge)
		if err != nil {
			return 0, err
		}
		return math.Max(-bCrit, aStop), nil
	}
	return withDesiredHeadway(c.params, 1, func() (float64, error) {
		a, err := carfollowing.Stop(c.model, c.params, c.speed, c.sli, xCur)
		if err != nil {
			return 0, err
		}
		if a >= 0 {
			return math.Inf(1), nil
		}
		b, err := c.get(parameter.B)
		if err != nil {
			return 0, err
		}
		a = math.Min(a, -b)
		if xMerge > 0 {
			aMerge, err := carfollowing.Stop(c.model, c.params, c.speed, c.sli, xMerge)
			if err != nil {
				return 0, err
			}
			a = math.Max(a, aMerge)
		}
		return a, nil
	})
}

// mergeDistance 距离可以向lat方向换道的位置还有多远，当前已可换道时为0
func mergeDistance(per perception.Perception, lat perception.Lateral) float64 {
	legal := per.LegalChangePossible(lat)
	if legal < 0 {
		return -legal
	}
	return 0
}

// acceptLaneChange 是否接受向lat方向换道
// 算法说明：
// 1. 智能体当前允许换道，且向lat方向合法换道的剩余距离为正
// 2. 间隙接受
// 3. 开启冲突区感知时：
//   - 目标车道上的冲突区不要求低于−bCrit的减速度（使用临时的冲突计划）
//   - 10米内的合流冲突区上没有并排车辆
//   - 当前车道上不处于道路内合流区之后或分流区之前
//
// 4. 开启信号灯感知时：目标车道上的红灯、黄灯不要求低于−bCrit的减速度
// 5. 隔一条车道上向目标车道换道的车辆不要求低于−b的减速度
func acceptLaneChange(c *decisionContext, lat perception.Lateral, desire, ownAcceleration float64) (bool, error) {
	if !c.per.LaneChangeAllowed() {
		return false, nil
	}
	target := lat.Lane(1)
	if !c.per.LaneExists(target) || c.per.LegalChangePossible(lat) <= 0 {
		return false, nil
	}
	ok, err := c.cfg.GapAcceptance.accept(c, lat, desire, ownAcceleration)
	if err != nil || !ok {
		return false, err
	}
	vals, err := getAll(c.params, parameter.B, parameter.BCrit)
	if err != nil {
		return false, err
	}
	b, bCrit := vals[0], vals[1]

	if c.cfg.Conflicts {
		conflicts, err := c.per.Conflicts(target)
		if err != nil {
			return false, err
		}
		aConflict, err := conflict.ApproachConflicts(c.ego(), conflicts, c.per.Leaders(target), conflict.NewPlans())
		if err != nil {
			return false, err
		}
		if aConflict < -bCrit {
			return false, nil
		}
		for _, cf := range conflicts {
			if !cf.IsMerge() || cf.Distance >= mergeParallelCheckDistance {
				continue
			}
			if len(cf.Downstream) > 0 && cf.Downstream[0].Parallel() {
				return false, nil
			}
			if len(cf.Upstream) > 0 && cf.Upstream[0].Parallel() {
				return false, nil
			}
		}
		current, err := c.per.Conflicts(0)
		if err != nil {
			return false, err
		}
		for _, cf := range current {
			if !cf.SameRoad || cf.Distance > 0 {
				continue
			}
			if cf.IsMerge() && -cf.Distance > cf.Length {
				return false, nil
			}
			if cf.IsSplit() && -cf.Distance < c.length {
				return false, nil
			}
		}
	}

	if c.cfg.TrafficLights {
		lights, err := c.per.TrafficLights(target)
		if err != nil {
			return false, err
		}
		aLight, err := conflict.RespondToTrafficLights(c.ego(), lights)
		if err != nil {
			return false, err
		}
		if aLight < -bCrit {
			return false, nil
		}
	}

	// 隔一条车道上的车辆同时向目标车道换道
	for _, n := range c.per.Leaders(lat.Lane(2)) {
		if n.ChangingLane != lat.Flip() {
			continue
		}
		a, err := carfollowing.FollowSingleLeader(c.model, c.params, c.speed, c.sli, n.Distance, n.Speed)
		if err != nil {
			return false, err
		}
		if a < -b {
			return false, nil
		}
	}
	return true, nil
}
