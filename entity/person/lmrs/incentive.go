package lmrs

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// IncentiveKind 换道激励
type IncentiveKind int8

const (
	// IncentiveRoute 沿路线行驶（强制）
	IncentiveRoute IncentiveKind = iota
	// IncentiveSpeedWithCourtesy 速度收益，考虑邻车换入造成的减速（自愿）
	IncentiveSpeedWithCourtesy
	// IncentiveKeep 靠右行驶（自愿）
	IncentiveKeep
	// IncentiveCourtesy 为邻车换入让出车道（自愿）
	IncentiveCourtesy
)

var incentiveNames = [...]string{"route", "speed-with-courtesy", "keep", "courtesy"}

func (k IncentiveKind) String() string {
	if int(k) < len(incentiveNames) {
		return incentiveNames[k]
	}
	return fmt.Sprintf("IncentiveKind(%d)", int8(k))
}

// Mandatory 是否为强制激励
func (k IncentiveKind) Mandatory() bool {
	return k == IncentiveRoute
}

// ParseIncentive 由名称解析换道激励
func ParseIncentive(name string) (IncentiveKind, error) {
	for i, n := range incentiveNames {
		if n == name {
			return IncentiveKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown incentive %q", name)
}

// DefaultIncentives 默认激励组合
func DefaultIncentives() []IncentiveKind {
	return []IncentiveKind{IncentiveRoute, IncentiveSpeedWithCourtesy, IncentiveKeep, IncentiveCourtesy}
}

// determineDesire 计算单个激励的意愿
// 参数：mandatory-已合成的强制意愿，voluntary-已累加的自愿意愿（强制激励中为零值）
func (k IncentiveKind) determineDesire(c *decisionContext, mandatory, voluntary Desire) (Desire, error) {
	switch k {
	case IncentiveRoute:
		return routeDesire(c)
	case IncentiveSpeedWithCourtesy:
		return speedWithCourtesyDesire(c)
	case IncentiveKeep:
		return keepDesire(c, mandatory, voluntary)
	case IncentiveCourtesy:
		return courtesyDesire(c)
	default:
		return Desire{}, fmt.Errorf("unknown incentive %d", k)
	}
}

// desireToLeave 离开某车道的意愿
// 算法说明：
// 1. 目的地不可达时为+Inf
// 2. 不需要换道时为0
// 3. 否则 max(1 − x/(n·x0), 1 − (x/v)/(n·t0))，不低于0
func desireToLeave(c *decisionContext, lane int) (float64, error) {
	n, remaining, reachable := c.per.RequiredLaneChanges(lane)
	if !reachable {
		return math.Inf(1), nil
	}
	if n == 0 {
		return 0, nil
	}
	vals, err := getAll(c.params, parameter.X0, parameter.T0)
	if err != nil {
		return 0, err
	}
	x0, t0 := vals[0], vals[1]
	dx := 1 - remaining/(float64(n)*x0)
	dt := math.Inf(-1)
	if c.speed > 0 {
		dt = 1 - (remaining/c.speed)/(float64(n)*t0)
	}
	return math.Max(math.Max(dx, dt), 0), nil
}

// routeDesire 路线激励
// 算法说明：比较当前车道与相邻车道离开的意愿dCur、dAdj
// 1. 相邻车道不存在时为−Inf
// 2. 相邻车道此处不能合法换入时为0
// 3. dAdj < dCur 时为dCur（离开当前车道有益）；dAdj > dCur 时为−dAdj；相等为0
func routeDesire(c *decisionContext) (Desire, error) {
	dCur, err := desireToLeave(c, 0)
	if err != nil {
		return Desire{}, err
	}
	side := func(lat perception.Lateral) (float64, error) {
		lane := lat.Lane(1)
		if !c.per.LaneExists(lane) {
			return math.Inf(-1), nil
		}
		if c.per.LegalChangePossible(lat) <= 0 {
			return 0, nil
		}
		dAdj, err := desireToLeave(c, lane)
		if err != nil {
			return 0, err
		}
		switch {
		case dAdj < dCur:
			return dCur, nil
		case dAdj > dCur:
			return -dAdj, nil
		default:
			return 0, nil
		}
	}
	left, err := side(perception.Left)
	if err != nil {
		return Desire{}, err
	}
	right, err := side(perception.Right)
	if err != nil {
		return Desire{}, err
	}
	return NewDesire(left, right), nil
}

// anticipatedSpeed 车道上的预期速度
// 算法说明：
// 1. 以该车道的期望速度v0为上限
// 2. x0内的每辆前车：按距离在其速度与v0之间插值 v + (v0 − v)·d/x0
// 3. 两侧车道上向该车道发出意愿的前车按意愿加权计入（礼让）
func anticipatedSpeed(c *decisionContext, lane int) (float64, error) {
	x0, err := c.get(parameter.X0)
	if err != nil {
		return 0, err
	}
	v0, err := c.model.DesiredSpeed(c.params, c.per.SpeedLimit(lane))
	if err != nil {
		return 0, err
	}
	ant := func(n perception.Neighbor) float64 {
		d := math.Max(n.Distance, 0)
		return n.Speed + (v0-n.Speed)*d/x0
	}
	vAnt := v0
	for _, n := range c.per.Leaders(lane) {
		if n.Distance > x0 {
			break
		}
		vAnt = math.Min(vAnt, ant(n))
	}
	for _, lat := range []perception.Lateral{perception.Left, perception.Right} {
		for _, n := range c.per.Leaders(lane + lat.Lane(1)) {
			if n.Distance > x0 {
				break
			}
			desire := lo.Clamp(n.DesireToward(lat.Flip()), 0, 1)
			if desire == 0 {
				continue
			}
			vAnt = math.Min(vAnt, v0-desire*(v0-ant(n)))
		}
	}
	return vAnt, nil
}

// speedWithCourtesyDesire 速度收益激励
// 算法说明：
// 1. 相邻车道预期速度与当前车道预期速度之差除以vGain
// 2. 当前车道未拥堵时不从右侧超车：向右的正收益置0
func speedWithCourtesyDesire(c *decisionContext) (Desire, error) {
	vals, err := getAll(c.params, parameter.VGain, parameter.VCong)
	if err != nil {
		return Desire{}, err
	}
	vGain, vCong := vals[0], vals[1]
	vCur, err := anticipatedSpeed(c, 0)
	if err != nil {
		return Desire{}, err
	}
	side := func(lat perception.Lateral) (float64, error) {
		lane := lat.Lane(1)
		if !c.per.LaneExists(lane) || c.per.LegalChangePossible(lat) <= 0 {
			return 0, nil
		}
		vAdj, err := anticipatedSpeed(c, lane)
		if err != nil {
			return 0, err
		}
		return (vAdj - vCur) / vGain, nil
	}
	left, err := side(perception.Left)
	if err != nil {
		return Desire{}, err
	}
	right, err := side(perception.Right)
	if err != nil {
		return Desire{}, err
	}
	if right > 0 && vCur > vCong {
		right = 0
	}
	return NewDesire(left, right), nil
}

// keepDesire 靠右行驶激励
// 说明：已有向右的负意愿时不起作用；否则向右合法可行时为dFree
func keepDesire(c *decisionContext, mandatory, voluntary Desire) (Desire, error) {
	if mandatory.Right < 0 || voluntary.Right < 0 {
		return Desire{}, nil
	}
	if !c.per.LaneExists(perception.Right.Lane(1)) || c.per.LegalChangePossible(perception.Right) <= 0 {
		return Desire{}, nil
	}
	dFree, err := c.get(parameter.DFree)
	if err != nil {
		return Desire{}, err
	}
	return NewDesire(0, dFree), nil
}

// courtesyDesire 礼让激励
// 算法说明：
// 1. 一侧车道上的车辆希望换入本车道时，产生向另一侧换道的意愿（取最大意愿）
// 2. 隔一条车道上的车辆希望换入目标车道时，抵消向该侧换道的意愿
// 3. 乘以socio
func courtesyDesire(c *decisionContext) (Desire, error) {
	vals, err := getAll(c.params, parameter.Socio, parameter.X0)
	if err != nil {
		return Desire{}, err
	}
	socio, x0 := vals[0], vals[1]
	maxDesire := func(lane int, toward perception.Lateral) float64 {
		d := 0.0
		within := func(n perception.Neighbor) bool { return n.Distance <= x0 }
		for _, n := range lo.Filter(c.per.Leaders(lane), func(n perception.Neighbor, _ int) bool { return within(n) }) {
			d = math.Max(d, n.DesireToward(toward))
		}
		for _, n := range lo.Filter(c.per.Followers(lane), func(n perception.Neighbor, _ int) bool { return within(n) }) {
			d = math.Max(d, n.DesireToward(toward))
		}
		return math.Min(d, 1)
	}
	side := func(lat perception.Lateral) float64 {
		if !c.per.LaneExists(lat.Lane(1)) || c.per.LegalChangePossible(lat) <= 0 {
			return 0
		}
		// 另一侧车道的车辆希望换入本车道
		yes := maxDesire(lat.Flip().Lane(1), lat)
		// 隔一条车道的车辆希望换入目标车道
		no := maxDesire(lat.Lane(2), lat.Flip())
		return socio * (yes - no)
	}
	return NewDesire(side(perception.Left), side(perception.Right)), nil
}
