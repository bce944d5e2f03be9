package lmrs

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// GapAcceptance 间隙接受策略
type GapAcceptance int8

const (
	// Informed 后车按自身的车头时距偏好响应
	Informed GapAcceptance = iota
	// EgoHeadway 假设后车采用自身的Tmin/Tmax
	EgoHeadway
)

func (g GapAcceptance) String() string {
	switch g {
	case Informed:
		return "informed"
	case EgoHeadway:
		return "ego-headway"
	default:
		return fmt.Sprintf("GapAcceptance(%d)", int8(g))
	}
}

// ParseGapAcceptance 由名称解析间隙接受策略
func ParseGapAcceptance(name string) (GapAcceptance, error) {
	switch name {
	case "", "informed":
		return Informed, nil
	case "ego-headway":
		return EgoHeadway, nil
	default:
		return 0, fmt.Errorf("unknown gap acceptance %q", name)
	}
}

// accept 是否接受lat方向目标车道上的间隙
// 算法说明：
// 1. 目标车道上有并排车辆时拒绝
// 2. 以意愿缩短的车头时距计算：目标车道第一辆后车跟随自身的加速度、自身跟随目标车道第一辆前车的加速度
// 3. 两者以及自身当前加速度都不低于 −b·desire 时接受；没有后车/前车时不构成约束
func (g GapAcceptance) accept(c *decisionContext, lat perception.Lateral, desire, ownAcceleration float64) (bool, error) {
	if c.per.OccupiedAlongside(lat) {
		return false, nil
	}
	b, err := c.get(parameter.B)
	if err != nil {
		return false, err
	}
	target := lat.Lane(1)

	aFollow := math.Inf(1)
	if followers := c.per.Followers(target); len(followers) > 0 {
		f := followers[0]
		if g == EgoHeadway && f.Params != nil {
			p := f.Params.Clone()
			vals, err := getAll(c.params, parameter.TMin, parameter.TMax)
			if err != nil {
				return false, err
			}
			if err := p.Apply(map[parameter.Key]float64{parameter.TMin: vals[0], parameter.TMax: vals[1]}); err != nil {
				return false, err
			}
			f.Params = p
		}
		aFollow, err = neighborAcceleration(&f, f.Distance, c.speed, desire)
		if err != nil {
			return false, err
		}
	}

	aSelf := math.Inf(1)
	if leaders := c.per.Leaders(target); len(leaders) > 0 {
		aSelf, err = singleAcceleration(c, leaders[0].Distance, leaders[0].Speed, desire)
		if err != nil {
			return false, err
		}
	}

	threshold := -b * desire
	return aFollow >= threshold && aSelf >= threshold && ownAcceleration >= threshold, nil
}
