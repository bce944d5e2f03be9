package lmrs

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// Cooperation 合作策略
type Cooperation int8

const (
	// CoopPassive 相邻车道存在时，对发出不低于dCoop意愿的前车无条件合作
	CoopPassive Cooperation = iota
	// CoopPassiveMoving 同CoopPassive，但不对正在减速的非拥堵车辆合作
	CoopPassiveMoving
	// CoopActive 以尾随方式合作，减速度按对方意愿放宽
	CoopActive
)

var cooperationNames = [...]string{"passive", "passive-moving", "active"}

func (co Cooperation) String() string {
	if int(co) < len(cooperationNames) {
		return cooperationNames[co]
	}
	return fmt.Sprintf("Cooperation(%d)", int8(co))
}

// ParseCooperation 由名称解析合作策略
func ParseCooperation(name string) (Cooperation, error) {
	if name == "" {
		return CoopPassive, nil
	}
	for i, n := range cooperationNames {
		if n == name {
			return Cooperation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cooperation %q", name)
}

// cooperate 为lat方向相邻车道上希望换入本车道的前车让出空间
// 算法说明：
// 1. 相邻车道不存在时不约束
// 2. 对意愿不低于dCoop、且（行驶中或在前方）的前车，以对方意愿对应的车头时距跟随它并按意愿限制减速度
// 3. 结果不低于−b
func (co Cooperation) cooperate(c *decisionContext, lat perception.Lateral) (float64, error) {
	adjacent := lat.Lane(1)
	if !c.per.LaneExists(adjacent) {
		return math.Inf(1), nil
	}
	vals, err := getAll(c.params, parameter.B, parameter.DCoop, parameter.VCong, parameter.X0, parameter.T0)
	if err != nil {
		return 0, err
	}
	b, dCoop, vCong, x0, t0 := vals[0], vals[1], vals[2], vals[3], vals[4]

	a := math.Inf(1)
	leaders := c.per.Leaders(adjacent)
	for i := range leaders {
		leader := &leaders[i]
		desire := leader.DesireToward(lat.Flip())
		if desire < dCoop || (leader.Speed <= 0 && leader.Distance <= 0) {
			continue
		}
		var aCoop float64
		switch co {
		case CoopPassive:
			aCoop, err = singleAcceleration(c, leader.Distance, leader.Speed, desire)
		case CoopPassiveMoving:
			if leader.Speed > vCong && leader.Acceleration < 0 {
				continue
			}
			aCoop, err = singleAcceleration(c, leader.Distance, leader.Speed, desire)
		case CoopActive:
			aCoop, err = tagAlongAcceleration(c, leader, x0/t0, desire)
		default:
			return 0, fmt.Errorf("unknown cooperation %d", co)
		}
		if err != nil {
			return 0, err
		}
		if aCoop, err = gentleUrgency(c.params, aCoop, desire); err != nil {
			return 0, err
		}
		a = math.Min(a, aCoop)
	}
	return math.Max(a, -b), nil
}
