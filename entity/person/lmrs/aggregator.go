package lmrs

import (
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
)

// theta 自愿意愿的权重
// 算法说明：
// 1. |强制意愿| ≤ dSync，或强制与自愿意愿同号：1
// 2. dSync < |强制意愿| < dCoop 且异号：(dCoop − |强制意愿|)/(dCoop − dSync)
// 3. 其他：0
func theta(mandatory, voluntary, dSync, dCoop float64) float64 {
	abs := math.Abs(mandatory)
	if abs <= dSync || mandatory*voluntary >= 0 {
		return 1
	}
	if abs < dCoop {
		return (dCoop - abs) / (dCoop - dSync)
	}
	return 0
}

// blend 强制意愿与加权后的自愿意愿之和，截断到1
func blend(mandatory, voluntary, dSync, dCoop, lambdaV float64) float64 {
	w := theta(mandatory, voluntary, dSync, dCoop)
	if w == 0 || voluntary == 0 {
		// 避免 0·Inf
		return math.Min(mandatory, 1)
	}
	return math.Min(mandatory+lambdaV*w*voluntary, 1)
}

// absMax 绝对值较大者
func absMax(a, b float64) float64 {
	if math.Abs(b) > math.Abs(a) {
		return b
	}
	return a
}

// laneChangeDesire 合成各激励的换道意愿
// 算法说明：
// 1. 强制激励逐一计算，每侧取绝对值最大者（不可达的−Inf占优）
// 2. 自愿激励逐一计算并累加，每个自愿激励可读取强制意愿与已累加的自愿意愿
// 3. 每侧按theta合成：强制意愿 + lambdaV·theta·自愿意愿，截断到1
// 4. 每个激励的结果记录在desireMap中
func laneChangeDesire(c *decisionContext) (Desire, error) {
	vals, err := getAll(c.params, parameter.DSync, parameter.DCoop)
	if err != nil {
		return Desire{}, err
	}
	dSync, dCoop := vals[0], vals[1]
	lambdaV := c.params.GetOr(parameter.LambdaV, 1)

	var mandatory Desire
	for _, k := range c.cfg.Incentives {
		if !k.Mandatory() {
			continue
		}
		d, err := k.determineDesire(c, Desire{}, Desire{})
		if err != nil {
			return Desire{}, err
		}
		c.data.desireMap[k] = d
		mandatory.Left = absMax(mandatory.Left, d.Left)
		mandatory.Right = absMax(mandatory.Right, d.Right)
	}

	var voluntary Desire
	for _, k := range c.cfg.Incentives {
		if k.Mandatory() {
			continue
		}
		d, err := k.determineDesire(c, mandatory, voluntary)
		if err != nil {
			return Desire{}, err
		}
		c.data.desireMap[k] = d
		voluntary.Left += d.Left
		voluntary.Right += d.Right
	}

	return NewDesire(
		blend(mandatory.Left, voluntary.Left, dSync, dCoop, lambdaV),
		blend(mandatory.Right, voluntary.Right, dSync, dCoop, lambdaV),
	), nil
}
