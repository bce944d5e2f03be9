package carfollowing

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/randengine"
)

// IDM 智能驾驶模型
// 功能：https://en.wikipedia.org/wiki/Intelligent_driver_model
// 说明：Plus为true时使用IDM+，即自由项与交互项取较小值而非相减
type IDM struct {
	Plus bool
}

// NewIDM 创建IDM
func NewIDM() *IDM {
	return &IDM{}
}

// NewIDMPlus 创建IDM+
func NewIDMPlus() *IDM {
	return &IDM{Plus: true}
}

func (m *IDM) Name() string {
	if m.Plus {
		return "IDM+"
	}
	return "IDM"
}

// DesiredSpeed 期望速度 = min(fSpeed*限速, 车辆最大速度)
func (m *IDM) DesiredSpeed(p *parameter.Parameters, sli SpeedLimitInfo) (float64, error) {
	fSpeed, err := p.Get(parameter.FSpeed)
	if err != nil {
		return 0, err
	}
	v := fSpeed * sli.LegalSpeedLimit
	if sli.MaxVehicleSpeed > 0 && sli.MaxVehicleSpeed < v {
		v = sli.MaxVehicleSpeed
	}
	return v, nil
}

// DesiredHeadway 期望车头时距即参数T
func (m *IDM) DesiredHeadway(p *parameter.Parameters, speed float64) (float64, error) {
	return p.Get(parameter.T)
}

// FollowingAcceleration 跟驰加速度
// 算法说明：
// 1. 自由项：a*(1-(v/v0)^delta)，不低于-b0（超速时温和减速）
// 2. 无前车时直接返回自由项
// 3. 期望间距：s* = s0 + max(0, v*T + v*(v-vL)/(2*sqrt(a*b)))
// 4. IDM：a*(1-(v/v0)^delta-(s*/s)^2)；IDM+：min(自由项, a*(1-(s*/s)^2))
// 5. 间距不为正（已碰撞）时返回-Inf
func (m *IDM) FollowingAcceleration(p *parameter.Parameters, speed float64, sli SpeedLimitInfo, leaders []Leader) (float64, error) {
	v0, err := m.DesiredSpeed(p, sli)
	if err != nil {
		return 0, err
	}
	headway, err := m.DesiredHeadway(p, speed)
	if err != nil {
		return 0, err
	}
	return m.accelerate(p, speed, v0, headway, leaders)
}

func (m *IDM) accelerate(p *parameter.Parameters, speed, v0, headway float64, leaders []Leader) (float64, error) {
	values, err := getAll(p, parameter.A, parameter.B, parameter.B0, parameter.S0, parameter.Delta)
	if err != nil {
		return 0, err
	}
	a, b, b0, s0, delta := values[0], values[1], values[2], values[3], values[4]

	freeTerm := 0.0
	if v0 > 0 {
		freeTerm = 1 - math.Pow(speed/v0, delta)
	} else if speed > 0 {
		freeTerm = math.Inf(-1)
	}
	aFree := math.Max(a*freeTerm, -b0)
	if len(leaders) == 0 {
		return aFree, nil
	}
	leader := leaders[0]
	if leader.Distance <= 0 {
		return math.Inf(-1), nil
	}
	sStar := s0 + math.Max(0, speed*headway+speed*(speed-leader.Speed)/(2*math.Sqrt(a*b)))
	interaction := (sStar / leader.Distance) * (sStar / leader.Distance)
	if m.Plus {
		return math.Min(aFree, a*(1-interaction)), nil
	}
	return a * (freeTerm - interaction), nil
}

// RandomIDM 带随机项的IDM+
// 功能：在IDM+的结果上叠加sigma*N(0,1)的随机扰动
// 说明：随机数来自智能体自己的随机引擎，结果可复现且并行安全
type RandomIDM struct {
	IDM
	rng *randengine.Engine
}

// NewRandomIDM 创建带随机项的IDM+
func NewRandomIDM(rng *randengine.Engine) *RandomIDM {
	return &RandomIDM{IDM: IDM{Plus: true}, rng: rng}
}

func (m *RandomIDM) Name() string {
	return "IDM+random"
}

// FollowingAcceleration 在确定性结果上叠加噪声，-Inf（碰撞）不叠加
func (m *RandomIDM) FollowingAcceleration(p *parameter.Parameters, speed float64, sli SpeedLimitInfo, leaders []Leader) (float64, error) {
	acc, err := m.IDM.FollowingAcceleration(p, speed, sli, leaders)
	if err != nil || math.IsInf(acc, 0) {
		return acc, err
	}
	sigma, err := p.Get(parameter.Sigma)
	if err != nil {
		return 0, err
	}
	return m.rng.Normal(acc, sigma), nil
}

// Deterministic 返回模型的确定性版本
// 说明：评估邻车响应时使用，避免消耗邻车自己的随机数序列
func Deterministic(m Model) Model {
	if r, ok := m.(*RandomIDM); ok {
		return &r.IDM
	}
	return m
}

// ByName 根据名称创建跟驰模型
// 参数：name-模型名（idm、idm+、idm+random，不区分大小写），rng-智能体的随机引擎，仅idm+random使用
func ByName(name string, rng *randengine.Engine) (Model, error) {
	switch strings.ToLower(name) {
	case "idm":
		return NewIDM(), nil
	case "idm+", "":
		return NewIDMPlus(), nil
	case "idm+random":
		if rng == nil {
			return nil, fmt.Errorf("car-following model %q requires a random engine", name)
		}
		return NewRandomIDM(rng), nil
	default:
		return nil, fmt.Errorf("unknown car-following model %q", name)
	}
}
