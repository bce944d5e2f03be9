package lmrs

import (
	"errors"
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/conflict"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// Config 智能体的LMRS配置，在智能体创建时确定
type Config struct {
	Incentives      []IncentiveKind
	GapAcceptance   GapAcceptance
	Synchronization Synchronization
	Cooperation     Cooperation
	Conflicts       bool // 是否考虑冲突区（需要交叉口感知能力）
	TrafficLights   bool // 是否响应信号灯（需要交叉口感知能力）
}

// DefaultConfig 默认配置：全部激励、Informed间隙接受、被动同步与被动合作，考虑冲突区与信号灯
func DefaultConfig() *Config {
	return &Config{
		Incentives:      DefaultIncentives(),
		GapAcceptance:   Informed,
		Synchronization: Passive,
		Cooperation:     CoopPassive,
		Conflicts:       true,
		TrafficLights:   true,
	}
}

// ParseConfig 由名称构造配置，名称为空时取默认值
func ParseConfig(incentives []string, gapAcceptance, synchronization, cooperation string, conflicts, trafficLights bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	if len(incentives) > 0 {
		cfg.Incentives = make([]IncentiveKind, 0, len(incentives))
		for _, name := range incentives {
			k, err := ParseIncentive(name)
			if err != nil {
				return nil, err
			}
			cfg.Incentives = append(cfg.Incentives, k)
		}
	}
	if cfg.GapAcceptance, err = ParseGapAcceptance(gapAcceptance); err != nil {
		return nil, err
	}
	if cfg.Synchronization, err = ParseSynchronization(synchronization); err != nil {
		return nil, err
	}
	if cfg.Cooperation, err = ParseCooperation(cooperation); err != nil {
		return nil, err
	}
	cfg.Conflicts = conflicts
	cfg.TrafficLights = trafficLights
	return cfg, nil
}

// Decision 一步的决策结果
type Decision struct {
	Acceleration       float64            // 纵向加速度，+Inf表示没有任何约束（仅在纵向控制由外部接管时出现）
	LaneChange         perception.Lateral // 本步开始的换道方向
	LaneChangeDuration float64            // 换道持续时间（秒），LaneChange为None时为0
	Indicator          perception.Lateral // 转向灯
	SyncState          SyncState
	Desire             Desire
}

// Planner 单个智能体的LMRS决策器
// 说明：Params、Data只由所属智能体的决策过程修改
type Planner struct {
	Params *parameter.Parameters
	Model  carfollowing.Model
	Data   *Data
	cfg    *Config
}

// NewPlanner 创建决策器，cfg为nil时使用默认配置
func NewPlanner(params *parameter.Parameters, model carfollowing.Model, cfg *Config) (*Planner, error) {
	if params == nil || model == nil {
		return nil, errors.New("planner requires parameters and a car-following model")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Planner{
		Params: params,
		Model:  model,
		Data:   NewData(),
		cfg:    cfg,
	}, nil
}

// Config 决策器配置
func (pl *Planner) Config() *Config {
	return pl.cfg
}

// initHeadwayRelaxation 新前车出现时，若已知其最近一次换道时的意愿，按该意愿缩短车头时距
func initHeadwayRelaxation(p *parameter.Parameters, leader perception.Neighbor) error {
	if math.IsNaN(leader.DLC) {
		return nil
	}
	return setDesiredHeadway(p, leader.DLC)
}

// applyAcceleration 新的加速度约束更严格（或相等）时采用它并记录同步状态
func applyAcceleration(a, aNew float64, data *Data, state SyncState) float64 {
	if a < aNew || math.IsInf(aNew, 1) {
		return a
	}
	data.syncState = state
	return aNew
}

// Plan 根据感知快照计算本步的纵向加速度与横向决策
// 算法说明：
// 1. 跟驰当前车道前车；出现新的第一前车时按其换道意愿初始化车头时距松弛
// 2. 计算换道意愿，正在换道时固定为换道方向1
// 3. 未在换道时，意愿较大一侧不低于dFree且通过换道检验则开始换道：记录dlc，永久缩短车头时距，并跟驰目标车道前车
// 4. 正在换道或开始换道时发布意愿1/0；否则发布意愿，不低于dSync时同步（不低于dCoop时打灯），为两侧邻车合作，车头时距松弛
// 5. 冲突区与信号灯
// 6. 结果为所有约束的最小值
func (pl *Planner) Plan(per perception.Perception) (Decision, error) {
	p := pl.Params
	data := pl.Data
	c := &decisionContext{
		per:    per,
		params: p,
		model:  pl.Model,
		sli:    per.SpeedLimit(0),
		speed:  per.Speed(),
		length: per.Length(),
		data:   data,
		cfg:    pl.cfg,
	}
	dec := Decision{}
	data.syncState = SyncNone

	// 1. 当前车道跟驰
	a := math.Inf(1)
	leaders := per.Leaders(0)
	if !data.ExternalLongitudinalControl {
		if len(leaders) > 0 && data.isNewLeader(leaders[0].ID) {
			if err := initHeadwayRelaxation(p, leaders[0]); err != nil {
				return dec, err
			}
		}
		var err error
		a, err = pl.Model.FollowingAcceleration(p, c.speed, c.sli, toLeaders(leaders))
		if err != nil {
			return dec, fmt.Errorf("car-following on current lane: %w", err)
		}
	}

	// 2. 换道意愿
	changing := per.ChangingLane()
	var desire Desire
	switch changing {
	case perception.Left:
		desire = NewDesire(1, 0)
	case perception.Right:
		desire = NewDesire(0, 1)
	default:
		var err error
		if desire, err = laneChangeDesire(c); err != nil {
			return dec, fmt.Errorf("lane change desire: %w", err)
		}
	}
	dec.Desire = desire

	if changing != perception.None {
		// 换道过程中同时跟驰目标车道前车
		aTarget, err := pl.followLane(c, changing.Lane(1))
		if err != nil {
			return dec, err
		}
		a = math.Min(a, aTarget)
		dec.Indicator = changing
		data.syncState = SyncChanging
	}

	// 3. 开始换道
	vals, err := getAll(p, parameter.DFree, parameter.DSync, parameter.DCoop, parameter.LC)
	if err != nil {
		return dec, err
	}
	dFree, dSync, dCoop, lc := vals[0], vals[1], vals[2], vals[3]
	initiated := perception.None
	if changing == perception.None {
		for _, lat := range []perception.Lateral{perception.Left, perception.Right} {
			d := desire.Toward(lat)
			larger := desire.LeftIsLargerOrEqual() == (lat == perception.Left)
			if !larger || d < dFree {
				continue
			}
			ok, err := acceptLaneChange(c, lat, d, a)
			if err != nil {
				return dec, fmt.Errorf("accept lane change %v: %w", lat, err)
			}
			if !ok {
				continue
			}
			if err := p.Set(parameter.DLC, d); err != nil {
				return dec, err
			}
			if err := setDesiredHeadway(p, d); err != nil {
				return dec, err
			}
			aTarget, err := pl.followLane(c, lat.Lane(1))
			if err != nil {
				return dec, err
			}
			a = math.Min(a, aTarget)
			initiated = lat
			dec.Indicator = lat
			data.syncState = SyncChanging
			break
		}
	}
	dec.LaneChange = initiated
	if initiated != perception.None {
		dec.LaneChangeDuration = lc
	}

	// 4. 同步、合作与车头时距松弛
	if active := changing + initiated; active != perception.None {
		left, right := 0.0, 0.0
		if active == perception.Left {
			left = 1
		} else {
			right = 1
		}
		if err := pl.publish(left, right); err != nil {
			return dec, err
		}
	} else {
		if err := pl.publish(desire.Left, desire.Right); err != nil {
			return dec, err
		}
		for _, lat := range []perception.Lateral{perception.Left, perception.Right} {
			d := desire.Toward(lat)
			larger := desire.LeftIsLargerOrEqual() == (lat == perception.Left)
			if !larger || d < dSync {
				continue
			}
			if d >= dCoop {
				dec.Indicator = lat
			}
			aSync, err := pl.cfg.Synchronization.synchronize(c, d, lat)
			if err != nil {
				return dec, fmt.Errorf("synchronize %v: %w", lat, err)
			}
			a = applyAcceleration(a, aSync, data, SyncSynchronizing)
			break
		}
		for _, lat := range []perception.Lateral{perception.Left, perception.Right} {
			aCoop, err := pl.cfg.Cooperation.cooperate(c, lat)
			if err != nil {
				return dec, fmt.Errorf("cooperate %v: %w", lat, err)
			}
			a = applyAcceleration(a, aCoop, data, SyncCooperating)
		}
		if !data.ExternalLongitudinalControl {
			if err := exponentialHeadwayRelaxation(p); err != nil {
				return dec, err
			}
		}
	}

	// 5. 冲突区与信号灯
	if pl.cfg.Conflicts {
		conflicts, err := per.Conflicts(0)
		if err != nil {
			return dec, err
		}
		aConflict, err := conflict.ApproachConflicts(c.ego(), conflicts, leaders, data.Plans)
		if err != nil {
			return dec, fmt.Errorf("approach conflicts: %w", err)
		}
		a = math.Min(a, aConflict)
	}
	if pl.cfg.TrafficLights {
		lights, err := per.TrafficLights(0)
		if err != nil {
			return dec, err
		}
		aLight, err := conflict.RespondToTrafficLights(c.ego(), lights)
		if err != nil {
			return dec, fmt.Errorf("traffic lights: %w", err)
		}
		a = math.Min(a, aLight)
	}

	data.finalizeStep()
	dec.Acceleration = a
	dec.SyncState = data.syncState
	log.Debugf("plan: a=%.3f desire=%v lane change=%v indicator=%v sync=%v", a, desire, initiated, dec.Indicator, data.syncState)
	return dec, nil
}

// followLane 跟驰相对车道lane上的前车，记录其第一前车
func (pl *Planner) followLane(c *decisionContext, lane int) (float64, error) {
	leaders := c.per.Leaders(lane)
	if len(leaders) == 0 {
		return math.Inf(1), nil
	}
	pl.Data.isNewLeader(leaders[0].ID)
	a, err := pl.Model.FollowingAcceleration(pl.Params, c.speed, c.sli, toLeaders(leaders))
	if err != nil {
		return 0, fmt.Errorf("car-following on lane %d: %w", lane, err)
	}
	return a, nil
}

// publish 发布换道意愿，供邻车在下一步读取
func (pl *Planner) publish(left, right float64) error {
	return pl.Params.Apply(map[parameter.Key]float64{parameter.DLeft: left, parameter.DRight: right})
}
