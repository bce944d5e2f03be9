package person

import (
	"cmp"
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/mathutil"
	"git.fiblab.net/general/common/v2/parallel"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/lmrs"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/container"
	"golang.org/x/exp/slices"
)

// GlobalRuntime 全局运行时数据结构
// 功能：累计完成行程数与总行驶时间
type GlobalRuntime struct {
	NumCompletedTrips int32   // 已完成的行程
	TravelTime        float64 // 总行驶时间
}

// PersonManager Person管理器
// 功能：管理所有Person实体，负责出发调度、并行决策与每步汇总
type PersonManager struct {
	ctx entity.ITaskContext

	cfg       *lmrs.Config              // 所有智能体共用的LMRS配置
	overrides map[parameter.Key]float64 // 配置文件中的参数覆盖

	data map[int32]*Person

	// 在路上的person
	persons *container.IncrementalArray[*Person]
	// 等待出发的person，按出发时间排序
	departures *container.PriorityQueue[*Person]

	report *entity.StepReport

	runtime GlobalRuntime
}

// NewManager 创建Person管理器实例
// 参数：ctx-任务上下文
// 返回：新创建的Person管理器实例
func NewManager(ctx entity.ITaskContext) *PersonManager {
	return &PersonManager{
		ctx:        ctx,
		data:       make(map[int32]*Person),
		persons:    container.NewIncrementalArray[*Person](),
		departures: container.NewPriorityQueue[*Person](),
		report:     &entity.StepReport{},
	}
}

// Init 初始化所有Person
// 功能：解析LMRS配置与参数覆盖，根据protobuf数据并行创建Person，按出发时间建立等待队列
// 参数：pbs-Person的protobuf数据列表，laneManager-车道管理器
// 返回：配置或数据不合法时返回错误
func (m *PersonManager) Init(pbs []*personv2.Person, laneManager entity.ILaneManager) error {
	mc := m.ctx.RuntimeConfig().M
	cfg, err := lmrs.ParseConfig(
		mc.Incentives, mc.GapAcceptance, mc.Synchronization, mc.Cooperation,
		mc.ConflictsEnabled(), mc.TrafficLightsEnabled(),
	)
	if err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	m.cfg = cfg
	if m.overrides, err = parseOverrides(mc.Parameters); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	type created struct {
		p   *Person
		err error
	}
	results := parallel.GoMap(pbs, func(pb *personv2.Person) created {
		p, err := newPerson(m.ctx, m, pb, laneManager)
		return created{p, err}
	})
	m.data = make(map[int32]*Person, len(results))
	m.persons = container.NewIncrementalArray[*Person]()
	m.departures = container.NewPriorityQueue[*Person]()
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		if _, ok := m.data[r.p.id]; ok {
			return fmt.Errorf("duplicate person id %d", r.p.id)
		}
		m.data[r.p.id] = r.p
		if t := r.p.schedule.GetDepartureTime(); t < mathutil.INF {
			m.departures.Push(r.p, t)
		}
	}
	m.departures.Heapify()
	log.Infof("init %d persons, %d waiting for departure", len(m.data), m.departures.Len())
	return nil
}

// parseOverrides 配置文件中的参数名转换为参数键，未知参数返回错误
func parseOverrides(values map[string]float64) (map[parameter.Key]float64, error) {
	defaults := parameter.Defaults()
	out := make(map[parameter.Key]float64, len(values))
	for name, v := range values {
		key := parameter.Key(name)
		if !defaults.Contains(key) {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		out[key] = v
	}
	return out, nil
}

// newParameters 创建单个车辆的行为参数
// 说明：车辆属性、配置覆盖、仿真步长依次生效
func (m *PersonManager) newParameters(attr *personv2.VehicleAttribute) (*parameter.Parameters, error) {
	params, err := parameter.FromVehicleAttribute(attr)
	if err != nil {
		return nil, err
	}
	if err := params.Apply(m.overrides); err != nil {
		return nil, err
	}
	if err := params.Set(parameter.DT, m.ctx.Clock().DT); err != nil {
		return nil, err
	}
	return params, nil
}

// Get 根据ID获取Person实例
// 功能：通过Person ID查找对应的Person对象，如果不存在则panic
func (m *PersonManager) Get(id int32) entity.IPerson {
	if p, ok := m.data[id]; !ok {
		log.Panicf("no id %d in person data", id)
		return nil
	} else {
		return p
	}
}

// GetOrError 根据ID获取Person实例（带错误处理）
// 功能：通过Person ID查找对应的Person对象，如果不存在则返回错误
func (m *PersonManager) GetOrError(id int32) (entity.IPerson, error) {
	if p, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in person data", id)
	} else {
		return p, nil
	}
}

// 准备阶段：链表节点更新
func (m *PersonManager) PrepareNode() {
	// 不并行处理，增删共用index
	m.persons.Prepare()

	parallel.GoFor(m.persons.Data(), func(p *Person) { p.prepareNode() })
}

// 准备阶段：snapshot更新
func (m *PersonManager) Prepare() {
	parallel.GoFor(m.persons.Data(), func(p *Person) { p.prepare() })
	log.Debug("PersonManager: prepare done")
}

// Update 更新阶段
// 算法说明：
// 1. 出发时间已到的person出发，在下一步开始参与决策
// 2. 在路上的person并行决策与运动，所有决策只读取上一步结束时的快照
// 3. 到达终点的person离开道路，按下一次出行的出发时间重新排队
// 4. 生成按ID排序的汇总
func (m *PersonManager) Update(dt float64) {
	clk := m.ctx.Clock()
	report := &entity.StepReport{Step: clk.InternalStep}

	for _, p := range m.departures.PopUntil(clk.T) {
		if err := p.depart(); err != nil {
			log.Warnf("person %d fails to depart at %v: %v, skip the trip", p.ID(), clk.T, err)
			p.schedule.NextTrip(clk.T)
			m.enqueue(p)
			continue
		}
		report.Departed++
		m.persons.Add(p)
	}

	var (
		mtx     sync.Mutex
		arrived []*Person
	)
	parallel.GoFor(m.persons.Data(), func(p *Person) {
		res := p.update(dt)
		mtx.Lock()
		defer mtx.Unlock()
		report.Decisions = append(report.Decisions, res.decision)
		if res.err != nil {
			report.Failures = append(report.Failures, entity.AgentFailure{ID: p.id, Err: res.err})
		}
		if res.startedLC {
			report.LaneChanges++
		}
		if res.arrived {
			arrived = append(arrived, p)
		}
		m.runtime.TravelTime += dt
	})

	slices.SortFunc(arrived, func(a, b *Person) int { return cmp.Compare(a.id, b.id) })
	for _, p := range arrived {
		m.persons.Remove(p)
		m.enqueue(p)
	}
	m.runtime.NumCompletedTrips += int32(len(arrived))
	report.Arrived = len(arrived)
	report.Running = m.persons.Len() - len(arrived)
	slices.SortFunc(report.Decisions, func(a, b entity.AgentDecision) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(report.Failures, func(a, b entity.AgentFailure) int { return cmp.Compare(a.ID, b.ID) })
	m.report = report
}

// enqueue 按下一次出行的出发时间排队，没有下一次出行时不再排队
func (m *PersonManager) enqueue(p *Person) {
	if t := p.schedule.GetDepartureTime(); t < mathutil.INF {
		m.departures.HeapPush(p, t)
	}
}

// Report 最近一次更新阶段的汇总
func (m *PersonManager) Report() *entity.StepReport {
	return m.report
}

// Stats 累计统计
func (m *PersonManager) Stats() GlobalRuntime {
	return m.runtime
}

// Running 在路上的person ID，升序
func (m *PersonManager) Running() []int32 {
	ids := lo.Map(m.persons.Data(), func(p *Person, _ int) int32 { return p.id })
	slices.Sort(ids)
	return ids
}
