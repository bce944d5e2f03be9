package junction

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// Junction管理器
type JunctionManager struct {
	ctx entity.ITaskContext

	data      map[int32]*Junction
	junctions []*Junction
}

// NewManager 创建Junction管理器实例
// 参数：ctx-任务上下文，用于读取信控开关
func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:       ctx,
		data:      make(map[int32]*Junction),
		junctions: make([]*Junction, 0),
	}
}

// Init 初始化所有Junction、冲突区及其信控
// 参数：pbs-Junction的protobuf数据列表，laneManager-车道管理器，roadManager-道路管理器
// 算法说明：
// 1. 并行初始化所有路口
// 2. 按路口顺序为冲突区对依次分配全局唯一的ID
func (m *JunctionManager) Init(pbs []*mapv2.Junction, laneManager entity.ILaneManager, roadManager entity.IRoadManager) {
	enableTrafficLight := m.ctx.RuntimeConfig().C.EnableTrafficLight
	m.junctions = parallel.GoMap(pbs, func(pb *mapv2.Junction) *Junction {
		return newJunction(pb, laneManager, roadManager, enableTrafficLight)
	})
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
	var id int32
	for _, j := range m.junctions {
		for _, p := range j.conflictPairs {
			p[0].ID, p[1].ID = id, id
			id++
		}
	}
	log.Infof("build %d conflict zone pairs in %d junctions", id, len(m.junctions))
}

// Get 根据ID获取Junction实例，如果不存在则panic
func (m *JunctionManager) Get(id int32) entity.IJunction {
	junction, ok := m.data[id]
	if !ok {
		log.Panicf("no id %d in junction data", id)
	}
	return junction
}

// GetOrError 根据ID获取Junction实例，如果不存在则返回错误
func (m *JunctionManager) GetOrError(id int32) (entity.IJunction, error) {
	junction, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	}
	return junction, nil
}

// Prepare 准备阶段，将信号灯状态写入车道
func (m *JunctionManager) Prepare() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.prepare() })
}

// Update 更新阶段，推进所有信号灯
func (m *JunctionManager) Update(dt float64) {
	parallel.GoFor(m.junctions, func(j *Junction) { j.update(dt) })
}
