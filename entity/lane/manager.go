package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/config"
)

// LaneManager Lane管理器
// 功能：管理所有Lane实体，提供创建、查找、初始化与每步准备
type LaneManager struct {
	data  map[int32]*Lane
	lanes []*Lane
}

// NewManager 创建Lane管理器实例
func NewManager() *LaneManager {
	return &LaneManager{
		data:  make(map[int32]*Lane),
		lanes: make([]*Lane, 0),
	}
}

// Init 初始化所有Lane
// 功能：根据protobuf数据初始化所有Lane对象，建立ID映射关系和连接关系
// 参数：pbs-Lane的protobuf数据列表
// 说明：分两阶段并行处理：创建对象和建立连接关系
func (m *LaneManager) Init(pbs []*mapv2.Lane) {
	m.lanes = parallel.GoMap(pbs, func(pb *mapv2.Lane) *Lane {
		return newLane(pb)
	})
	m.data = lo.SliceToMap(m.lanes, func(l *Lane) (int32, *Lane) {
		return l.id, l
	})
	parallel.GoFor(m.lanes, func(l *Lane) { l.initWithManager(m) })
}

// InitSpeedLimitSigns 在车道上放置限速牌
// 功能：按配置把限速牌挂到对应车道上
// 参数：signs-限速牌配置
// 返回：车道不存在、车道类型不是行车道或位置越界时返回错误
func (m *LaneManager) InitSpeedLimitSigns(signs []config.SpeedLimitSign) error {
	for _, sign := range signs {
		lane, ok := m.data[sign.Lane]
		if !ok {
			return fmt.Errorf("speed limit sign: no id %d in lane data", sign.Lane)
		}
		if lane.typ != mapv2.LaneType_LANE_TYPE_DRIVING {
			return fmt.Errorf("speed limit sign: lane %d is not a driving lane", sign.Lane)
		}
		if sign.S < 0 || sign.S > lane.length {
			return fmt.Errorf("speed limit sign: s %v out of lane %d range [0, %v]", sign.S, sign.Lane, lane.length)
		}
		lane.AddRSUWhenInit(&entity.SpeedLimitSign{S: sign.S, Limit: sign.Limit})
	}
	if len(signs) > 0 {
		log.Infof("place %d speed limit signs", len(signs))
	}
	return nil
}

// Get 根据ID获取Lane实例，如果不存在则panic
func (m *LaneManager) Get(id int32) entity.ILane {
	lane, ok := m.data[id]
	if !ok {
		log.Panicf("no id %d in lane data", id)
	}
	return lane
}

// GetOrError 根据ID获取Lane实例，如果不存在则返回错误
func (m *LaneManager) GetOrError(id int32) (entity.ILane, error) {
	lane, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	}
	return lane, nil
}

// Prepare 准备阶段
// 功能：先并行维护所有车道的主链，再并行构建侧链
func (m *LaneManager) Prepare() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare() })
	parallel.GoFor(m.lanes, func(l *Lane) { l.prepare2() })
}
