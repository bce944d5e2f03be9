package road

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// RoadManager Road管理器
// 功能：管理所有Road实体，提供创建、查找、初始化
type RoadManager struct {
	data  map[int32]*Road
	roads []*Road
}

func NewManager() *RoadManager {
	return &RoadManager{
		data:  make(map[int32]*Road),
		roads: make([]*Road, 0),
	}
}

// Init 初始化所有Road
// 参数：pbs-Road的protobuf数据列表，laneManager-车道管理器
func (m *RoadManager) Init(pbs []*mapv2.Road, laneManager entity.ILaneManager) {
	m.roads = parallel.GoMap(pbs, func(pb *mapv2.Road) *Road {
		return newRoad(pb, laneManager)
	})
	m.data = lo.SliceToMap(m.roads, func(r *Road) (int32, *Road) {
		return r.id, r
	})
}

// InitAfterJunction 在所有Junction初始化完成后，设置Road的前驱和后继路口
func (m *RoadManager) InitAfterJunction(_ entity.IJunctionManager) {
	parallel.GoFor(m.roads, func(r *Road) { r.initAfterJunction() })
}

// Get 根据ID获取Road实例，如果不存在则panic
func (m *RoadManager) Get(id int32) entity.IRoad {
	road, ok := m.data[id]
	if !ok {
		log.Panicf("no id %d in road data", id)
	}
	return road
}

// GetOrError 根据ID获取Road实例，如果不存在则返回错误
func (m *RoadManager) GetOrError(id int32) (entity.IRoad, error) {
	road, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("no id %d in road data", id)
	}
	return road, nil
}
