package route

import (
	"fmt"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// NewRoutePosition 根据protobuf位置创建路由位置
// 功能：将protobuf格式的车道位置转换为内部路由位置结构
// 参数：laneManager-车道管理器，pb-protobuf位置信息
// 返回：内部路由位置结构，位置不是行车道上的车道位置时返回error
func NewRoutePosition(laneManager entity.ILaneManager, pb *geov2.Position) (entity.RoutePosition, error) {
	if pb == nil || pb.LanePosition == nil {
		return entity.RoutePosition{}, fmt.Errorf("route position %v is not a lane position", pb)
	}
	lane, err := laneManager.GetOrError(pb.LanePosition.LaneId)
	if err != nil {
		return entity.RoutePosition{}, err
	}
	if lane.Type() != mapv2.LaneType_LANE_TYPE_DRIVING {
		return entity.RoutePosition{}, fmt.Errorf("lane %d is not a driving lane", lane.ID())
	}
	s := pb.LanePosition.S
	if s < 0 || s > lane.Length() {
		return entity.RoutePosition{}, fmt.Errorf("s=%v out of lane %d range [0, %v]", s, lane.ID(), lane.Length())
	}
	return entity.RoutePosition{Lane: lane, S: s}, nil
}

