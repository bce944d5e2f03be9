package person

import (
	"git.fiblab.net/general/common/v2/geometry"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/carfollowing"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/parameter"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity/person/perception"
)

// lcRuntime 变道运行时数据结构
// 功能：记录车辆变道过程中的状态信息，包括变道方向、原车道位置映射、完成比例等
type lcRuntime struct {
	IsLC      bool               // 变道状态
	Direction perception.Lateral // 变道方向
	// ATTENTION: 重新定义shadow为变道前的车道
	ShadowLane     entity.ILane // 变道前所在车道
	ShadowS        float64      // 映射到变道前所在车道的位置
	Duration       float64      // 变道总用时（秒）
	CompletedRatio float64      // 已完成的变道比例
}

// runtime 人员运行时数据结构
// 功能：记录人员在模拟过程中的所有运行时状态信息
// 说明：该数据结构需要可以被直接复制，快照中的指针字段在快照之间不共享可变数据
type runtime struct {
	Status personv2.Status

	XYZ  geometry.Point // 位置
	V    float64        // 速度
	Lane entity.ILane   // 所在车道（变道时为目标车道）
	S    float64        // 车道上的位置

	Action Action    // 车辆行为
	LC     lcRuntime // 以下成员在变道时使用，仅当IsLC == true时有意义

	// 以下成员只在快照中有意义，由prepare写入

	Params     *parameter.Parameters        // 行为参数的副本（包含对外发布的换道意愿）
	SpeedLimit carfollowing.SpeedLimitInfo // 所在位置的限速
	Blocked    bool                        // 是否因冲突区处于阻塞状态
}

// clearLaneChange 清除变道状态
func (rt *runtime) clearLaneChange() {
	rt.LC = lcRuntime{}
}

// refLane 横向决策的参考车道与位置，变道时为原车道
func (rt *runtime) refLane() (entity.ILane, float64) {
	if rt.LC.IsLC {
		return rt.LC.ShadowLane, rt.LC.ShadowS
	}
	return rt.Lane, rt.S
}

// toPbPosition 转换为protobuf位置格式
// 功能：将内部位置数据转换为protobuf格式的位置信息，包含XY坐标与车道位置
func (rt *runtime) toPbPosition() *geov2.Position {
	z := rt.XYZ.Z
	position := &geov2.Position{
		XyPosition: &geov2.XYPosition{X: rt.XYZ.X, Y: rt.XYZ.Y, Z: &z},
	}
	if rt.Lane != nil {
		position.LanePosition = &geov2.LanePosition{LaneId: rt.Lane.ID(), S: rt.S}
	}
	return position
}

// ToPb 转换为protobuf人员运动数据
// 参数：self-人员实体
// 返回：protobuf格式的人员运动数据
func (rt *runtime) ToPb(self entity.IPerson) *personv2.PersonMotion {
	return &personv2.PersonMotion{
		Id:       self.ID(),
		Status:   rt.Status,
		Position: rt.toPbPosition(),
		V:        rt.V,
		A:        rt.Action.A,
		L:        self.Length(),
	}
}
