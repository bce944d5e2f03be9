package input

import (
	"fmt"
	"os"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	tripv2 "git.fiblab.net/sim/protos/v2/go/city/trip/v2"
)

// mapIDs 地图ID集合
// 功能：存储行车道ID集合，用于位置验证
type mapIDs struct {
	drivingLaneIDs map[int32]struct{} // 机动车道ID集合
}

func newMapIDs(m *mapv2.Map) mapIDs {
	ids := mapIDs{drivingLaneIDs: make(map[int32]struct{})}
	for _, v := range m.Lanes {
		if v.Type == mapv2.LaneType_LANE_TYPE_DRIVING {
			ids.drivingLaneIDs[v.Id] = struct{}{}
		}
	}
	return ids
}

// checkPositionValid 检查位置有效性
// 功能：位置必须是位于行车道上的车道坐标
func checkPositionValid(pos *geov2.Position, ids mapIDs) bool {
	if pos == nil || pos.LanePosition == nil || pos.AoiPosition != nil {
		return false
	}
	_, ok := ids.drivingLaneIDs[pos.LanePosition.LaneId]
	return ok
}

// validatePerson 检查人员数据
// 功能：只接受全部行程均为驾车出行且起终点都在行车道上的人员
// 返回：不合法时返回描述原因的错误
func validatePerson(person *personv2.Person, ids mapIDs) error {
	if person.VehicleAttribute == nil {
		return fmt.Errorf("ignore person %v without vehicle attribute", person.Id)
	}
	if !checkPositionValid(person.Home, ids) {
		return fmt.Errorf("ignore person %v due to bad home position %v", person.Id, person.Home)
	}
	for i, schedule := range person.Schedules {
		for j, trip := range schedule.Trips {
			if trip.Mode != tripv2.TripMode_TRIP_MODE_DRIVE_ONLY {
				return fmt.Errorf("ignore person %v due to unsupported mode %v (trip %d-%d)", person.Id, trip.Mode, i, j)
			}
			if !checkPositionValid(trip.End, ids) {
				return fmt.Errorf("ignore person %v due to bad (position: %v, trip %d-%d: %v)", person.Id, trip.End, i, j, trip)
			}
		}
	}
	return nil
}

// preCheckCache 预检查缓存目录
// 功能：验证输入缓存目录的有效性，决定是否启用缓存功能
// 参数：cacheDir-缓存目录路径
// 返回：true表示启用缓存，false表示禁用缓存
func preCheckCache(cacheDir string) bool {
	if cacheDir == "" {
		log.Info("disable input cache")
		return false
	}
	if stat, err := os.Stat(cacheDir); err == nil && stat.IsDir() {
		log.Infof("enable input cache at %s", cacheDir)
		return true
	}
	log.Errorf("disable input cache because invalid dir %s (not exist or file)", cacheDir)
	return false
}
