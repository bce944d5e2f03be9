// Package testmap 测试用的小型路网
//
// 路网为一个路口（100）连接四条道路：
//
//	road 1：西侧进口道，车道10（左）、11（右），x从0到200
//	road 2：东侧出口道，车道20（左）、21（右），x从220到420
//	road 3：南侧进口道，车道30，y从-200到-20
//	road 4：北侧出口道，车道40，y从20到220
//
// 路口内车道：101（10->20直行）、102（11->21直行）、103（30->21右转）、105（11->40左转）、106（30->40直行）
package testmap

import (
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

const (
	Width       = 3.2  // 车道宽度
	RoadSpeed   = 15.0 // 道路车道限速
	JunctionMax = 10.0 // 路口车道限速

	Junction int32 = 100
)

func line(points ...[2]float64) *geov2.Polyline {
	nodes := make([]*geov2.XYPosition, len(points))
	for i, p := range points {
		nodes[i] = &geov2.XYPosition{X: p[0], Y: p[1]}
	}
	return &geov2.Polyline{Nodes: nodes}
}

func conns(typ mapv2.LaneConnectionType, ids ...int32) []*mapv2.LaneConnection {
	res := make([]*mapv2.LaneConnection, len(ids))
	for i, id := range ids {
		res[i] = &mapv2.LaneConnection{Id: id, Type: typ}
	}
	return res
}

func pre(ids ...int32) []*mapv2.LaneConnection {
	return conns(mapv2.LaneConnectionType_LANE_CONNECTION_TYPE_TAIL, ids...)
}

func suc(ids ...int32) []*mapv2.LaneConnection {
	return conns(mapv2.LaneConnectionType_LANE_CONNECTION_TYPE_HEAD, ids...)
}

func overlap(self int32, selfS float64, other int32, otherS float64, selfFirst bool) *mapv2.LaneOverlap {
	return &mapv2.LaneOverlap{
		Self:      &geov2.LanePosition{LaneId: self, S: selfS},
		Other:     &geov2.LanePosition{LaneId: other, S: otherS},
		SelfFirst: selfFirst,
	}
}

func lane(id int32, turn mapv2.LaneTurn, maxV float64, center *geov2.Polyline) *mapv2.Lane {
	return &mapv2.Lane{
		Id:         id,
		Type:       mapv2.LaneType_LANE_TYPE_DRIVING,
		Turn:       turn,
		MaxSpeed:   maxV,
		Width:      Width,
		CenterLine: center,
	}
}

// New 生成测试路网，fixedProgram为true时路口带有两相位的固定信控（各30秒，road 1先放行）
func New(fixedProgram bool) *mapv2.Map {
	straight := mapv2.LaneTurn_LANE_TURN_STRAIGHT

	l10 := lane(10, straight, RoadSpeed, line([2]float64{0, Width}, [2]float64{200, Width}))
	l10.RightLaneIds = []int32{11}
	l10.Successors = suc(101)
	l11 := lane(11, straight, RoadSpeed, line([2]float64{0, 0}, [2]float64{200, 0}))
	l11.LeftLaneIds = []int32{10}
	l11.Successors = suc(102, 105)

	l20 := lane(20, straight, RoadSpeed, line([2]float64{220, Width}, [2]float64{420, Width}))
	l20.RightLaneIds = []int32{21}
	l20.Predecessors = pre(101)
	l21 := lane(21, straight, RoadSpeed, line([2]float64{220, 0}, [2]float64{420, 0}))
	l21.LeftLaneIds = []int32{20}
	l21.Predecessors = pre(102, 103)

	l30 := lane(30, straight, RoadSpeed, line([2]float64{210, -200}, [2]float64{210, -20}))
	l30.Successors = suc(103, 106)
	l40 := lane(40, straight, RoadSpeed, line([2]float64{210, 20}, [2]float64{210, 220}))
	l40.Predecessors = pre(105, 106)

	l101 := lane(101, straight, JunctionMax, line([2]float64{200, Width}, [2]float64{220, Width}))
	l101.Predecessors, l101.Successors = pre(10), suc(20)
	l101.Overlaps = []*mapv2.LaneOverlap{
		overlap(101, 10, 106, 20+Width, true),
		overlap(101, 10, 105, 10+Width, true),
	}
	l102 := lane(102, straight, JunctionMax, line([2]float64{200, 0}, [2]float64{220, 0}))
	l102.Predecessors, l102.Successors = pre(11), suc(21)
	l102.Overlaps = []*mapv2.LaneOverlap{overlap(102, 10, 106, 20, true)}
	l103 := lane(103, mapv2.LaneTurn_LANE_TURN_RIGHT, JunctionMax, line([2]float64{210, -20}, [2]float64{210, -10}, [2]float64{220, 0}))
	l103.Predecessors, l103.Successors = pre(30), suc(21)
	l105 := lane(105, mapv2.LaneTurn_LANE_TURN_LEFT, JunctionMax, line([2]float64{200, 0}, [2]float64{210, 0}, [2]float64{210, 20}))
	l105.Predecessors, l105.Successors = pre(11), suc(40)
	l105.Overlaps = []*mapv2.LaneOverlap{overlap(105, 10+Width, 101, 10, false)}
	l106 := lane(106, straight, JunctionMax, line([2]float64{210, -20}, [2]float64{210, 20}))
	l106.Predecessors, l106.Successors = pre(30), suc(40)
	l106.Overlaps = []*mapv2.LaneOverlap{
		overlap(106, 20, 102, 10, false),
		overlap(106, 20+Width, 101, 10, false),
	}

	j := &mapv2.Junction{
		Id:      Junction,
		LaneIds: []int32{101, 102, 103, 105, 106},
		DrivingLaneGroups: []*mapv2.JunctionLaneGroup{
			{InRoadId: 1, OutRoadId: 2, LaneIds: []int32{101, 102}},
			{InRoadId: 1, OutRoadId: 4, LaneIds: []int32{105}},
			{InRoadId: 3, OutRoadId: 2, LaneIds: []int32{103}},
			{InRoadId: 3, OutRoadId: 4, LaneIds: []int32{106}},
		},
	}
	if fixedProgram {
		g, r := mapv2.LightState_LIGHT_STATE_GREEN, mapv2.LightState_LIGHT_STATE_RED
		j.FixedProgram = &mapv2.TrafficLight{
			JunctionId: Junction,
			Phases: []*mapv2.Phase{
				{Duration: 30, States: []mapv2.LightState{g, g, r, g, r}},
				{Duration: 30, States: []mapv2.LightState{r, r, g, r, g}},
			},
		}
	}

	return &mapv2.Map{
		Lanes: []*mapv2.Lane{l10, l11, l20, l21, l30, l40, l101, l102, l103, l105, l106},
		Roads: []*mapv2.Road{
			{Id: 1, LaneIds: []int32{10, 11}},
			{Id: 2, LaneIds: []int32{20, 21}},
			{Id: 3, LaneIds: []int32{30}},
			{Id: 4, LaneIds: []int32{40}},
		},
		Junctions: []*mapv2.Junction{j},
	}
}
