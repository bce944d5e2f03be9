package schedule

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	tripv2 "git.fiblab.net/sim/protos/v2/go/city/trip/v2"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/entity"
)

// Schedule 驾车出行时刻表
// 说明：schedule内的trip依次执行，执行完LoopCount轮后进入下一个schedule，LoopCount为0表示无限循环
type Schedule struct {
	ctx entity.ITaskContext

	base          []*tripv2.Schedule
	ScheduleIndex int32 // 当前schedule下标
	TripIndex     int32 // 当前trip下标
	loop          int32 // 当前schedule已完成的轮数
	lastEnd       float64
}

// NewSchedule 创建空时刻表，由Set填充
func NewSchedule(ctx entity.ITaskContext) *Schedule {
	return &Schedule{ctx: ctx}
}

// Base 过滤后的时刻表
func (s *Schedule) Base() []*tripv2.Schedule {
	return s.base
}

// Empty 是否已没有trip
func (s *Schedule) Empty() bool {
	return len(s.base) == 0
}

// Set 设置时刻表
// 说明：只保留终点在行车道上且带有预计算路径的驾车trip，不含有效trip的schedule被丢弃
func (s *Schedule) Set(base []*tripv2.Schedule, time float64) {
	s.base = make([]*tripv2.Schedule, 0, len(base))
	for _, schedule := range base {
		trips := make([]*tripv2.Trip, 0, len(schedule.Trips))
		for _, trip := range schedule.Trips {
			if err := s.checkTrip(trip); err != nil {
				log.Warnf("skip trip %v: %v", trip, err)
				continue
			}
			trips = append(trips, trip)
		}
		if len(trips) > 0 {
			schedule.Trips = trips
			s.base = append(s.base, schedule)
		}
	}
	s.ScheduleIndex, s.TripIndex, s.loop = 0, 0, 0
	s.lastEnd = time
	if len(s.base) > 0 {
		s.lastEnd = startAt(s.base[0].DepartureTime, s.base[0].WaitTime, time)
	}
}

// NextTrip 当前trip结束于time，进入下一个trip
// 返回：false表示所有schedule都已完成
func (s *Schedule) NextTrip(time float64) bool {
	if len(s.base) == 0 {
		return false
	}
	s.lastEnd = time
	cur := s.base[s.ScheduleIndex]
	if s.TripIndex++; s.TripIndex < int32(len(cur.Trips)) {
		return true
	}
	s.TripIndex = 0
	if s.loop++; cur.LoopCount == 0 || s.loop < cur.LoopCount {
		return true
	}
	s.loop = 0
	if s.ScheduleIndex++; s.ScheduleIndex == int32(len(s.base)) {
		s.base, s.ScheduleIndex = nil, 0
		return false
	}
	next := s.base[s.ScheduleIndex]
	s.lastEnd = startAt(next.DepartureTime, next.WaitTime, time)
	return true
}

// GetTrip 当前trip，没有时为nil
func (s *Schedule) GetTrip() *tripv2.Trip {
	if int(s.ScheduleIndex) >= len(s.base) {
		return nil
	}
	trips := s.base[s.ScheduleIndex].Trips
	if int(s.TripIndex) >= len(trips) {
		return nil
	}
	return trips[s.TripIndex]
}

// GetDepartureTime 当前trip的出发时间，没有trip时为INF
// 说明：trip的出发时间优先，其次为上一次结束时间加等待时间
func (s *Schedule) GetDepartureTime() float64 {
	trip := s.GetTrip()
	if trip == nil {
		return mathutil.INF
	}
	return startAt(trip.DepartureTime, trip.WaitTime, s.lastEnd)
}

// startAt 出发时间优先，其次为after加等待时间
func startAt(departure, wait *float64, after float64) float64 {
	if departure != nil {
		return *departure
	}
	if wait != nil {
		return after + *wait
	}
	return after
}

// checkTrip 驾车trip的终点必须是行车道上的有效位置，且带有预计算路径
func (s *Schedule) checkTrip(trip *tripv2.Trip) error {
	if trip.Mode != tripv2.TripMode_TRIP_MODE_DRIVE_ONLY {
		return fmt.Errorf("unsupported mode %v", trip.Mode)
	}
	if len(trip.Routes) == 0 {
		return fmt.Errorf("no preroute")
	}
	pos := trip.GetEnd().GetLanePosition()
	if pos == nil {
		return fmt.Errorf("no end lane position")
	}
	lane, err := s.ctx.LaneManager().GetOrError(pos.LaneId)
	if err != nil {
		return err
	}
	if lane.Type() != mapv2.LaneType_LANE_TYPE_DRIVING {
		return fmt.Errorf("lane %d is not driving lane", pos.LaneId)
	}
	if pos.S < 0 || pos.S > lane.Length() {
		return fmt.Errorf("s=%v out of lane %d range", pos.S, pos.LaneId)
	}
	return nil
}
