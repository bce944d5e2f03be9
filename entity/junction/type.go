package junction

import (
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// 依赖倒置，表达junction对信号灯实现的接口需求

// 信号灯接口
type ITrafficLight interface {
	Get() *mapv2.TrafficLight // 当前程序
	Step() int32              // 当前相位
	RemainingTime() float64   // 当前相位剩余时长
	Ok() bool                 // 是否有生效的程序

	Prepare()                         // 准备阶段，将信控结果写入到lane中
	Update(dt float64)                // 更新阶段，更新信控结果
	Set(tl *mapv2.TrafficLight) error // 修改信控程序
}
