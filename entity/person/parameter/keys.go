package parameter

import (
	"fmt"

	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
)

// Key 参数名
type Key string

// 参数名，单位均为SI
const (
	A      Key = "a"      // 最大期望加速度 m/s^2
	B      Key = "b"      // 舒适减速度（正值）m/s^2
	B0     Key = "b0"     // 自由流项的最大减速度（正值）m/s^2
	BCrit  Key = "bCrit"  // 临界减速度（正值）m/s^2
	S0     Key = "s0"     // 静止安全距离 m
	T      Key = "T"      // 当前期望车头时距 s
	TMin   Key = "Tmin"   // 最小期望车头时距 s
	TMax   Key = "Tmax"   // 最大期望车头时距 s
	Tau    Key = "tau"    // 车头时距松弛时间 s
	Delta  Key = "delta"  // IDM自由加速度指数
	FSpeed Key = "fSpeed" // 期望速度相对限速的系数
	VMax   Key = "vMax"   // 车辆最大速度 m/s
	DT     Key = "dt"     // 决策步长 s
	Sigma  Key = "sigma"  // 随机跟驰模型噪声标准差 m/s^2

	DFree   Key = "dFree"   // 自由换道阈值
	DSync   Key = "dSync"   // 同步阈值
	DCoop   Key = "dCoop"   // 合作（打灯）阈值
	DLeft   Key = "dLeft"   // 当前向左换道意愿（对外发布）
	DRight  Key = "dRight"  // 当前向右换道意愿（对外发布）
	DLC     Key = "dlc"     // 最近一次换道时的意愿
	X0      Key = "x0"      // 预期距离 m
	T0      Key = "t0"      // 预期时间 s
	LC      Key = "lc"      // 换道持续时间 s
	VCong   Key = "vCong"   // 拥堵速度阈值 m/s
	VGain   Key = "vGain"   // 速度增益参数 m/s
	Socio   Key = "socio"   // 礼让敏感度
	LambdaV Key = "lambdaV" // 自愿意愿权重

	S0Conf     Key = "s0conf"     // 冲突区前的停车距离 m
	TimeFactor Key = "timeFactor" // 冲突区时间估计安全系数
	MinGap     Key = "minGap"     // 冲突区最小时间间隙 s
	StopArea   Key = "stopArea"   // 停车线前视为已到达的范围 m
)

// Defaults 返回LMRS的默认参数
func Defaults() *Parameters {
	p := New()
	for k, v := range map[Key]float64{
		A:      1.25,
		B:      2.09,
		B0:     0.5,
		BCrit:  3.5,
		S0:     3.0,
		T:      1.2,
		TMin:   0.56,
		TMax:   1.2,
		Tau:    25,
		Delta:  4,
		FSpeed: 1,
		VMax:   50,
		DT:     0.5,
		Sigma:  0.2,

		DFree:   0.365,
		DSync:   0.577,
		DCoop:   0.788,
		DLeft:   0,
		DRight:  0,
		X0:      295,
		T0:      43,
		LC:      3,
		VCong:   60 / 3.6,
		VGain:   69.6 / 3.6,
		Socio:   0.5,
		LambdaV: 1,

		S0Conf:     1.5,
		TimeFactor: 1.25,
		MinGap:     1e-6,
		StopArea:   4,
	} {
		p.values[k] = v
	}
	return p
}

// FromVehicleAttribute 根据车辆属性构造参数
// 功能：在默认参数基础上用车辆属性覆盖物理相关参数
// 参数：attr-车辆属性
// 返回：参数表，属性不合法时返回ErrInvalidValue
// 算法说明：
// 1. 检查属性取值范围（加速度符号、长度、安全距离等）
// 2. a、b、bCrit分别取常用加速度、常用减速度、最大减速度
// 3. 车头时距大于0时同时作为T与Tmax，Tmin不超过Tmax
// 4. 限速识别偏差作为期望速度系数
func FromVehicleAttribute(attr *personv2.VehicleAttribute) (*Parameters, error) {
	if attr == nil {
		return Defaults(), nil
	}
	check := func(key Key, ok bool, v float64) error {
		if !ok {
			return &Error{Key: key, Err: fmt.Errorf("%w: %v", ErrInvalidValue, v)}
		}
		return nil
	}
	for _, c := range []struct {
		key Key
		ok  bool
		v   float64
	}{
		{VMax, attr.MaxSpeed > 0, attr.MaxSpeed},
		{A, attr.UsualAcceleration > 0, attr.UsualAcceleration},
		{B, attr.UsualBrakingAcceleration < 0, attr.UsualBrakingAcceleration},
		{BCrit, attr.MaxBrakingAcceleration < 0, attr.MaxBrakingAcceleration},
		{S0, attr.MinGap >= 0, attr.MinGap},
		{T, attr.Headway >= 0, attr.Headway},
	} {
		if err := check(c.key, c.ok, c.v); err != nil {
			return nil, err
		}
	}
	if attr.MaxBrakingAcceleration > attr.UsualBrakingAcceleration {
		return nil, &Error{Key: BCrit, Err: fmt.Errorf("%w: max braking %v weaker than usual braking %v",
			ErrInvalidValue, attr.MaxBrakingAcceleration, attr.UsualBrakingAcceleration)}
	}
	p := Defaults()
	p.values[VMax] = attr.MaxSpeed
	p.values[A] = attr.UsualAcceleration
	p.values[B] = -attr.UsualBrakingAcceleration
	p.values[BCrit] = -attr.MaxBrakingAcceleration
	p.values[S0] = attr.MinGap
	if attr.Headway > 0 {
		p.values[TMax] = attr.Headway
		p.values[T] = attr.Headway
		p.values[TMin] = min(p.values[TMin], attr.Headway)
	}
	if attr.LaneMaxSpeedRecognitionDeviation > 0 {
		p.values[FSpeed] = attr.LaneMaxSpeedRecognitionDeviation
	}
	return p, nil
}
