// Package parameter 车辆行为参数存储
// 每个智能体持有一份参数表，既保存常量（如舒适减速度b），也保存随时间变化的软状态（如当前车头时距T）。
package parameter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var (
	// ErrParameterMissing 参数不存在且没有默认值
	ErrParameterMissing = errors.New("parameter missing")
	// ErrThresholdOrder 换道意愿阈值不满足 dFree < dSync < dCoop
	ErrThresholdOrder = errors.New("desire thresholds must satisfy dFree < dSync < dCoop")
	// ErrNothingToReset 没有可恢复的临时值
	ErrNothingToReset = errors.New("no resettable value to restore")
	// ErrInvalidValue 参数取值不合法
	ErrInvalidValue = errors.New("invalid parameter value")
)

// Error 参数错误，携带出错的参数名
type Error struct {
	Key Key
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parameter %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Parameters 单个智能体的参数表
// 功能：键值存储，支持永久修改与"临时设置-恢复"两种写入方式
// 说明：只由所属智能体在自己的决策过程中读写；其他智能体看到的是Clone出的快照
type Parameters struct {
	values map[Key]float64
	saved  map[Key][]savedValue // SetResettable保存的旧值栈
}

type savedValue struct {
	value float64
	ok    bool // 设置前是否存在
}

// New 创建空参数表
func New() *Parameters {
	return &Parameters{
		values: make(map[Key]float64),
		saved:  make(map[Key][]savedValue),
	}
}

// Get 读取参数，不存在时返回ErrParameterMissing
func (p *Parameters) Get(key Key) (float64, error) {
	if v, ok := p.values[key]; ok {
		return v, nil
	}
	return 0, &Error{Key: key, Err: ErrParameterMissing}
}

// GetOr 读取参数，不存在时返回def
func (p *Parameters) GetOr(key Key, def float64) float64 {
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// Contains 参数是否存在
func (p *Parameters) Contains(key Key) bool {
	_, ok := p.values[key]
	return ok
}

// Set 永久设置参数
// 功能：写入参数值，对换道意愿阈值检查顺序约束
// 返回：违反dFree < dSync < dCoop时返回ErrThresholdOrder，且参数表不被修改
func (p *Parameters) Set(key Key, value float64) error {
	old, had := p.values[key]
	p.values[key] = value
	if err := p.checkThresholds(key); err != nil {
		if had {
			p.values[key] = old
		} else {
			delete(p.values, key)
		}
		return err
	}
	return nil
}

// SetResettable 临时设置参数，之后必须调用Reset恢复
func (p *Parameters) SetResettable(key Key, value float64) error {
	old, had := p.values[key]
	if err := p.Set(key, value); err != nil {
		return err
	}
	p.saved[key] = append(p.saved[key], savedValue{value: old, ok: had})
	return nil
}

// Reset 恢复最近一次SetResettable之前的值
func (p *Parameters) Reset(key Key) error {
	stack := p.saved[key]
	if len(stack) == 0 {
		return &Error{Key: key, Err: ErrNothingToReset}
	}
	last := stack[len(stack)-1]
	p.saved[key] = stack[:len(stack)-1]
	if last.ok {
		p.values[key] = last.value
	} else {
		delete(p.values, key)
	}
	return nil
}

// Temporarily 在key临时取值value的情况下执行fn，返回后无论成功与否都恢复原值
// 说明：fn执行期间其他逻辑不会看到这个临时值，参数表只属于当前智能体
func (p *Parameters) Temporarily(key Key, value float64, fn func() (float64, error)) (float64, error) {
	if err := p.SetResettable(key, value); err != nil {
		return 0, err
	}
	res, err := fn()
	if rErr := p.Reset(key); rErr != nil && err == nil {
		err = rErr
	}
	return res, err
}

// Apply 批量写入参数，写完后统一检查阈值顺序
// 说明：逐个Set可能在中间状态违反顺序约束（例如同时调高dSync和dCoop），因此先写后查
func (p *Parameters) Apply(values map[Key]float64) error {
	backup := lo.Assign(p.values)
	for k, v := range values {
		p.values[k] = v
	}
	if err := p.checkThresholds(DFree); err != nil {
		p.values = backup
		return err
	}
	return nil
}

// Clone 深拷贝参数表（不含临时值栈）
func (p *Parameters) Clone() *Parameters {
	return &Parameters{
		values: lo.Assign(p.values),
		saved:  make(map[Key][]savedValue),
	}
}

// Keys 返回按字母序排列的参数名
func (p *Parameters) Keys() []Key {
	keys := lo.Keys(p.values)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p *Parameters) String() string {
	parts := lo.Map(p.Keys(), func(k Key, _ int) string {
		return fmt.Sprintf("%s=%.4g", k, p.values[k])
	})
	return "{" + strings.Join(parts, " ") + "}"
}

// checkThresholds 检查 dFree < dSync < dCoop，只比较已存在的阈值
func (p *Parameters) checkThresholds(key Key) error {
	if key != DFree && key != DSync && key != DCoop {
		return nil
	}
	dFree, okFree := p.values[DFree]
	dSync, okSync := p.values[DSync]
	dCoop, okCoop := p.values[DCoop]
	if (okFree && okSync && dFree >= dSync) ||
		(okSync && okCoop && dSync >= dCoop) ||
		(okFree && okCoop && dFree >= dCoop) {
		return &Error{Key: key, Err: ErrThresholdOrder}
	}
	return nil
}
