package container

import (
	"sync"

	"golang.org/x/exp/slices"
)

// IIncrementalItem 增量数组元素，记录自身在数组中的下标
type IIncrementalItem interface {
	Index() int
	SetIndex(index int)
}

// IncrementalItemBase 可嵌入的IIncrementalItem实现
type IncrementalItemBase struct {
	index int
}

func (b *IncrementalItemBase) Index() int {
	return b.index
}

func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 增量数组
// 功能：保存仿真中活跃的智能体。Add/Remove可在更新阶段并发调用，Prepare时统一生效
// 说明：删除通过交换填补空位，元素顺序不稳定
type IncrementalArray[T IIncrementalItem] struct {
	data        []T
	add         []T
	remove      []T
	addMutex    sync.Mutex
	removeMutex sync.Mutex
}

func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{}
}

func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 已生效的元素，调用方不得修改
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Pending 等待生效的增加与删除数量
func (a *IncrementalArray[T]) Pending() (add, remove int) {
	a.addMutex.Lock()
	add = len(a.add)
	a.addMutex.Unlock()
	a.removeMutex.Lock()
	remove = len(a.remove)
	a.removeMutex.Unlock()
	return
}

// Add 增加元素（Prepare后生效）
func (a *IncrementalArray[T]) Add(value T) {
	a.addMutex.Lock()
	defer a.addMutex.Unlock()
	a.add = append(a.add, value)
}

// Remove 删除元素（Prepare后生效），同一元素在一次Prepare前只能删除一次
func (a *IncrementalArray[T]) Remove(value T) {
	a.removeMutex.Lock()
	defer a.removeMutex.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 应用所有增删
// 算法说明：
// 1. 新元素依次填入被删除元素的位置
// 2. 新元素有剩余时追加到末尾
// 3. 删除有剩余时，按下标从大到小处理，用末尾元素填补空位
func (a *IncrementalArray[T]) Prepare() {
	n := min(len(a.add), len(a.remove))
	for i := 0; i < n; i++ {
		ind := a.remove[i].Index()
		a.data[ind] = a.add[i]
		a.data[ind].SetIndex(ind)
	}
	for _, x := range a.add[n:] {
		x.SetIndex(len(a.data))
		a.data = append(a.data, x)
	}
	rest := a.remove[n:]
	slices.SortFunc(rest, func(x, y T) int { return y.Index() - x.Index() })
	for _, x := range rest {
		ind := x.Index()
		last := len(a.data) - 1
		if ind != last {
			a.data[ind] = a.data[last]
			a.data[ind].SetIndex(ind)
		}
		a.data = a.data[:last]
	}
	a.add = a.add[:0]
	a.remove = a.remove[:0]
}
