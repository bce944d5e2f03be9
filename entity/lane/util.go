package lane

import (
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/container"
)

// laneList 车道上的车辆链表
// 功能：缓冲式添加和删除，更新阶段可并发调用add/remove，prepare时统一生效
// 泛型参数：T-列表元素类型，E-侧链数据类型
type laneList[T container.IHasLength, E any] struct {
	list              *container.List[T, E]
	addBuffer         []*container.ListNode[T, E]
	addBufferMutex    sync.Mutex
	removeBuffer      []*container.ListNode[T, E]
	removeBufferMutex sync.Mutex
}

func newLaneList[T container.IHasLength, E any](id string) *laneList[T, E] {
	return &laneList[T, E]{
		list: &container.List[T, E]{
			ID: id,
		},
	}
}

// prepare 将缓冲区中的操作应用到主列表
// 算法说明：
// 1. 先删除，再取出因位置更新而失序的节点
// 2. 失序节点与新节点一起归并回链表
func (l *laneList[T, E]) prepare() {
	for _, v := range l.removeBuffer {
		l.list.Remove(v)
	}
	unsorted := l.list.PopUnsorted()
	l.list.Merge(append(l.addBuffer, unsorted...))
	l.removeBuffer = l.removeBuffer[:0]
	l.addBuffer = l.addBuffer[:0]
}

func (l *laneList[T, E]) add(node *container.ListNode[T, E]) {
	if node.Parent() != nil {
		log.Panicf("add node %v who has parent %v", node, node.Parent())
	}
	l.addBufferMutex.Lock()
	l.addBuffer = append(l.addBuffer, node)
	l.addBufferMutex.Unlock()
}

func (l *laneList[T, E]) remove(node *container.ListNode[T, E]) {
	if node.Parent() != l.list {
		log.Panicf("remove node %v (parent=%v) from wrong parent %v", node, node.Parent(), l.list)
	}
	l.removeBufferMutex.Lock()
	l.removeBuffer = append(l.removeBuffer, node)
	l.removeBufferMutex.Unlock()
}
