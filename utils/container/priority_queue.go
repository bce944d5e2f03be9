package container

import "container/heap"

type item[T any] struct {
	value    T
	priority float64
	seq      uint64 // 入队序号，优先级相同时先入先出
}

type priorityQueue[T any] []*item[T]

func (pq priorityQueue[T]) Len() int { return len(pq) }

func (pq priorityQueue[T]) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue[T]) Push(x any) {
	*pq = append(*pq, x.(*item[T]))
}

func (pq *priorityQueue[T]) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

// PriorityQueue 最小优先队列
// 功能：按时间排列的待出发车辆，优先级数值越小越先出队，相同优先级按入队顺序
type PriorityQueue[T any] struct {
	queue priorityQueue[T]
	seq   uint64
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.queue)
}

// First 优先级数值最小的元素与其优先级，队列为空时panic
func (q *PriorityQueue[T]) First() (T, float64) {
	return q.queue[0].value, q.queue[0].priority
}

// Push 追加元素但不维护堆，批量追加后调用Heapify
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.queue = append(q.queue, &item[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

// Heapify 重建堆
func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.queue)
}

// HeapPush 入队
func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.queue, &item[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

// HeapPop 出队
func (q *PriorityQueue[T]) HeapPop() (T, float64) {
	it := heap.Pop(&q.queue).(*item[T])
	return it.value, it.priority
}

// PopUntil 弹出所有优先级数值不大于limit的元素，按出队顺序返回
func (q *PriorityQueue[T]) PopUntil(limit float64) []T {
	var out []T
	for q.Len() > 0 && q.queue[0].priority <= limit {
		v, _ := q.HeapPop()
		out = append(out, v)
	}
	return out
}
