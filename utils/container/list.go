package container

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

var log = logrus.WithField("module", "container")

// IHasLength 链表元素接口，车辆作为链表元素时只需提供自身长度
type IHasLength interface {
	Length() float64
}

// ListNode 按位置排序的双向链表节点
// 说明：S为排序键（车辆车头在车道上的位置），Extra为每个节点附带的侧链信息
type ListNode[T IHasLength, E any] struct {
	parent     *List[T, E]
	prev, next *ListNode[T, E]
	S          float64
	Value      T
	Extra      E
}

func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{S:%v, Value:%v}", n.S, n.Value)
}

func (n *ListNode[T, E]) Prev() *ListNode[T, E] {
	return n.prev
}

func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// Parent 节点所在链表，不在链表中时为nil
func (n *ListNode[T, E]) Parent() *List[T, E] {
	return n.parent
}

// L 节点元素长度
func (n *ListNode[T, E]) L() float64 {
	return n.Value.Length()
}

// Tail 节点元素车尾的位置
func (n *ListNode[T, E]) Tail() float64 {
	return n.S - n.Value.Length()
}

// InsertBefore 在节点前插入新节点
func (n *ListNode[T, E]) InsertBefore(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("insert node %v which is already in list %v", add, add.parent)
	}
	add.parent = n.parent
	add.next = n
	add.prev = n.prev
	n.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		add.parent.head = add
	}
	n.parent.length++
}

// InsertAfter 在节点后插入新节点
func (n *ListNode[T, E]) InsertAfter(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("insert node %v which is already in list %v", add, add.parent)
	}
	add.parent = n.parent
	add.prev = n
	add.next = n.next
	n.next = add
	if add.next != nil {
		add.next.prev = add
	} else {
		add.parent.tail = add
	}
	n.parent.length++
}

// List 按S升序排列的双向链表
// 功能：车道上的车辆占用表，head为最靠近车道起点的车辆
type List[T IHasLength, E any] struct {
	ID         string
	head, tail *ListNode[T, E]
	length     int
}

func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v, Len:%d}", l.ID, l.length)
}

// Keys 所有节点的S
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		keys = append(keys, node.S)
	}
	return keys
}

// Values 所有节点的值
func (l *List[T, E]) Values() []T {
	values := make([]T, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		values = append(values, node.Value)
	}
	return values
}

func (l *List[T, E]) Len() int {
	return l.length
}

func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

// PushFront 插入到链表头部
func (l *List[T, E]) PushFront(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("push node %v which is already in list %v", add, add.parent)
	}
	add.next, add.prev = nil, nil
	if l.head == nil {
		add.parent = l
		l.head, l.tail = add, add
		l.length++
		return
	}
	l.head.InsertBefore(add)
}

// PushBack 插入到链表尾部
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("push node %v which is already in list %v", add, add.parent)
	}
	add.next, add.prev = nil, nil
	if l.tail == nil {
		add.parent = l
		l.head, l.tail = add, add
		l.length++
		return
	}
	l.tail.InsertAfter(add)
}

// Remove 移除节点
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panicf("remove node %v from wrong list %v", node, l)
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next, node.parent = nil, nil, nil
	l.length--
}

// PopUnsorted 移除并返回所有比前驱节点S更小的节点，剩余链表保持升序
func (l *List[T, E]) PopUnsorted() (unsorted []*ListNode[T, E]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 批量插入节点
// 算法说明：
// 1. 对待插入节点按S稳定排序
// 2. 与链表做一次归并，S相等时新节点排在已有节点之前
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	slices.SortStableFunc(adds, func(a, b *ListNode[T, E]) int {
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		default:
			return 0
		}
	})
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}

// FirstAhead 第一个S不小于s的节点，不存在时为nil
func (l *List[T, E]) FirstAhead(s float64) *ListNode[T, E] {
	node := l.head
	for node != nil && node.S < s {
		node = node.next
	}
	return node
}

// LastBehind 最后一个S小于s的节点，不存在时为nil
func (l *List[T, E]) LastBehind(s float64) *ListNode[T, E] {
	node := l.tail
	for node != nil && node.S >= s {
		node = node.prev
	}
	return node
}
