package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-lmrs/utils/container"
)

type car struct {
	id     int
	length float64
}

func (c car) Length() float64 {
	return c.length
}

type node = container.ListNode[car, struct{}]

func newNode(s float64, id int) *node {
	return &node{S: s, Value: car{id: id, length: 4}}
}

func TestListInit(t *testing.T) {
	l := &container.List[car, struct{}]{}
	assert.Nil(t, l.First())
	assert.Nil(t, l.Last())
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.FirstAhead(0))
	assert.Nil(t, l.LastBehind(0))
}

func TestListOperation(t *testing.T) {
	l := &container.List[car, struct{}]{ID: "test"}

	// 1
	n1 := newNode(1, 1)
	l.PushBack(n1)
	// 2, 1
	n2 := newNode(2, 2)
	l.PushFront(n2)
	// 3, 2, 1
	n3 := newNode(3, 3)
	n2.InsertBefore(n3)
	// 3, 2, 1, 4
	n4 := newNode(4, 4)
	n1.InsertAfter(n4)
	require.Equal(t, 4, l.Len())

	assert.Equal(t, n3, l.First())
	assert.Equal(t, n2, n3.Next())
	assert.Equal(t, n1, n2.Next())
	assert.Equal(t, n1, n1.Next().Prev())
	assert.Equal(t, n1, n1.Prev().Next())
	assert.Equal(t, n4, l.Last())
	assert.Equal(t, l, n4.Parent())

	// 0, 3, 2, 1, 4
	n0 := newNode(0, 0)
	l.PushFront(n0)
	unsorted := l.PopUnsorted()
	assert.ElementsMatch(t, []*node{n2, n1}, unsorted)
	assert.Equal(t, 3, l.Len())

	l.Merge(unsorted)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, l.Keys())
	assert.Equal(t, 5, l.Len())

	l.Remove(n4)
	assert.Equal(t, n3, l.Last())
	assert.Equal(t, 4, l.Len())
	assert.Nil(t, n4.Parent())
}

func TestListSearch(t *testing.T) {
	l := &container.List[car, struct{}]{}
	l.Merge([]*node{newNode(30, 3), newNode(10, 1), newNode(20, 2)})
	assert.Equal(t, []float64{10, 20, 30}, l.Keys())

	assert.Equal(t, 2, l.FirstAhead(15).Value.id)
	assert.Equal(t, 2, l.FirstAhead(20).Value.id)
	assert.Nil(t, l.FirstAhead(31))
	assert.Equal(t, 1, l.LastBehind(20).Value.id)
	assert.Nil(t, l.LastBehind(10))
	assert.Equal(t, 16.0, l.FirstAhead(15).Tail())
}

func TestListMergeEqualKeys(t *testing.T) {
	l := &container.List[car, struct{}]{}
	old := newNode(5, 1)
	l.PushBack(old)
	a, b := newNode(5, 2), newNode(5, 3)
	l.Merge([]*node{a, b})
	assert.Equal(t, []car{a.Value, b.Value, old.Value}, l.Values())
}

type elem struct {
	container.IncrementalItemBase
	id int
}

func ids(a *container.IncrementalArray[*elem]) []int {
	out := make([]int, 0, a.Len())
	for i, e := range a.Data() {
		if e.Index() != i {
			panic("bad index")
		}
		out = append(out, e.id)
	}
	return out
}

func TestIncrementalArray(t *testing.T) {
	a := container.NewIncrementalArray[*elem]()
	es := make([]*elem, 5)
	for i := range es {
		es[i] = &elem{id: i}
		a.Add(es[i])
	}
	add, remove := a.Pending()
	assert.Equal(t, 5, add)
	assert.Equal(t, 0, remove)
	a.Prepare()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ids(a))

	// 增多于删
	a.Remove(es[1])
	e5, e6 := &elem{id: 5}, &elem{id: 6}
	a.Add(e5)
	a.Add(e6)
	a.Prepare()
	assert.Equal(t, []int{0, 5, 2, 3, 4, 6}, ids(a))

	// 删多于增，包括末尾元素
	a.Remove(es[0])
	a.Remove(e6)
	a.Remove(es[2])
	a.Prepare()
	assert.ElementsMatch(t, []int{5, 3, 4}, ids(a))
	assert.Equal(t, 3, a.Len())
}

func TestPriorityQueue(t *testing.T) {
	q := container.NewPriorityQueue[string]()
	q.Push("c", 3)
	q.Push("a", 1)
	q.Push("b1", 2)
	q.Heapify()
	q.HeapPush("b2", 2)
	q.HeapPush("z", 10)

	v, p := q.First()
	assert.Equal(t, "a", v)
	assert.Equal(t, 1.0, p)

	assert.Equal(t, []string{"a", "b1", "b2"}, q.PopUntil(2))
	v, p = q.HeapPop()
	assert.Equal(t, "c", v)
	assert.Equal(t, 3.0, p)
	assert.Empty(t, q.PopUntil(9))
	assert.Equal(t, 1, q.Len())
}
