package buffer

import (
	"container/list"
	"sync"
)

var _ IReplacer = &LruReplacer{}

// LruReplacer keeps evictable frames in access order: front is most recently unpinned, back is
// the victim. The element map gives O(1) Erase, the list gives O(1) Insert and Victim.
type LruReplacer struct {
	order    *list.List
	elements map[int]*list.Element
	lock     sync.Mutex
}

func NewLruReplacer() *LruReplacer {
	return &LruReplacer{
		order:    list.New(),
		elements: map[int]*list.Element{},
	}
}

func (l *LruReplacer) Insert(frameID int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if e, ok := l.elements[frameID]; ok {
		l.order.MoveToFront(e)
		return
	}
	l.elements[frameID] = l.order.PushFront(frameID)
}

func (l *LruReplacer) Victim() (int, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	e := l.order.Back()
	if e == nil {
		return 0, false
	}

	frameID := e.Value.(int)
	l.order.Remove(e)
	delete(l.elements, frameID)
	return frameID, true
}

func (l *LruReplacer) Erase(frameID int) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	e, ok := l.elements[frameID]
	if !ok {
		return false
	}

	l.order.Remove(e)
	delete(l.elements, frameID)
	return true
}

func (l *LruReplacer) Size() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.order.Len()
}
