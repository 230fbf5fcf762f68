package clearinghouse

import (
	"github.com/gammazero/deque"

	"github.com/suprabook/chainbook/model/book"
)

// level is one price level's resting orders, FIFO by sequence number
// (§3, §4.4). gammazero/deque gives O(1) push-back/pop-front, which is
// exactly the access pattern price-time matching needs: new orders join
// the back, fills consume from the front.
type level struct {
	price uint64
	q     deque.Deque
}

func newLevel(price uint64) *level {
	return &level{price: price}
}

func (l *level) pushBack(o *book.Order) {
	l.q.PushBack(o)
}

func (l *level) front() *book.Order {
	if l.q.Len() == 0 {
		return nil
	}
	return l.q.Front().(*book.Order)
}

func (l *level) popFront() {
	l.q.PopFront()
}

func (l *level) empty() bool {
	return l.q.Len() == 0
}

// remove deletes the order with the given id from this level, if present.
func (l *level) remove(orderID uint64) (*book.Order, bool) {
	for i := 0; i < l.q.Len(); i++ {
		o := l.q.At(i).(*book.Order)
		if o.ID == orderID {
			l.q.Remove(i)
			return o, true
		}
	}
	return nil, false
}

func (l *level) size() int {
	return l.q.Len()
}
