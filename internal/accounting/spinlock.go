package accounting

import (
	"runtime"
	"sync/atomic"
)

// spinlock guards the short read-check-update critical sections around a
// peer's balance and reservations. It exists because prepare_credit and
// prepare_debit are the hot path every message transfer goes through (spec
// §9): a blocking mutex would be fine functionally, but the spec calls out
// that nothing on this path may allocate or suspend a goroutine, so the
// critical section is kept to a few instructions and guarded with a CAS
// loop instead of channel or sync.Mutex machinery.
type spinlock struct {
	state int32
}

func (s *spinlock) lock() {
	for !atomic.CompareAndSwapInt32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) unlock() {
	atomic.StoreInt32(&s.state, 0)
}
