package kernel

import (
	"sync"

	"github.com/vireo-os/vireo/internal/concurrency"
	"github.com/vireo-os/vireo/internal/kerrors"
)

// PIDAllocator is a bounded ID allocator: PIDs are drawn from a fixed
// range and reused only after an explicit release, never reissued while
// still held by a live task. The free-list and high-water mark are
// small, rarely-contended state behind a plain mutex; inUse membership is
// read through IsLive, which has no reason to also contend the allocation
// path, so it lives in a lock-free map instead.
type PIDAllocator struct {
	mu     sync.Mutex
	free   []uint32
	next   uint32
	maxPID uint32

	inUse *concurrency.LockFreeMap[uint32, bool]
}

// NewPIDAllocator creates an allocator over [1, maxPID]; PID 0 is
// reserved for the kernel's own bootstrap identity.
func NewPIDAllocator(maxPID uint32) *PIDAllocator {
	return &PIDAllocator{
		inUse:  concurrency.NewLockFreeMap[uint32, bool](1024, func(k uint32) uint64 { return uint64(k) }),
		next:   1,
		maxPID: maxPID,
	}
}

// Alloc returns an unused PID, preferring a released one over growing the
// high-water mark.
func (a *PIDAllocator) Alloc() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		pid := a.free[n-1]
		a.free = a.free[:n-1]
		a.inUse.Store(pid, true)
		return pid, nil
	}

	if a.next > a.maxPID {
		return 0, kerrors.OutOfPIDs()
	}

	pid := a.next
	a.next++
	a.inUse.Store(pid, true)
	return pid, nil
}

// Release returns pid to the free pool. Releasing a PID not currently
// held is a no-op; the scheduler never calls this twice for the same
// task because a ZOMBIE task's PID is released exactly once, by its
// successor.
func (a *PIDAllocator) Release(pid uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if live, ok := a.inUse.Load(pid); !ok || !live {
		return
	}
	a.inUse.Delete(pid)
	a.free = append(a.free, pid)
}

// IsLive reports whether pid currently belongs to a live task, without
// contending the allocation path's mutex.
func (a *PIDAllocator) IsLive(pid uint32) bool {
	live, ok := a.inUse.Load(pid)
	return ok && live
}
