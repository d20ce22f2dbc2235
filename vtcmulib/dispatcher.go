// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"sync/atomic"

	"github.com/nixomose/nixomosegotools/tools"
	"golang.org/x/sys/unix"
)

/* StartDispatcher grows a worker pool the same way the storage-unit
runtime's own dispatcher does: rather than the caller spawning N
goroutines up front, the first worker spawns the second, the second
spawns the third, and so on until the target count is reached, each new
worker inheriting nothing but the shared StorageUnit and a shrinking
"how many more of us are there to start" counter. Every worker's only
blocking call is Transport.Transact; there is no other synchronization
between them beyond the shared error latch and the wait group that
WaitDispatcher joins them on. */

// DefaultDispatcherThreadCount reports the number of worker goroutines
// StartDispatcher uses when the caller asks for zero: the number of CPUs
// this process is allowed to run on, per sched_getaffinity, floored at
// one.
func DefaultDispatcherThreadCount() int {
	var mask unix.CPUSet
	var err = unix.SchedGetaffinity(0, &mask)
	if err != nil {
		return 1
	}
	var count = mask.Count()
	if count < 1 {
		return 1
	}
	return count
}

// StartDispatcher launches threadCount worker goroutines against unit,
// each blocking exclusively in Transact. threadCount <= 0 means
// DefaultDispatcherThreadCount(). It returns immediately; call
// WaitDispatcher to block until every worker has exited. Deferred
// completions (SendResponse) never add workers to the pool.
func (unit *StorageUnit) StartDispatcher(threadCount int) {
	if threadCount <= 0 {
		threadCount = DefaultDispatcherThreadCount()
	}
	atomic.StoreInt32(&unit.remainingWorkers, int32(threadCount))
	unit.workerWaitGroup.Add(1)
	go unit.spawnWorker(Response{})
}

// WaitDispatcher blocks until every dispatcher worker for unit has
// exited, which happens once Transact starts failing for the unit's Btl
// (typically because the unit was unprovisioned).
func (unit *StorageUnit) WaitDispatcher() {
	unit.workerWaitGroup.Wait()
}

// GetDispatcherError returns the first error latched for the unit (a
// transport error hit by a worker or by SendResponse, or a non-nil Ret
// returned by a handler), or nil if none has been latched.
func (unit *StorageUnit) GetDispatcherError() tools.Ret {
	return unit.dispatcherError.Get()
}

// spawnWorker is a pool member's entire lifetime: possibly spawn the
// next sibling, then loop transacting and handling requests until the
// transport reports an error.
func (unit *StorageUnit) spawnWorker(initialResponse Response) {
	defer unit.workerWaitGroup.Done()

	var remaining = atomic.AddInt32(&unit.remainingWorkers, -1)
	if remaining > 0 {
		unit.workerWaitGroup.Add(1)
		go unit.spawnWorker(Response{})
	}

	unit.workerLoop(initialResponse)
}

// workerLoop submits response (the zero Response the first time through)
// and blocks for the next request, handles it, and repeats with whatever
// response handling produced, until Transact fails. A response left
// StatusPending by a deferred handler is never actually submitted: it's
// replaced with the zero Response first, the same way the original's
// worker nulls out the response pointer entirely before transacting when
// it sees the same sentinel. The real answer only goes out later, through
// SendResponse.
func (unit *StorageUnit) workerLoop(response Response) {
	for {
		if response.Status.ScsiStatus == StatusPending {
			response = Response{}
		}
		var request Request
		var ret = unit.transport.Transact(unit.btl, &response, &request)
		if ret != nil {
			unit.dispatcherError.Latch(ret)
			unit.debugf(DebugLogDispatch, "worker for ", unit.btl, " exiting: ", ret.Get_errmsg())
			return
		}
		if request.Kind == KindReserved && request.Hint == 0 {
			// spurious wakeup, nothing to do, go back to blocking with no
			// response to submit.
			response = Response{}
			continue
		}
		response = unit.handleRequest(request)
	}
}

// handleRequest builds an OperationContext for request, dispatches it to
// the matching handler in the unit's Interface, and returns the response
// to submit on the worker's next Transact call. A request kind with no
// registered handler, or one whose handler defers completion, is handled
// without ever touching caller code beyond the handler itself.
func (unit *StorageUnit) handleRequest(request Request) Response {
	var ctx = OperationContext{
		Unit:    unit,
		Hint:    request.Hint,
		Kind:    request.Kind,
		Request: request,
	}
	ctx.Response.Hint = request.Hint
	ctx.Response.Kind = request.Kind

	var handler = unit.iface.handlerFor(request.Kind)
	if handler == nil {
		ctx.Response.Status.ScsiStatus = ScsiStatusCheckCondition
		ctx.Response.Status.SenseData = IllegalRequestSense()
		unit.debugf(DebugLogDispatch, "no handler registered for ", request.Kind, ", hint ", request.Hint)
		return ctx.Response
	}

	unit.debugf(DebugLogDispatch, "dispatching ", request.Kind, " hint ", request.Hint)
	var ret = handler(&ctx)
	if ret != nil {
		unit.dispatcherError.Latch(ret)
	}
	return ctx.Response
}
