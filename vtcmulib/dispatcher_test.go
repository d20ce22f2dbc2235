// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"sync"
	"testing"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
)

// TestDispatcherPoolServicesConcurrentRequests covers the fan-out
// property directly: threadCount workers should be able to make forward
// progress on threadCount requests that all block until released
// together, proving they really do run concurrently rather than one
// worker serializing everything.
func TestDispatcherPoolServicesConcurrentRequests(t *testing.T) {
	const workerCount = 4

	var release = make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(workerCount)

	var iface = Interface{
		ReadHandler: func(ctx *OperationContext) tools.Ret {
			arrived.Done()
			<-release
			ctx.Good()
			return nil
		},
	}

	var transport, unit = newTestUnit(t, iface)
	unit.StartDispatcher(workerCount)
	defer unit.WaitDispatcher()

	for i := u64(0); i < workerCount; i++ {
		var request = Request{Hint: i + 1, Kind: KindRead, Read: ReadWriteOp{BlockAddress: i}}
		if ret := transport.Submit(unit.Btl(), request); ret != nil {
			t.Fatalf("submit: %v", ret.Get_errmsg())
		}
	}

	var done = make(chan struct{})
	go func() {
		arrived.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("not all %d workers reached the handler concurrently", workerCount)
	}

	close(release)

	for i := u64(0); i < workerCount; i++ {
		var ret, _ = transport.Await(unit.Btl(), i+1)
		if ret != nil {
			t.Fatalf("await hint %d: %v", i+1, ret.Get_errmsg())
		}
	}

	unit.Delete()
}

// TestDispatcherErrorLatchesFirstOnly covers the single-writer error cell:
// once the transport goes away, every worker sees the same latched
// error, and the first one to record it wins.
func TestDispatcherErrorLatchesFirstOnly(t *testing.T) {
	var _, unit = newTestUnit(t, Interface{})
	unit.StartDispatcher(3)

	unit.Delete()
	unit.WaitDispatcher()

	if unit.GetDispatcherError() == nil {
		t.Fatalf("expected a dispatcher error to be latched after unprovisioning")
	}

	var first = unit.GetDispatcherError()
	if unit.dispatcherError.Latch(tools.Error(testLogger(), "a later error")) {
		t.Fatalf("expected a later Latch to lose to the first latched error")
	}
	if unit.GetDispatcherError().Get_errmsg() != first.Get_errmsg() {
		t.Fatalf("expected the first latched error to stay latched, got %v", unit.GetDispatcherError().Get_errmsg())
	}
}

func TestDefaultDispatcherThreadCountIsAtLeastOne(t *testing.T) {
	if DefaultDispatcherThreadCount() < 1 {
		t.Fatalf("expected default thread count to be at least 1")
	}
}
