// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"testing"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	uuid "github.com/satori/go.uuid"
)

func newTestUnit(t *testing.T, iface Interface) (*FakeTransport, *StorageUnit) {
	t.Helper()
	var transport = NewFakeTransport(testLogger())
	var params = validParams()
	params.Guid = uuid.NewV4()
	var ret, unit = Create(testLogger(), transport, "", params, iface)
	if ret != nil {
		t.Fatalf("create: %v", ret.Get_errmsg())
	}
	return transport, unit
}

// TestReadDispatch covers the S1-style scenario: a read request submitted
// through the transport reaches the registered handler and its response
// comes back through the same hint.
func TestReadDispatch(t *testing.T) {
	var seen = make(chan Request, 1)
	var iface = Interface{
		ReadHandler: func(ctx *OperationContext) tools.Ret {
			seen <- ctx.Request
			ctx.Good()
			return nil
		},
	}

	var transport, unit = newTestUnit(t, iface)
	unit.StartDispatcher(2)
	defer unit.WaitDispatcher()

	var request = Request{Hint: 7, Kind: KindRead, Read: ReadWriteOp{BlockAddress: 3, Length: 512}}
	if ret := transport.Submit(unit.Btl(), request); ret != nil {
		t.Fatalf("submit: %v", ret.Get_errmsg())
	}

	select {
	case got := <-seen:
		if got.Hint != 7 || got.Read.BlockAddress != 3 {
			t.Fatalf("handler saw unexpected request: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler was never invoked")
	}

	var ret, response = transport.Await(unit.Btl(), 7)
	if ret != nil {
		t.Fatalf("await: %v", ret.Get_errmsg())
	}
	if response.Status.ScsiStatus != ScsiStatusGood {
		t.Fatalf("expected good status, got %#x", response.Status.ScsiStatus)
	}

	if ret := unit.Delete(); ret != nil {
		t.Fatalf("delete: %v", ret.Get_errmsg())
	}
}

// TestMissingHandlerIsIllegalRequest covers a request kind with no
// registered handler: the dispatcher answers it itself, never touching
// caller code.
func TestMissingHandlerIsIllegalRequest(t *testing.T) {
	var transport, unit = newTestUnit(t, Interface{})
	unit.StartDispatcher(1)
	defer unit.WaitDispatcher()

	var request = Request{Hint: 9, Kind: KindUnmap}
	if ret := transport.Submit(unit.Btl(), request); ret != nil {
		t.Fatalf("submit: %v", ret.Get_errmsg())
	}

	var ret, response = transport.Await(unit.Btl(), 9)
	if ret != nil {
		t.Fatalf("await: %v", ret.Get_errmsg())
	}
	if response.Status.ScsiStatus != ScsiStatusCheckCondition {
		t.Fatalf("expected check condition, got %#x", response.Status.ScsiStatus)
	}
	if GetSenseKey(response.Status.SenseData) != SenseIllegalRequest {
		t.Fatalf("expected illegal request sense key, got %v", GetSenseKey(response.Status.SenseData))
	}

	unit.Delete()
}

// TestDeferredCompletion covers a handler that defers: the dispatcher
// submits nothing at all for that hint (the StatusPending sentinel never
// reaches the transport), and the real answer only shows up after the
// deferred goroutine calls SendResponse.
func TestDeferredCompletion(t *testing.T) {
	var release = make(chan struct{})
	var deferred = make(chan struct{})
	var iface = Interface{
		WriteHandler: func(ctx *OperationContext) tools.Ret {
			var hint = ctx.Hint
			var unit = ctx.Unit
			ctx.Defer()
			close(deferred)
			go func() {
				<-release
				var final Response
				final.Hint = hint
				final.Kind = KindWrite
				final.Status.ScsiStatus = ScsiStatusGood
				unit.SendResponse(final)
			}()
			return nil
		},
	}

	var transport, unit = newTestUnit(t, iface)
	unit.StartDispatcher(1)
	defer unit.WaitDispatcher()

	var request = Request{Hint: 11, Kind: KindWrite, Write: ReadWriteOp{BlockAddress: 0, Length: 512}}
	if ret := transport.Submit(unit.Btl(), request); ret != nil {
		t.Fatalf("submit: %v", ret.Get_errmsg())
	}

	select {
	case <-deferred:
	case <-time.After(time.Second):
		t.Fatalf("handler was never invoked")
	}

	// give the worker every chance to loop back into Transact with the
	// deferred response; nothing should ever be recorded for the hint
	// until SendResponse runs.
	var deadline = time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		var ret, response = transport.peekResponse(unit.Btl(), 11)
		if ret != nil {
			t.Fatalf("peek: %v", ret.Get_errmsg())
		}
		if response.Status.ScsiStatus != 0 {
			t.Fatalf("expected no response submitted while deferred, got status %#x", response.Status.ScsiStatus)
		}
		time.Sleep(time.Millisecond)
	}

	close(release)

	var ret, response = transport.Await(unit.Btl(), 11)
	if ret != nil {
		t.Fatalf("await: %v", ret.Get_errmsg())
	}
	if response.Status.ScsiStatus != ScsiStatusGood {
		t.Fatalf("expected eventual good status, got %#x", response.Status.ScsiStatus)
	}

	unit.Delete()
}
