// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"sync"
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
)

/* FakeTransport is an in-memory stand-in for the kernel module transport,
used by the dispatcher and storage unit test suites to drive the exact
same Transact/Provision/Unprovision contract without a kernel module or
root. A test injects requests with Submit and reads back completed
responses with Await; everything else behaves the way the real
transport's contract promises. */
type FakeTransport struct {
	log *tools.Nixomosetools_logger

	mutex     sync.Mutex
	cond      *sync.Cond
	nextBtl   u16
	units     map[Btl]*fakeUnit
	opened    bool
}

type fakeUnit struct {
	params    StorageUnitParams
	timeoutMs u32
	closed    bool

	pendingRequests  []Request
	pendingResponses map[u64]Response
}

// NewFakeTransport constructs an unopened FakeTransport ready for Open.
func NewFakeTransport(log *tools.Nixomosetools_logger) *FakeTransport {
	var t = &FakeTransport{
		log:   log,
		units: make(map[Btl]*fakeUnit),
	}
	t.cond = sync.NewCond(&t.mutex)
	return t
}

func (t *FakeTransport) Open(hwid string) tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.opened = true
	return nil
}

func (t *FakeTransport) Close() tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.opened = false
	for _, unit := range t.units {
		unit.closed = true
	}
	t.cond.Broadcast()
	return nil
}

func (t *FakeTransport) Provision(params StorageUnitParams) (tools.Ret, Btl) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.nextBtl++
	var btl = Btl{Bus: 0, Target: 0, Lun: t.nextBtl}
	t.units[btl] = &fakeUnit{
		params:           params,
		pendingResponses: make(map[u64]Response),
	}
	return nil, btl
}

func (t *FakeTransport) Unprovision(btl Btl) tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl)
	}
	unit.closed = true
	delete(t.units, btl)
	t.cond.Broadcast()
	return nil
}

func (t *FakeTransport) List() (tools.Ret, []Btl) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var result = make([]Btl, 0, len(t.units))
	for btl := range t.units {
		result = append(result, btl)
	}
	return nil, result
}

func (t *FakeTransport) SetTransactTimeout(btl Btl, timeoutmilliseconds u32) tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl)
	}
	unit.timeoutMs = timeoutmilliseconds
	return nil
}

// Transact implements the real contract: record response against its
// hint if it carries one, then block until a request has been queued
// with Submit (or the unit is unprovisioned/closed, in which case it
// returns an error the same way a vanished kernel device would).
func (t *FakeTransport) Transact(btl Btl, response *Response, requestOut *Request) tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl)
	}
	if response.Hint != 0 || response.Kind != KindReserved {
		unit.pendingResponses[response.Hint] = *response
		t.cond.Broadcast()
	}

	if requestOut == nil {
		return nil
	}

	for len(unit.pendingRequests) == 0 && !unit.closed {
		t.cond.Wait()
	}
	if unit.closed {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "fake unit ", btl, " unprovisioned")
	}

	*requestOut = unit.pendingRequests[0]
	unit.pendingRequests = unit.pendingRequests[1:]
	return nil
}

// Submit queues request to be handed to the next worker that calls
// Transact for btl.
func (t *FakeTransport) Submit(btl Btl, request Request) tools.Ret {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl)
	}
	unit.pendingRequests = append(unit.pendingRequests, request)
	t.cond.Broadcast()
	return nil
}

// peekResponse reports the response currently recorded for hint without
// consuming it (the zero Response if none has been recorded), for tests
// that need to check that nothing was submitted for a hint before the
// final response arrives.
func (t *FakeTransport) peekResponse(btl Btl, hint u64) (tools.Ret, Response) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl), Response{}
	}
	return nil, unit.pendingResponses[hint]
}

// Await blocks until a response has been submitted for hint on btl (by
// a worker's next Transact call after handling the request, or by a later
// SendResponse) and returns it.
func (t *FakeTransport) Await(btl Btl, hint u64) (tools.Ret, Response) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var unit, exists = t.units[btl]
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no such fake unit ", btl), Response{}
	}
	for {
		if response, ok := unit.pendingResponses[hint]; ok {
			delete(unit.pendingResponses, hint)
			return nil, response
		}
		if unit.closed {
			return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "fake unit ", btl, " unprovisioned"), Response{}
		}
		t.cond.Wait()
	}
}
