// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"sync"
	"sync/atomic"

	"github.com/nixomose/nixomosegotools/tools"
)

// DebugLogLevel is a bitmask of which categories of debug logging a
// storage unit should emit, checked before every log call the way the
// zosbd2 client checks its own debug flags before formatting a message
// nobody will read.
type DebugLogLevel u32

const (
	DebugLogNone       DebugLogLevel = 0
	DebugLogDispatch   DebugLogLevel = 1 << 0
	DebugLogTransact   DebugLogLevel = 1 << 1
	DebugLogLifecycle  DebugLogLevel = 1 << 2
)

/* StorageUnit is one provisioned LUN plus everything needed to service
it: the transport it was provisioned through, its identity, its handler
table, and the dispatcher pool's shared state. One StorageUnit is shared
by every worker goroutine dispatching for it; the only mutable state
workers touch concurrently is dispatcherError (CAS-latched, see
DispatcherError) and the pool's own bookkeeping (remainingWorkers,
updated atomically, and workerWaitGroup). */
type StorageUnit struct {
	log       *tools.Nixomosetools_logger
	transport Transport

	btl    Btl
	params StorageUnitParams
	iface  Interface

	debugLog DebugLogLevel

	userContextMutex sync.RWMutex
	userContext      interface{}

	dispatcherError DispatcherError
	shutdownGuard   GuardedPointer[StorageUnit]

	workerWaitGroup  sync.WaitGroup
	remainingWorkers int32
}

// NewStorageUnit wraps an already-provisioned Btl in a StorageUnit ready
// to have its dispatcher pool started. Provisioning itself (asking the
// transport for a Btl) is a separate step; see Create.
func NewStorageUnit(log *tools.Nixomosetools_logger, transport Transport, btl Btl, params StorageUnitParams, iface Interface) *StorageUnit {
	var unit = &StorageUnit{
		log:       log,
		transport: transport,
		btl:       btl,
		params:    params,
		iface:     iface,
	}
	unit.shutdownGuard.Set(unit)
	return unit
}

// Create opens transport, provisions a new LUN on it, and returns the
// StorageUnit representing it. params is validated first; a unit whose
// parameters don't validate is never opened or provisioned. hwid is
// passed through to transport.Open unchanged. Create takes exclusive
// ownership of the transport's kernel channel handle: it is released
// exactly once, by Delete.
func Create(log *tools.Nixomosetools_logger, transport Transport, hwid string, params StorageUnitParams, iface Interface) (tools.Ret, *StorageUnit) {
	var ret = ValidateParams(log, params)
	if ret != nil {
		return ret, nil
	}

	var openRet = transport.Open(hwid)
	if openRet != nil {
		return tools.Error(log, "unable to open transport: ", openRet.Get_errmsg()), nil
	}

	var provisionRet, btl = transport.Provision(params)
	if provisionRet != nil {
		transport.Close()
		return tools.Error(log, "unable to provision storage unit: ", provisionRet.Get_errmsg()), nil
	}

	return nil, NewStorageUnit(log, transport, btl, params, iface)
}

// Delete unprovisions the unit's LUN and closes the transport handle
// Create opened, releasing it exactly once. Unprovisioning is also what
// stops the dispatcher pool: every worker blocked in Transact for the
// unit gets a transport error, offers it to DispatcherError (the first
// one wins) and exits, so WaitDispatcher is called after Delete to join
// them (Shutdown does both). If Unprovision fails, the transport is left
// open.
func (unit *StorageUnit) Delete() tools.Ret {
	var ret = unit.transport.Unprovision(unit.btl)
	if ret != nil {
		return tools.Error(unit.log, "unable to unprovision storage unit ", unit.btl, ": ", ret.Get_errmsg())
	}
	ret = unit.transport.Close()
	if ret != nil {
		return tools.Error(unit.log, "unable to close transport for storage unit ", unit.btl, ": ", ret.Get_errmsg())
	}
	return nil
}

func (unit *StorageUnit) Btl() Btl                       { return unit.btl }
func (unit *StorageUnit) Params() StorageUnitParams      { return unit.params }
func (unit *StorageUnit) GetInterface() Interface        { return unit.iface }

// SetDebugLog replaces the set of debug categories this unit logs.
func (unit *StorageUnit) SetDebugLog(level DebugLogLevel) {
	atomic.StoreUint32((*u32)(&unit.debugLog), u32(level))
}

func (unit *StorageUnit) debugEnabled(level DebugLogLevel) bool {
	return DebugLogLevel(atomic.LoadUint32((*u32)(&unit.debugLog)))&level != 0
}

func (unit *StorageUnit) debugf(level DebugLogLevel, args ...interface{}) {
	if unit.debugEnabled(level) {
		unit.log.Debug(args...)
	}
}

// GetUserContext/SetUserContext hold an opaque value the caller can use
// to stash per-unit state (an open file handle, a cache, whatever a
// handler set needs) without the runtime knowing what it is.
func (unit *StorageUnit) GetUserContext() interface{} {
	unit.userContextMutex.RLock()
	defer unit.userContextMutex.RUnlock()
	return unit.userContext
}

func (unit *StorageUnit) SetUserContext(value interface{}) {
	unit.userContextMutex.Lock()
	defer unit.userContextMutex.Unlock()
	unit.userContext = value
}

// Shutdown unprovisions the unit and waits for its dispatcher pool to
// drain, exactly once no matter how many goroutines call it concurrently
// (a caller wiring this to both a signal handler and a normal exit path
// is the reason it exists at all). Callers that need the unprovision
// error should call Delete directly instead.
func (unit *StorageUnit) Shutdown() {
	unit.shutdownGuard.Execute(func(self *StorageUnit) {
		if ret := self.Delete(); ret != nil {
			self.log.Error("error unprovisioning ", self.btl, " during shutdown: ", ret.Get_errmsg())
		}
		self.WaitDispatcher()
	})
}

// SendResponse completes a request a handler previously deferred with
// ctx.Defer(). It is safe to call from any goroutine, including one with
// no relationship at all to the dispatcher worker that originally
// received the request; that's the whole point of deferred completion.
//
// It submits response through a single one-shot Transact call (requestOut
// nil, so the transport neither waits for nor delivers a paired request)
// and returns without touching the dispatcher pool: the pool's worker
// count stays exactly what StartDispatcher set it to, no matter how many
// completions are deferred. Any transport error is latched into the same
// DispatcherError every dispatcher worker reports through; SendResponse
// itself reports nothing, so a caller who needs to know should check
// GetDispatcherError.
func (unit *StorageUnit) SendResponse(response Response) {
	var ret = unit.transport.Transact(unit.btl, &response, nil)
	if ret != nil {
		unit.dispatcherError.Latch(ret)
		unit.debugf(DebugLogDispatch, "deferred response for ", unit.btl, " hint ", response.Hint, " failed: ", ret.Get_errmsg())
	}
}
