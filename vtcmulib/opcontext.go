// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

/* The storage-unit runtime's design calls for handlers to reach the
current request through thread-local storage, the way the C original
does with pthread_getspecific. Go has no thread-local storage, and a
goroutine isn't pinned to an OS thread in the first place, so there is no
"current thread" for a handler to key off of. Instead every handler
receives its OperationContext as an ordinary parameter; a dispatcher
worker builds one before calling a handler and it goes out of scope when
the call returns, unless the handler defers completion (see
StorageUnit.SendResponse), in which case it lives on until that call. */

// OperationContext carries everything a handler needs about the request
// it was invoked for, plus the means to answer it later instead of
// immediately.
type OperationContext struct {
	Unit     *StorageUnit
	Hint     u64
	Kind     RequestKind
	Request  Request
	Response Response
}

// Defer marks this operation as not completing on return from the
// handler. The dispatcher worker sees the StatusPending sentinel and
// submits no response for this hint at all; the handler (or whatever it
// handed the hint off to) must later call ctx.Unit.SendResponse with the
// same hint to actually complete the request.
func (ctx *OperationContext) Defer() {
	ctx.Response.Status.ScsiStatus = StatusPending
}

// Fail is a convenience for handlers to set a check-condition response
// with a specific sense key and additional sense code in one call.
func (ctx *OperationContext) Fail(key SenseKey, asc, ascq u8) {
	ctx.Response.Status.ScsiStatus = ScsiStatusCheckCondition
	SetSenseKeyASC(&ctx.Response.Status.SenseData, key, asc, ascq)
}

// Good marks the operation successful with no sense data.
func (ctx *OperationContext) Good() {
	ctx.Response.Status.ScsiStatus = ScsiStatusGood
	ctx.Response.Status.SenseData = SenseData{}
}
