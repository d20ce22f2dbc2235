// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"sync/atomic"

	"github.com/nixomose/nixomosegotools/tools"
)

// DispatcherError is a single-writer latch: the first transport-level
// failure (as opposed to a SCSI-level failure, which is just a response)
// or handler-returned Ret is recorded here, and every worker sees the same error
// afterward regardless of which one asks first. Later Latch calls are
// silently dropped, the way the storage-unit runtime keeps only the
// first dispatcher error rather than whichever happened to be reported
// last.
type DispatcherError struct {
	latched atomic.Bool
	value   atomic.Value
}

// Latch records err as the dispatcher's error if none has been latched
// yet, and reports whether this call was the one that won the race. A
// nil err is never latched and always reports false.
func (d *DispatcherError) Latch(err tools.Ret) bool {
	if err == nil {
		return false
	}
	if d.latched.CompareAndSwap(false, true) {
		d.value.Store(err)
		return true
	}
	return false
}

// Get returns the latched error, or nil if none has been latched.
func (d *DispatcherError) Get() tools.Ret {
	if !d.latched.Load() {
		return nil
	}
	var stored = d.value.Load()
	if stored == nil {
		return nil
	}
	return stored.(tools.Ret)
}
