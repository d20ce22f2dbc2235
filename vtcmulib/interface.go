// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import "github.com/nixomose/nixomosegotools/tools"

// HandlerFunc is the shape every request handler takes: an
// OperationContext to read the request from and write a response into
// (or Defer, to answer later through SendResponse), and a Ret to report a
// handler-side failure, as distinct from a SCSI-level failure reported
// through ctx.Fail. A non-nil Ret is latched into the unit's
// DispatcherError; it does not stop the dispatch loop, and ctx.Response
// is still submitted for the request.
type HandlerFunc func(ctx *OperationContext) tools.Ret

// Interface is the handler table a caller supplies when creating a
// storage unit. A nil field means that request kind is unsupported for
// this unit; the dispatcher answers it as an illegal request rather than
// calling through a nil function value.
type Interface struct {
	ReadHandler  HandlerFunc
	WriteHandler HandlerFunc
	FlushHandler HandlerFunc
	UnmapHandler HandlerFunc
}

func (i Interface) handlerFor(kind RequestKind) HandlerFunc {
	switch kind {
	case KindRead:
		return i.ReadHandler
	case KindWrite:
		return i.WriteHandler
	case KindFlush:
		return i.FlushHandler
	case KindUnmap:
		return i.UnmapHandler
	default:
		return nil
	}
}
