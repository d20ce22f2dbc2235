// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/vtcmu/vtcmulib"
	"github.com/nixomose/vtcmu/vtcmulib/vtcmuinterfaces"
)

// handlersForMechanism wires a plain block-addressed StorageMechanism
// (ramdisk or rawdisk) into a vtcmulib.Interface, translating between
// SCSI logical block addresses/lengths and the byte offsets the
// mechanism deals in. It's the same shape of glue the zosbd2 client's
// Kmod keeps between the kernel wire structures and a Storage_mechanism,
// just for four request kinds instead of three.
func handlersForMechanism(mechanism vtcmuinterfaces.StorageMechanism) vtcmulib.Interface {
	return vtcmulib.Interface{
		ReadHandler:  readHandler(mechanism),
		WriteHandler: writeHandler(mechanism),
		FlushHandler: flushHandler(mechanism),
		UnmapHandler: unmapHandler(mechanism),
	}
}

func readHandler(mechanism vtcmuinterfaces.StorageMechanism) vtcmulib.HandlerFunc {
	return func(ctx *vtcmulib.OperationContext) tools.Ret {
		var op = ctx.Request.Read
		var startInBytes = op.BlockAddress * uint64(ctx.Unit.Params().BlockLength)
		var ret = mechanism.ReadBlock(startInBytes, op.Length, op.Data)
		if ret != nil {
			ctx.Fail(vtcmulib.SenseMediumError, vtcmulib.AscUnrecoveredReadError, vtcmulib.AscqUnrecoveredReadError)
			vtcmulib.SetInformation(&ctx.Response.Status.SenseData, op.BlockAddress)
			return nil
		}
		ctx.Good()
		return nil
	}
}

func writeHandler(mechanism vtcmuinterfaces.StorageMechanism) vtcmulib.HandlerFunc {
	return func(ctx *vtcmulib.OperationContext) tools.Ret {
		var op = ctx.Request.Write
		var startInBytes = op.BlockAddress * uint64(ctx.Unit.Params().BlockLength)
		var ret = mechanism.WriteBlock(startInBytes, op.Length, op.Data)
		if ret != nil {
			ctx.Fail(vtcmulib.SenseMediumError, vtcmulib.AscWriteError, vtcmulib.AscqWriteError)
			vtcmulib.SetInformation(&ctx.Response.Status.SenseData, op.BlockAddress)
			return nil
		}
		ctx.Good()
		return nil
	}
}

func flushHandler(mechanism vtcmuinterfaces.StorageMechanism) vtcmulib.HandlerFunc {
	return func(ctx *vtcmulib.OperationContext) tools.Ret {
		// the reference mechanisms have no write cache to flush; a real
		// cache-backed mechanism would sync here instead of no-op-ing.
		ctx.Good()
		return nil
	}
}

func unmapHandler(mechanism vtcmuinterfaces.StorageMechanism) vtcmulib.HandlerFunc {
	return func(ctx *vtcmulib.OperationContext) tools.Ret {
		var blockLength = uint64(ctx.Unit.Params().BlockLength)
		for _, descriptor := range ctx.Request.Unmap.Descriptors {
			var startInBytes = descriptor.BlockAddress * blockLength
			var lengthInBytes = uint32(uint64(descriptor.BlockCount) * blockLength)
			var ret = mechanism.DiscardBlock(startInBytes, lengthInBytes)
			if ret != nil {
				ctx.Fail(vtcmulib.SenseMediumError, vtcmulib.AscWriteError, vtcmulib.AscqWriteError)
				vtcmulib.SetInformation(&ctx.Response.Status.SenseData, descriptor.BlockAddress)
				return nil
			}
		}
		ctx.Good()
		return nil
	}
}
