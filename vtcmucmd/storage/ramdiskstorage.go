// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

// Package storage has a package comment to make the linter happy
package storage

import (
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/vtcmu/vtcmulib/vtcmuinterfaces"
)

var _ vtcmuinterfaces.StorageMechanism = &Ramdiskstorage{}
var _ vtcmuinterfaces.StorageMechanism = (*Ramdiskstorage)(nil)

// Ramdiskstorage is a memory-backed StorageMechanism, useful for
// exercising a storage unit's dispatch path without any real disk. Every
// block written is kept until DiscardBlock removes it; a read of a block
// never written (or discarded) comes back zeroed.
type Ramdiskstorage struct {
	log       *tools.Nixomosetools_logger
	blockSize uint32
	ramdisk   map[uint64][]byte
}

func NewRamdiskstorage(log *tools.Nixomosetools_logger, blockSize uint32) *Ramdiskstorage {
	return &Ramdiskstorage{
		log:       log,
		blockSize: blockSize,
		ramdisk:   make(map[uint64][]byte),
	}
}

func (r *Ramdiskstorage) GetBlockSize() uint32 {
	return r.blockSize
}

func (r *Ramdiskstorage) ReadBlock(startInBytes uint64, length uint32, dataOut []byte) tools.Ret {
	var copyOffset = 0
	for length > 0 {
		var data, found = r.ramdisk[startInBytes]
		if !found {
			data = make([]byte, r.blockSize)
		}

		r.log.Debug("ramdisk read from ", startInBytes, " to ", startInBytes+uint64(r.blockSize))
		var copied = copy(dataOut[copyOffset:copyOffset+int(r.blockSize)], data)
		if copied != int(r.blockSize) {
			return tools.ErrorWithCode(r.log, int(syscall.ENODATA), "unable to copy data from ramdisk, only copied: ", copied)
		}

		startInBytes += uint64(r.blockSize)
		copyOffset += int(r.blockSize)
		length -= r.blockSize
	}
	return nil
}

func (r *Ramdiskstorage) WriteBlock(startInBytes uint64, length uint32, data []byte) tools.Ret {
	var copyOffset = 0
	for length > 0 {
		var block = make([]byte, r.blockSize)
		r.log.Debug("ramdisk write to ", startInBytes, " to ", startInBytes+uint64(r.blockSize))
		var copied = copy(block, data[copyOffset:copyOffset+int(r.blockSize)])
		if copied != int(r.blockSize) {
			return tools.ErrorWithCode(r.log, int(syscall.ENODATA), "unable to copy data to write to ramdisk, only copied: ", copied)
		}
		r.ramdisk[startInBytes] = block
		startInBytes += uint64(r.blockSize)
		copyOffset += int(r.blockSize)
		length -= r.blockSize
	}
	return nil
}

func (r *Ramdiskstorage) DiscardBlock(startInBytes uint64, length uint32) tools.Ret {
	var end = startInBytes + uint64(length)
	for addr := startInBytes; addr < end; addr += uint64(r.blockSize) {
		delete(r.ramdisk, addr)
	}
	return nil
}
