// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package storage

import (
	"encoding/binary"
	"os"
	"syscall"

	"github.com/ncw/directio"
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/nixomose/vtcmu/vtcmulib/vtcmuinterfaces"
)

var _ vtcmuinterfaces.StorageMechanism = &Rawdiskstorage{}
var _ vtcmuinterfaces.StorageMechanism = (*Rawdiskstorage)(nil)

// Rawdiskstorage is a StorageMechanism over a real file or block device,
// opened O_DIRECT so reads and writes go straight to the medium instead
// of through the page cache, the way a real backing store for a storage
// unit normally should. Every read and write must be aligned to
// directio.BlockSize. NewRawdiskstorage rejects a blockSize that is not
// a multiple of directio.BlockSize; ReadBlock/WriteBlock do not check the
// offsets and lengths they are given.
type Rawdiskstorage struct {
	log       *tools.Nixomosetools_logger
	blockSize uint32
	file      *os.File
}

// NewRawdiskstorage opens path with O_DIRECT and wraps it as a
// StorageMechanism whose blocks are blockSize bytes. path must already
// exist and be at least as large as deviceSizeInBytes, the size of the
// storage unit it will back. If the file has no existing MBR-style
// partition table, one describing the whole device as a single partition
// is written before the mechanism is handed back.
func NewRawdiskstorage(log *tools.Nixomosetools_logger, path string, blockSize uint32, deviceSizeInBytes uint64) (tools.Ret, *Rawdiskstorage) {
	if blockSize%uint32(directio.BlockSize) != 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"block size ", blockSize, " is not a multiple of the direct I/O alignment ", directio.BlockSize), nil
	}

	var file, err = directio.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return tools.Error(log, "unable to open backing file ", path, " for direct I/O, err: ", err), nil
	}

	var disk = &Rawdiskstorage{log: log, blockSize: blockSize, file: file}
	if ret := disk.seedPartitionTable(deviceSizeInBytes); ret != nil {
		file.Close()
		return ret, nil
	}
	return nil, disk
}

// mbrSignatureOffset/mbrSignature/mbrPartitionOffset/mbrPartitionType
// describe the classic 512-byte MBR layout: a 0x55AA signature at the
// last two bytes of the first sector, and four 16-byte partition entries
// starting at byte 446.
const (
	mbrSignatureOffset = 510
	mbrSignature       = 0xAA55
	mbrPartitionOffset = 446
	mbrPartitionType   = 0x83 // arbitrary but conventional "Linux" type byte
)

// seedPartitionTable writes a minimal MBR describing deviceSizeInBytes as
// one partition starting at sector 1, but only the first time the backing
// file is opened: if the first block already carries the 0x55AA boot
// signature, an existing table is left alone.
func (r *Rawdiskstorage) seedPartitionTable(deviceSizeInBytes uint64) tools.Ret {
	var block = directio.AlignedBlock(int(r.blockSize))
	var _, err = r.file.ReadAt(block, 0)
	if err != nil {
		return tools.Error(r.log, "unable to read first block to check for an existing partition table, err: ", err)
	}

	if binary.LittleEndian.Uint16(block[mbrSignatureOffset:]) == mbrSignature {
		return nil
	}

	for i := range block {
		block[i] = 0
	}

	var totalSectors = deviceSizeInBytes / 512
	var partition = block[mbrPartitionOffset:]
	partition[4] = mbrPartitionType
	binary.LittleEndian.PutUint32(partition[8:12], 1) // starting LBA
	if totalSectors > 1 {
		binary.LittleEndian.PutUint32(partition[12:16], uint32(totalSectors-1))
	}
	binary.LittleEndian.PutUint16(block[mbrSignatureOffset:], mbrSignature)

	var _, writeErr = r.file.WriteAt(block, 0)
	if writeErr != nil {
		return tools.Error(r.log, "unable to write partition table, err: ", writeErr)
	}
	return nil
}

func (r *Rawdiskstorage) Close() tools.Ret {
	var err = r.file.Close()
	if err != nil {
		return tools.Error(r.log, "unable to close backing file, err: ", err)
	}
	return nil
}

func (r *Rawdiskstorage) GetBlockSize() uint32 {
	return r.blockSize
}

func (r *Rawdiskstorage) ReadBlock(startInBytes uint64, length uint32, dataOut []byte) tools.Ret {
	var buffer = directio.AlignedBlock(int(length))
	var n, err = r.file.ReadAt(buffer, int64(startInBytes))
	if err != nil {
		return tools.Error(r.log, "unable to read ", length, " bytes at offset ", startInBytes, " from backing file, err: ", err)
	}
	if uint32(n) != length {
		return tools.ErrorWithCode(r.log, int(syscall.EIO), "short read from backing file, wanted ", length, " got ", n)
	}
	copy(dataOut[:length], buffer)
	return nil
}

func (r *Rawdiskstorage) WriteBlock(startInBytes uint64, length uint32, data []byte) tools.Ret {
	var buffer = directio.AlignedBlock(int(length))
	copy(buffer, data[:length])
	var n, err = r.file.WriteAt(buffer, int64(startInBytes))
	if err != nil {
		return tools.Error(r.log, "unable to write ", length, " bytes at offset ", startInBytes, " to backing file, err: ", err)
	}
	if uint32(n) != length {
		return tools.ErrorWithCode(r.log, int(syscall.EIO), "short write to backing file, wanted ", length, " wrote ", n)
	}
	return nil
}

// DiscardBlock is a best-effort hint: fallocate's punch-hole mode isn't
// available through the standard library, so this zeroes the range
// instead of deallocating it. Callers that need real space reclamation
// should set UnmapSupported to false in their StorageUnitParams for a
// unit backed by Rawdiskstorage.
func (r *Rawdiskstorage) DiscardBlock(startInBytes uint64, length uint32) tools.Ret {
	var zero = directio.AlignedBlock(int(length))
	var _, err = r.file.WriteAt(zero, int64(startInBytes))
	if err != nil {
		return tools.Error(r.log, "unable to zero ", length, " bytes at offset ", startInBytes, " on discard, err: ", err)
	}
	return nil
}
