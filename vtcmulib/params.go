// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"syscall"

	"github.com/nixomose/nixomosegotools/tools"
	uuid "github.com/satori/go.uuid"
)

// StorageUnitParams is the input to Provision/Create, fixed for the LUN's
// life once accepted.
type StorageUnitParams struct {
	Guid                    uuid.UUID
	BlockCount              u64
	BlockLength             u32
	MaxTransferLength       u32
	MaxUnmapDescriptorCount u32
	ProductId               [16]byte // ASCII, space-padded
	ProductRevisionLevel    [4]byte  // ASCII, space-padded
	WriteProtected          bool
	CacheSupported          bool
	UnmapSupported          bool
	EjectDisabled           bool
}

// NewStorageUnitParams fills in the ASCII fields space-padded and applies
// the reference product identity, leaving everything else to the caller.
func NewStorageUnitParams(guid uuid.UUID, blockCount u64, blockLength u32) StorageUnitParams {
	var p StorageUnitParams
	p.Guid = guid
	p.BlockCount = blockCount
	p.BlockLength = blockLength
	p.MaxTransferLength = MAX_TRANSFER_LENGTH_HARD_CAP
	p.MaxUnmapDescriptorCount = u32(MAX_UNMAP_DESCRIPTOR_COUNT)
	setAsciiField(p.ProductId[:], "VTCMU DISK")
	setAsciiField(p.ProductRevisionLevel[:], "1.0")
	return p
}

func setAsciiField(field []byte, value string) {
	for i := range field {
		field[i] = ' '
	}
	copy(field, value)
}

func isPowerOfTwo(n u32) bool {
	return n != 0 && (n&(n-1)) == 0
}

// ValidateParams enforces the invariants named for StorageUnitParams: the
// device size fits in 64 bits, MaxTransferLength is a multiple of
// BlockLength and no larger than the hard cap, block length is a sane
// power of two, and the ASCII identity fields don't start with a NUL.
func ValidateParams(log *tools.Nixomosetools_logger, params StorageUnitParams) tools.Ret {
	if params.BlockLength == 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL), "block length must not be zero")
	}
	if !isPowerOfTwo(params.BlockLength) || params.BlockLength < 512 || params.BlockLength > 4096 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"block length ", params.BlockLength, " must be a power of two in [512, 4096]")
	}
	if params.BlockCount == 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL), "block count must not be zero")
	}

	var _, overflowed = safeMulU64(params.BlockCount, u64(params.BlockLength))
	if overflowed {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"block count ", params.BlockCount, " times block length ", params.BlockLength, " overflows 64 bits")
	}

	if params.MaxTransferLength == 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL), "max transfer length must not be zero")
	}
	if params.MaxTransferLength%params.BlockLength != 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"max transfer length ", params.MaxTransferLength, " is not a multiple of block length ", params.BlockLength)
	}
	if params.MaxTransferLength > MAX_TRANSFER_LENGTH_HARD_CAP {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"max transfer length ", params.MaxTransferLength, " exceeds hard cap of ", MAX_TRANSFER_LENGTH_HARD_CAP)
	}
	if int(params.MaxUnmapDescriptorCount) > MAX_UNMAP_DESCRIPTOR_COUNT {
		return tools.ErrorWithCode(log, int(syscall.EINVAL),
			"max unmap descriptor count ", params.MaxUnmapDescriptorCount, " exceeds ", MAX_UNMAP_DESCRIPTOR_COUNT)
	}
	if params.ProductId[0] == 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL), "product id must not start with a NUL byte")
	}
	if params.ProductRevisionLevel[0] == 0 {
		return tools.ErrorWithCode(log, int(syscall.EINVAL), "product revision level must not start with a NUL byte")
	}
	return nil
}

func safeMulU64(a, b u64) (result u64, overflowed bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	result = a * b
	return result, result/a != b
}
