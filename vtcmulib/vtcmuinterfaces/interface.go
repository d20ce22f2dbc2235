// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

// Package vtcmuinterfaces has a package comment to make the linter happy
package vtcmuinterfaces

import "github.com/nixomose/nixomosegotools/tools"

/* StorageMechanism is the block-addressed backing store a reference
handler set (vtcmucmd/storage) is built over. It lives in its own
package, same as the storage-unit runtime's own backing-store interface,
so a backing store implementation can depend on this contract alone
without pulling in the dispatcher or transport machinery around it. */
type StorageMechanism interface {
	ReadBlock(startInBytes uint64, length uint32, data []byte) tools.Ret
	WriteBlock(startInBytes uint64, length uint32, data []byte) tools.Ret
	DiscardBlock(startInBytes uint64, length uint32) tools.Ret

	// the storage mechanism's own block size, not necessarily the LUN's
	// provisioned BlockLength.
	GetBlockSize() uint32
}
