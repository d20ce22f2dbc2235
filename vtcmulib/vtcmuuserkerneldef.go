// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

// short integer aliases so the wire structs in wire.go read the same width
// they do in the kernel transport's own headers.

type s8 = int8
type u8 = uint8

type s16 = int16
type u16 = uint16

type s32 = int32
type u32 = uint32

type s64 = int64
type u64 = uint64
