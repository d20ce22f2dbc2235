// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	uuid "github.com/satori/go.uuid"
)

func testLogger() *tools.Nixomosetools_logger {
	return tools.New_Nixomosetools_logger(tools.DEBUG)
}

func validParams() StorageUnitParams {
	return NewStorageUnitParams(uuid.NewV4(), 1024, 512)
}

func TestValidateParamsAcceptsDefaults(t *testing.T) {
	var ret = ValidateParams(testLogger(), validParams())
	if ret != nil {
		t.Fatalf("expected valid params to pass, got %v", ret.Get_errmsg())
	}
}

func TestValidateParamsRejectsZeroBlockLength(t *testing.T) {
	var p = validParams()
	p.BlockLength = 0
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected zero block length to be rejected")
	}
}

func TestValidateParamsRejectsNonPowerOfTwoBlockLength(t *testing.T) {
	var p = validParams()
	p.BlockLength = 600
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected non power of two block length to be rejected")
	}
}

func TestValidateParamsRejectsOverflowingSize(t *testing.T) {
	var p = validParams()
	p.BlockCount = ^u64(0)
	p.BlockLength = 4096
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected overflowing block count*length to be rejected")
	}
}

func TestValidateParamsRejectsMaxTransferLengthNotAMultiple(t *testing.T) {
	var p = validParams()
	p.MaxTransferLength = p.BlockLength + 1
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected non-multiple max transfer length to be rejected")
	}
}

func TestValidateParamsRejectsMaxTransferLengthOverHardCap(t *testing.T) {
	var p = validParams()
	p.MaxTransferLength = MAX_TRANSFER_LENGTH_HARD_CAP + p.BlockLength
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected over-cap max transfer length to be rejected")
	}
}

func TestValidateParamsRejectsNulProductId(t *testing.T) {
	var p = validParams()
	p.ProductId[0] = 0
	if ValidateParams(testLogger(), p) == nil {
		t.Fatalf("expected NUL-leading product id to be rejected")
	}
}
