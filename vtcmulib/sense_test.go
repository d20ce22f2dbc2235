// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import "testing"

func TestSetSenseKeyASC(t *testing.T) {
	var sense SenseData
	SetSenseKeyASC(&sense, SenseMediumError, AscUnrecoveredReadError, AscqUnrecoveredReadError)

	if GetSenseKey(sense) != SenseMediumError {
		t.Fatalf("expected sense key %v, got %v", SenseMediumError, GetSenseKey(sense))
	}
	if GetASC(sense) != AscUnrecoveredReadError {
		t.Fatalf("expected ASC %#x, got %#x", AscUnrecoveredReadError, GetASC(sense))
	}
	if GetASCQ(sense) != AscqUnrecoveredReadError {
		t.Fatalf("expected ASCQ %#x, got %#x", AscqUnrecoveredReadError, GetASCQ(sense))
	}
	if sense[0] != senseResponseCodeCurrent {
		t.Fatalf("expected response code %#x, got %#x", senseResponseCodeCurrent, sense[0])
	}
}

func TestSetInformationRoundTrip(t *testing.T) {
	var sense SenseData
	SetSenseKeyASC(&sense, SenseMediumError, AscUnrecoveredReadError, AscqUnrecoveredReadError)
	SetInformation(&sense, 123456)

	var lba, valid = GetInformation(sense)
	if !valid {
		t.Fatalf("expected information to be marked valid")
	}
	if lba != 123456 {
		t.Fatalf("expected lba 123456, got %d", lba)
	}
}

func TestInformationNotSetIsInvalid(t *testing.T) {
	var sense SenseData
	SetSenseKeyASC(&sense, SenseNoSense, 0, 0)
	var _, valid = GetInformation(sense)
	if valid {
		t.Fatalf("expected information to be invalid when never set")
	}
}

func TestIllegalRequestSense(t *testing.T) {
	var sense = IllegalRequestSense()
	if GetSenseKey(sense) != SenseIllegalRequest {
		t.Fatalf("expected illegal request sense key")
	}
	if GetASC(sense) != AscInvalidCommandOperationCode {
		t.Fatalf("expected invalid command operation code ASC")
	}
}
