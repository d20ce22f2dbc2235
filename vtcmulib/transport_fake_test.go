// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import "testing"

// TestSetTransactTimeoutIsRecorded covers SetTransactTimeout against the
// fake transport: the last value set for a Btl is the one that sticks.
func TestSetTransactTimeoutIsRecorded(t *testing.T) {
	var transport = NewFakeTransport(testLogger())
	if ret := transport.Open(""); ret != nil {
		t.Fatalf("open: %v", ret.Get_errmsg())
	}

	var ret, btl = transport.Provision(validParams())
	if ret != nil {
		t.Fatalf("provision: %v", ret.Get_errmsg())
	}

	if ret := transport.SetTransactTimeout(btl, 5000); ret != nil {
		t.Fatalf("set timeout: %v", ret.Get_errmsg())
	}
	if ret := transport.SetTransactTimeout(btl, 1500); ret != nil {
		t.Fatalf("set timeout: %v", ret.Get_errmsg())
	}

	var unit = transport.units[btl]
	if unit.timeoutMs != 1500 {
		t.Fatalf("expected last-set timeout 1500 to stick, got %d", unit.timeoutMs)
	}
}

func TestSetTransactTimeoutUnknownBtlIsError(t *testing.T) {
	var transport = NewFakeTransport(testLogger())
	transport.Open("")

	if ret := transport.SetTransactTimeout(Btl{Lun: 99}, 1000); ret == nil {
		t.Fatalf("expected an error setting the timeout on an unprovisioned Btl")
	}
}

// TestListReportsProvisionedUnits covers List: every provisioned Btl shows
// up, and an unprovisioned one drops out.
func TestListReportsProvisionedUnits(t *testing.T) {
	var transport = NewFakeTransport(testLogger())
	transport.Open("")

	var ret, first = transport.Provision(validParams())
	if ret != nil {
		t.Fatalf("provision: %v", ret.Get_errmsg())
	}
	var secondRet, second = transport.Provision(validParams())
	if secondRet != nil {
		t.Fatalf("provision: %v", secondRet.Get_errmsg())
	}

	var listRet, btls = transport.List()
	if listRet != nil {
		t.Fatalf("list: %v", listRet.Get_errmsg())
	}
	if len(btls) != 2 {
		t.Fatalf("expected 2 provisioned units, got %d", len(btls))
	}

	if ret := transport.Unprovision(first); ret != nil {
		t.Fatalf("unprovision: %v", ret.Get_errmsg())
	}

	listRet, btls = transport.List()
	if listRet != nil {
		t.Fatalf("list: %v", listRet.Get_errmsg())
	}
	if len(btls) != 1 || btls[0] != second {
		t.Fatalf("expected only the still-provisioned unit to remain, got %+v", btls)
	}
}
