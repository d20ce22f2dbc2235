// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import "github.com/nixomose/nixomosegotools/tools"

/* Transport is everything a storage unit needs from whatever moves
requests and responses between the kernel and this process. The real
implementation (transport_kmod.go) talks to /dev/vtcmuctl and a per-lun
device node with ioctl; FakeTransport (transport_fake.go) is an in-memory
stand-in the test suite drives directly, so dispatcher and storage unit
code never has to know which one it's holding. */
type Transport interface {

	// Open connects to the control device. hwid identifies which control
	// node to use: the real transport opens hwid as the control device
	// path, or CONTROL_DEVICE_NAME when hwid is empty; FakeTransport
	// ignores it.
	Open(hwid string) tools.Ret

	// Close releases whatever Open acquired. Safe to call more than once.
	Close() tools.Ret

	// Provision asks the kernel transport to create a new LUN with the
	// given parameters and returns the Btl it was assigned.
	Provision(params StorageUnitParams) (tools.Ret, Btl)

	// Unprovision tears down a previously provisioned LUN. Blocked
	// dispatcher workers on that Btl are released with a transport error.
	Unprovision(btl Btl) tools.Ret

	// List returns the Btl of every LUN currently provisioned through
	// this transport.
	List() (tools.Ret, []Btl)

	// Transact is the one blocking call in the whole runtime: submit
	// response (may be the zero Response, meaning nothing to submit yet)
	// and block until the next request for btl is available, filling in
	// requestOut. Every dispatcher worker blocks here and nowhere else.
	//
	// requestOut may be nil, meaning this call only submits response and
	// returns immediately without waiting for or filling in a request —
	// the one-shot form a deferred completion uses to answer a hint
	// outside the normal dispatcher loop.
	Transact(btl Btl, response *Response, requestOut *Request) tools.Ret

	// SetTransactTimeout sets the transact timeout for btl, in
	// milliseconds. The real transport passes it to the kernel transport
	// with one ioctl and leaves any enforcing to the kernel side; no Go
	// code here times a Transact out on its own. FakeTransport only
	// records it.
	SetTransactTimeout(btl Btl, timeoutmilliseconds u32) tools.Ret
}
