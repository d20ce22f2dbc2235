// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

import (
	"bytes"
	"encoding/binary"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/nixomose/nixomosegotools/tools"
	"golang.org/x/sys/unix"
)

const kmodDeviceFilemode = 0600

// wireControlProvision and friends are the fixed-size structures
// exchanged with the control device, the same way zosbd2's
// control_block_device_create_params is exchanged with /dev/zosbd2ctl:
// binary.Write into a byte buffer, ioctl, binary.Read the same buffer
// back out.
type wireControlProvision struct {
	Guid                    [16]byte
	BlockCount              u64
	BlockLength             u32
	MaxTransferLength       u32
	MaxUnmapDescriptorCount u32
	Flags                   u32
	ProductId               [16]byte
	ProductRevisionLevel    [4]byte
	BtlOut                  u32
	ErrorCode               s32
}

const (
	wireFlagWriteProtected u32 = 1 << 0
	wireFlagCacheSupported u32 = 1 << 1
	wireFlagUnmapSupported u32 = 1 << 2
	wireFlagEjectDisabled  u32 = 1 << 3
)

type wireControlUnprovision struct {
	Btl       u32
	ErrorCode s32
}

type wireControlList struct {
	Count     u32
	Btls      [256]u32
	ErrorCode s32
}

type wireControlSetTimeout struct {
	Btl                  u32
	TimeoutMilliseconds  u32
	ErrorCode            s32
}

// wireUnmapDescriptor is the fixed-size on-the-wire form of an
// UnmapDescriptor.
type wireUnmapDescriptor struct {
	BlockAddress u64
	BlockCount   u32
	_reserved    u32
}

// wireTransact is the single fixed-size buffer a Transact ioctl reads
// and writes: the caller fills in the response half before the call, the
// kernel transport fills in the request half (or an error) before
// returning, exactly one struct doing double duty the way zosbd2's
// zosbd2_operation does for every request type.
type wireTransact struct {
	// submitted response, ignored by the kernel transport if Hint is 0.
	ResponseHint       u64
	ResponseKind       u32
	ResponseScsiStatus u8
	_pad0              [3]byte
	ResponseSense      [18]byte
	_pad1              [6]byte

	// OneShot means "submit the response above and return immediately,
	// don't wait for or fill in a request" — the mode a deferred
	// completion's Transact call uses, with requestOut nil on our side
	// and no paired request pointer on the kernel side.
	OneShot u32

	// filled in with the next request, or an error.
	RequestHint             u64
	RequestKind             u32
	RequestBlockAddress     u64
	RequestLength           u32
	RequestForceUnitAccess  u32
	RequestAddress          u64
	RequestUnmapCount       u32
	RequestUnmap            [MAX_UNMAP_DESCRIPTOR_COUNT_WIRE]wireUnmapDescriptor
	ErrorCode               s32
}

// MAX_UNMAP_DESCRIPTOR_COUNT_WIRE bounds the fixed array above; it must
// be at least MAX_UNMAP_DESCRIPTOR_COUNT since that's the largest Unmap
// request the runtime promises to accept.
const MAX_UNMAP_DESCRIPTOR_COUNT_WIRE = 256

// kmodTransport is the real Transport, talking to the kernel block
// storage transport through /dev/vtcmuctl and one device node per LUN,
// grounded on the zosbd2 client's Kmod: same EINTR-retry ioctl wrapper,
// same "serialize struct, ioctl, deserialize struct" shape for every
// call.
type kmodTransport struct {
	log         *tools.Nixomosetools_logger
	controlFile *os.File

	deviceMutex sync.Mutex
	deviceFiles map[Btl]*os.File
	dataAreas   map[Btl][]byte
}

// dataAreaSize is the size of the mmap'd shared data region opened
// against each LUN's device node: large enough to hold the biggest
// transfer any provisioned unit can request in one go.
const dataAreaSize = int(MAX_TRANSFER_LENGTH_HARD_CAP)

// NewKmodTransport constructs a Transport backed by the real kernel
// module. Open must be called before any other method.
func NewKmodTransport(log *tools.Nixomosetools_logger) Transport {
	return &kmodTransport{
		log:         log,
		deviceFiles: make(map[Btl]*os.File),
		dataAreas:   make(map[Btl][]byte),
	}
}

func (t *kmodTransport) Open(hwid string) tools.Ret {
	var path = CONTROL_DEVICE_NAME
	if hwid != "" {
		path = hwid
	}
	var file, err = os.OpenFile(path, os.O_RDWR, kmodDeviceFilemode)
	if err != nil {
		return tools.Error(t.log, "unable to open control device ", path, ", err: ", err)
	}
	t.controlFile = file
	return nil
}

func (t *kmodTransport) Close() tools.Ret {
	t.deviceMutex.Lock()
	defer t.deviceMutex.Unlock()
	for btl, area := range t.dataAreas {
		if err := unix.Munmap(area); err != nil {
			t.log.Error("unable to unmap data area for ", btl, ", err: ", err)
		}
		delete(t.dataAreas, btl)
	}
	for btl, file := range t.deviceFiles {
		if err := file.Close(); err != nil {
			t.log.Error("unable to close device file for ", btl, ", err: ", err)
		}
		delete(t.deviceFiles, btl)
	}
	if t.controlFile == nil {
		return nil
	}
	var err = t.controlFile.Close()
	if err != nil {
		return tools.Error(t.log, "unable to close control device, err: ", err)
	}
	return nil
}

// safeIoctl is the same EINTR-retry-and-restore-buffer loop the zosbd2
// client uses: the kernel transport may partially overwrite data before
// getting interrupted, so on EINTR we restore the original request
// before retrying, and never resubmit whatever the kernel had already
// started writing back.
func safeIoctl(log *tools.Nixomosetools_logger, fd *os.File, cmd uintptr, data []byte) tools.Ret {
	if len(data) == 0 {
		data = make([]byte, 1)
	}
	var backup = append([]byte{}, data...)

	for {
		var _, _, errno = syscall.Syscall(syscall.SYS_IOCTL, fd.Fd(), cmd, uintptr(unsafe.Pointer(&data[0])))
		if errno != 0 {
			if errno == syscall.EINTR {
				log.Debug("got EINTR from ioctl on fd ", fd, " cmd ", cmd, ", retrying")
				copy(data, backup)
				continue
			}
			return tools.ErrorWithCode(log, int(errno), "ioctl call failed for fd: ", fd, " cmd ", cmd, " err: ", errno)
		}
		break
	}
	return nil
}

func marshal(log *tools.Nixomosetools_logger, value interface{}) (tools.Ret, []byte) {
	var buf = &bytes.Buffer{}
	var err = binary.Write(buf, binary.LittleEndian, value)
	if err != nil {
		return tools.ErrorWithCode(log, -int(syscall.EINVAL), "unable to serialize struct: ", err.Error()), nil
	}
	return nil, buf.Bytes()
}

func unmarshal(log *tools.Nixomosetools_logger, data []byte, out interface{}) tools.Ret {
	var err = binary.Read(bytes.NewReader(data), binary.LittleEndian, out)
	if err != nil {
		return tools.ErrorWithCode(log, -int(syscall.EINVAL), "unable to deserialize struct: ", err.Error())
	}
	return nil
}

func (t *kmodTransport) Provision(params StorageUnitParams) (tools.Ret, Btl) {
	var wire wireControlProvision
	copy(wire.Guid[:], params.Guid.Bytes())
	wire.BlockCount = params.BlockCount
	wire.BlockLength = params.BlockLength
	wire.MaxTransferLength = params.MaxTransferLength
	wire.MaxUnmapDescriptorCount = params.MaxUnmapDescriptorCount
	wire.ProductId = params.ProductId
	wire.ProductRevisionLevel = params.ProductRevisionLevel
	if params.WriteProtected {
		wire.Flags |= wireFlagWriteProtected
	}
	if params.CacheSupported {
		wire.Flags |= wireFlagCacheSupported
	}
	if params.UnmapSupported {
		wire.Flags |= wireFlagUnmapSupported
	}
	if params.EjectDisabled {
		wire.Flags |= wireFlagEjectDisabled
	}

	var ret, data = marshal(t.log, wire)
	if ret != nil {
		return ret, Btl{}
	}
	ret = safeIoctl(t.log, t.controlFile, IOCTL_CONTROL_PROVISION, data)
	if ret != nil {
		return ret, Btl{}
	}
	ret = unmarshal(t.log, data, &wire)
	if ret != nil {
		return ret, Btl{}
	}
	if wire.ErrorCode != 0 {
		return tools.ErrorWithCode(t.log, int(wire.ErrorCode), "provision ioctl reported error ", wire.ErrorCode), Btl{}
	}

	var btl = UnpackBtl(wire.BtlOut)
	ret = t.openDevice(btl)
	if ret != nil {
		return ret, Btl{}
	}
	return nil, btl
}

func (t *kmodTransport) openDevice(btl Btl) tools.Ret {
	t.deviceMutex.Lock()
	defer t.deviceMutex.Unlock()
	if _, exists := t.deviceFiles[btl]; exists {
		return nil
	}
	var path = TXT_DEVICE_PATH + "vtcmu" + deviceSuffix(btl)
	var file, err = os.OpenFile(path, os.O_RDWR, kmodDeviceFilemode)
	if err != nil {
		return tools.Error(t.log, "unable to open device node ", path, " for ", btl, ", err: ", err)
	}

	var area, mmapErr = unix.Mmap(int(file.Fd()), 0, dataAreaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mmapErr != nil {
		file.Close()
		return tools.Error(t.log, "unable to mmap data area for ", btl, ", err: ", mmapErr)
	}

	t.deviceFiles[btl] = file
	t.dataAreas[btl] = area
	return nil
}

func deviceSuffix(btl Btl) string {
	var buf = make([]byte, 0, 16)
	buf = appendUint(buf, uint64(btl.Bus))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(btl.Target))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(btl.Lun))
	return string(buf)
}

func appendUint(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var start = len(buf)
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

func (t *kmodTransport) Unprovision(btl Btl) tools.Ret {
	var wire = wireControlUnprovision{Btl: btl.Pack()}
	var ret, data = marshal(t.log, wire)
	if ret != nil {
		return ret
	}
	ret = safeIoctl(t.log, t.controlFile, IOCTL_CONTROL_UNPROVISION, data)
	if ret != nil {
		return ret
	}
	ret = unmarshal(t.log, data, &wire)
	if ret != nil {
		return ret
	}
	if wire.ErrorCode != 0 {
		return tools.ErrorWithCode(t.log, int(wire.ErrorCode), "unprovision ioctl reported error ", wire.ErrorCode)
	}

	t.deviceMutex.Lock()
	defer t.deviceMutex.Unlock()
	if area, exists := t.dataAreas[btl]; exists {
		unix.Munmap(area)
		delete(t.dataAreas, btl)
	}
	if file, exists := t.deviceFiles[btl]; exists {
		file.Close()
		delete(t.deviceFiles, btl)
	}
	return nil
}

func (t *kmodTransport) List() (tools.Ret, []Btl) {
	var wire wireControlList
	var ret, data = marshal(t.log, wire)
	if ret != nil {
		return ret, nil
	}
	ret = safeIoctl(t.log, t.controlFile, IOCTL_CONTROL_LIST, data)
	if ret != nil {
		return ret, nil
	}
	ret = unmarshal(t.log, data, &wire)
	if ret != nil {
		return ret, nil
	}
	if wire.ErrorCode != 0 {
		return tools.ErrorWithCode(t.log, int(wire.ErrorCode), "list ioctl reported error ", wire.ErrorCode), nil
	}

	var result = make([]Btl, 0, wire.Count)
	for i := u32(0); i < wire.Count && int(i) < len(wire.Btls); i++ {
		result = append(result, UnpackBtl(wire.Btls[i]))
	}
	return nil, result
}

func (t *kmodTransport) SetTransactTimeout(btl Btl, timeoutmilliseconds u32) tools.Ret {
	var wire = wireControlSetTimeout{Btl: btl.Pack(), TimeoutMilliseconds: timeoutmilliseconds}
	var ret, data = marshal(t.log, wire)
	if ret != nil {
		return ret
	}
	ret = safeIoctl(t.log, t.controlFile, IOCTL_CONTROL_SET_TRANSACT_TIMEOUT, data)
	if ret != nil {
		return ret
	}
	ret = unmarshal(t.log, data, &wire)
	if ret != nil {
		return ret
	}
	if wire.ErrorCode != 0 {
		return tools.ErrorWithCode(t.log, int(wire.ErrorCode), "set transact timeout ioctl reported error ", wire.ErrorCode)
	}
	return nil
}

// sliceDataArea returns the portion of a LUN's mmap'd data area a
// request's Address/Length describe, or an empty slice if it doesn't fit
// (which the caller's own request validation should have already ruled
// out on the kernel side).
func sliceDataArea(area []byte, address u64, length u32) []byte {
	var start = int(address)
	var end = start + int(length)
	if start < 0 || end > len(area) || start > end {
		return nil
	}
	return area[start:end]
}

func (t *kmodTransport) Transact(btl Btl, response *Response, requestOut *Request) tools.Ret {
	t.deviceMutex.Lock()
	var file, exists = t.deviceFiles[btl]
	var dataArea = t.dataAreas[btl]
	t.deviceMutex.Unlock()
	if !exists {
		return tools.ErrorWithCode(t.log, -int(syscall.ENODEV), "no open device for ", btl)
	}

	var wire wireTransact
	wire.ResponseHint = response.Hint
	wire.ResponseKind = u32(response.Kind)
	wire.ResponseScsiStatus = response.Status.ScsiStatus
	wire.ResponseSense = response.Status.SenseData
	if requestOut == nil {
		wire.OneShot = 1
	}

	var ret, data = marshal(t.log, wire)
	if ret != nil {
		return ret
	}
	ret = safeIoctl(t.log, file, IOCTL_DEVICE_TRANSACT, data)
	if ret != nil {
		return ret
	}
	ret = unmarshal(t.log, data, &wire)
	if ret != nil {
		return ret
	}
	if wire.ErrorCode != 0 {
		return tools.ErrorWithCode(t.log, int(wire.ErrorCode), "transact ioctl for ", btl, " reported error ", wire.ErrorCode)
	}
	if requestOut == nil {
		return nil
	}

	requestOut.Hint = wire.RequestHint
	requestOut.Kind = RequestKind(wire.RequestKind)
	switch requestOut.Kind {
	case KindRead:
		requestOut.Read = ReadWriteOp{
			BlockAddress:    wire.RequestBlockAddress,
			Length:          wire.RequestLength,
			ForceUnitAccess: wire.RequestForceUnitAccess != 0,
			Address:         wire.RequestAddress,
			Data:            sliceDataArea(dataArea, wire.RequestAddress, wire.RequestLength),
		}
	case KindWrite:
		requestOut.Write = ReadWriteOp{
			BlockAddress:    wire.RequestBlockAddress,
			Length:          wire.RequestLength,
			ForceUnitAccess: wire.RequestForceUnitAccess != 0,
			Address:         wire.RequestAddress,
			Data:            sliceDataArea(dataArea, wire.RequestAddress, wire.RequestLength),
		}
	case KindFlush:
		requestOut.Flush = FlushOp{
			BlockAddress: wire.RequestBlockAddress,
			Length:       wire.RequestLength,
		}
	case KindUnmap:
		var descriptors = make([]UnmapDescriptor, 0, wire.RequestUnmapCount)
		for i := u32(0); i < wire.RequestUnmapCount && int(i) < len(wire.RequestUnmap); i++ {
			descriptors = append(descriptors, UnmapDescriptor{
				BlockAddress: wire.RequestUnmap[i].BlockAddress,
				BlockCount:   wire.RequestUnmap[i].BlockCount,
			})
		}
		requestOut.Unmap = UnmapOp{Count: wire.RequestUnmapCount, Descriptors: descriptors}
	}
	return nil
}
