// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package vtcmulib

/* Fixed-format (0x70/0x71) SCSI sense data, 18 bytes, and the SAM status
codes that go with it. Sense key/ASC/ASCQ numbering is standard SCSI (see
www.t10.org/lists/asc-num.txt); the constants below are a small subset,
covering what the storage-unit runtime and its reference handlers
produce plus a few other common codes. */

// SenseData is the fixed-format sense buffer, byte for byte:
//
//	byte 0    response code (0x70 current errors, 0x71 deferred errors)
//	byte 1    reserved / obsolete
//	byte 2    bits 0-3 sense key, bit 7 valid (set when Information is meaningful)
//	byte 3-6  Information field, big-endian
//	byte 7    additional sense length (bytes following, 10 for this layout)
//	byte 8-11 command-specific information
//	byte 12   additional sense code (ASC)
//	byte 13   additional sense code qualifier (ASCQ)
//	byte 14   field replaceable unit code
//	byte 15-17 sense-key-specific
type SenseData [18]byte

type SenseKey u8

const (
	SenseNoSense        SenseKey = 0x00
	SenseRecoveredError SenseKey = 0x01
	SenseNotReady       SenseKey = 0x02
	SenseMediumError    SenseKey = 0x03
	SenseHardwareError  SenseKey = 0x04
	SenseIllegalRequest SenseKey = 0x05
	SenseUnitAttention  SenseKey = 0x06
	SenseDataProtect    SenseKey = 0x07
	SenseAbortedCommand SenseKey = 0x0b
)

// Additional sense code / additional sense code qualifier pairs used by
// the reference handlers and by dispatcher-level illegal-request replies.
const (
	AscInvalidCommandOperationCode u8 = 0x20
	AscqInvalidCommandOperationCode u8 = 0x00

	AscInvalidFieldInCdb u8 = 0x24
	AscqInvalidFieldInCdb u8 = 0x00

	AscLbaOutOfRange u8 = 0x21
	AscqLbaOutOfRange u8 = 0x00

	AscUnrecoveredReadError u8 = 0x11
	AscqUnrecoveredReadError u8 = 0x00

	AscWriteError u8 = 0x0c
	AscqWriteError u8 = 0x00

	AscMediumNotPresent u8 = 0x3a
	AscqMediumNotPresent u8 = 0x00
)

// SCSI status (SAM) codes a handler or the dispatcher may report.
const (
	ScsiStatusGood                 u8 = 0x00
	ScsiStatusCheckCondition       u8 = 0x02
	ScsiStatusBusy                 u8 = 0x08
	ScsiStatusReservationConflict  u8 = 0x18
	ScsiStatusTaskSetFull          u8 = 0x28
)

const senseResponseCodeCurrent u8 = 0x70
const senseAdditionalLength u8 = 10 // bytes 8..17, fixed for this layout
const senseValidBit u8 = 0x80

// SetSenseKeyASC fills sense with a fresh fixed-format current-error
// buffer carrying the given sense key, ASC and ASCQ. Any previously set
// Information is cleared; call SetInformation after this if you have an
// offending LBA to report.
func SetSenseKeyASC(sense *SenseData, key SenseKey, asc, ascq u8) {
	*sense = SenseData{}
	sense[0] = senseResponseCodeCurrent
	sense[2] = u8(key) & 0x0F
	sense[7] = senseAdditionalLength
	sense[12] = asc
	sense[13] = ascq
}

// SetInformation records the LBA of a medium failure in the sense buffer's
// Information field (bytes 3-6, big-endian) and sets the valid bit.
func SetInformation(sense *SenseData, lba uint64) {
	sense[2] |= senseValidBit
	sense[3] = byte(lba >> 24)
	sense[4] = byte(lba >> 16)
	sense[5] = byte(lba >> 8)
	sense[6] = byte(lba)
}

// GetInformation reads back what SetInformation wrote, and whether the
// valid bit was set at all.
func GetInformation(sense SenseData) (lba uint64, valid bool) {
	valid = sense[2]&senseValidBit != 0
	lba = uint64(sense[3])<<24 | uint64(sense[4])<<16 | uint64(sense[5])<<8 | uint64(sense[6])
	return lba, valid
}

// GetSenseKey extracts the sense key nibble.
func GetSenseKey(sense SenseData) SenseKey {
	return SenseKey(sense[2] & 0x0F)
}

// GetASC/GetASCQ extract the additional sense code and its qualifier.
func GetASC(sense SenseData) u8  { return sense[12] }
func GetASCQ(sense SenseData) u8 { return sense[13] }

// IllegalRequestSense builds the sense the dispatcher reports for a
// request kind whose handler is absent, per the "handler absence" property
// in the storage-unit runtime's testable properties.
func IllegalRequestSense() SenseData {
	var sense SenseData
	SetSenseKeyASC(&sense, SenseIllegalRequest, AscInvalidCommandOperationCode, AscqInvalidCommandOperationCode)
	return sense
}
