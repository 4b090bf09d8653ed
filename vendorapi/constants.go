package vendorapi

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FirmwareType mirrors ADQFirmwareType: the firmware family a device
// reports through its constant parameters, FWATD being the accumulating
// time-domain firmware whose code_normalization scales with
// firmware_specific (§4.4.1).
type FirmwareType int32

const (
	FirmwareTypeDAQ FirmwareType = iota
	FirmwareTypeATD
	FirmwareTypePD
)

const (
	constantsProductNameWidth  = 32
	constantsSerialNumberWidth = 16
)

// ConstantParameters is the decoded form of the ParameterIDConstant block
// (§3 DigitizerConstants, §6 ADQConstantParameters): identity and
// capability fields fetched once per device at initialization.
type ConstantParameters struct {
	ProductName         string
	SerialNumber        string
	NofChannels         int
	NofTransferChannels int
	SamplingFrequency   float64
	CodeNormalization   float64
	Firmware            FirmwareType
}

// encodeConstantParameters packs a ConstantParameters the way
// encodeSensorInfo packs a sysmgr.SensorInfo: little-endian integers
// followed by NUL-padded fixed-width string fields.
func encodeConstantParameters(c ConstantParameters) []byte {
	b := make([]byte, 4+4+4+8+8+constantsProductNameWidth+constantsSerialNumberWidth)
	binary.LittleEndian.PutUint32(b[0:4], uint32(c.NofChannels))
	binary.LittleEndian.PutUint32(b[4:8], uint32(c.NofTransferChannels))
	binary.LittleEndian.PutUint32(b[8:12], uint32(c.Firmware))
	binary.LittleEndian.PutUint64(b[12:20], math.Float64bits(c.SamplingFrequency))
	binary.LittleEndian.PutUint64(b[20:28], math.Float64bits(c.CodeNormalization))
	off := 28
	putFixedString(b[off:off+constantsProductNameWidth], c.ProductName)
	off += constantsProductNameWidth
	putFixedString(b[off:off+constantsSerialNumberWidth], c.SerialNumber)
	return b
}

// DecodeConstantParameters inverts encodeConstantParameters, for a caller
// that only sees the raw bytes GetParameters hands back across the vendor
// boundary.
func DecodeConstantParameters(b []byte) (ConstantParameters, error) {
	want := 4 + 4 + 4 + 8 + 8 + constantsProductNameWidth + constantsSerialNumberWidth
	if len(b) != want {
		return ConstantParameters{}, fmt.Errorf("vendorapi: short ConstantParameters payload (%d bytes, want %d)", len(b), want)
	}
	off := 28
	productName := trimNUL(b[off : off+constantsProductNameWidth])
	off += constantsProductNameWidth
	serialNumber := trimNUL(b[off : off+constantsSerialNumberWidth])
	return ConstantParameters{
		NofChannels:         int(binary.LittleEndian.Uint32(b[0:4])),
		NofTransferChannels: int(binary.LittleEndian.Uint32(b[4:8])),
		Firmware:            FirmwareType(binary.LittleEndian.Uint32(b[8:12])),
		SamplingFrequency:   math.Float64frombits(binary.LittleEndian.Uint64(b[12:20])),
		CodeNormalization:   math.Float64frombits(binary.LittleEndian.Uint64(b[20:28])),
		ProductName:         productName,
		SerialNumber:        serialNumber,
	}, nil
}

// OverflowStatus is the decoded form of the StatusIDOverflow block (§4.5.1:
// "poll overflow status (raise EventOverflow on nonzero)").
type OverflowStatus struct {
	Overflow bool
}

func encodeOverflowStatus(s OverflowStatus) []byte {
	b := make([]byte, 4)
	if s.Overflow {
		binary.LittleEndian.PutUint32(b, 1)
	}
	return b
}

// DecodeOverflowStatus inverts encodeOverflowStatus.
func DecodeOverflowStatus(b []byte) (OverflowStatus, error) {
	if len(b) != 4 {
		return OverflowStatus{}, fmt.Errorf("vendorapi: short OverflowStatus payload (%d bytes)", len(b))
	}
	return OverflowStatus{Overflow: binary.LittleEndian.Uint32(b) != 0}, nil
}

// DRAMStatus is the decoded form of the StatusIDDRAM block (§4.5.1: "poll
// DRAM fill and emit a DramFill(fraction) message").
type DRAMStatus struct {
	FillFraction float64
}

func encodeDRAMStatus(s DRAMStatus) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(s.FillFraction))
	return b
}

// DecodeDRAMStatus inverts encodeDRAMStatus.
func DecodeDRAMStatus(b []byte) (DRAMStatus, error) {
	if len(b) != 8 {
		return DRAMStatus{}, fmt.Errorf("vendorapi: short DRAMStatus payload (%d bytes)", len(b))
	}
	return DRAMStatus{FillFraction: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
}

func putFixedString(dst []byte, s string) {
	copy(dst, s)
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
