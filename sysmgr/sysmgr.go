// Package sysmgr implements the system-manager transaction layer (§4.7): a
// small command/response protocol, issued over the vendor library's
// SmTransaction entry point, for sensor and boot-status enumeration. The
// command set and wire records below follow the vendor's own (undocumented,
// subject-to-change) system-manager protocol, the way digitizer.cpp drives
// it through ADQ_SmTransactionImmediate.
package sysmgr

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sthenic/adqcore/queue"
)

// Command identifies a system-manager transaction. The sensor block's
// numeric values come directly from the vendor protocol (system_manager.h);
// the boot/state block's values are not part of the retrieved protocol
// subset and are assigned contiguous slots here (see DESIGN.md).
type Command uint16

const (
	CmdSensorGetNofSensors Command = 0x0300
	CmdSensorGetMap        Command = 0x0301
	CmdSensorGetValue      Command = 0x0303
	CmdSensorGetInfo       Command = 0x0307
	CmdSensorGetGroupInfo  Command = 0x0308

	CmdBootGetNofEntries Command = 0x0400
	CmdBootGetMap        Command = 0x0401
	CmdBootGetInfo       Command = 0x0402

	CmdGetState     Command = 0x0500
	CmdGetStateInfo Command = 0x0501
)

// Sensor value formats (§ SENSOR_FORMAT_INT / SENSOR_FORMAT_FLOAT).
const (
	SensorFormatInt   uint32 = 0
	SensorFormatFloat uint32 = 1
)

// SensorInfo is the fixed-layout record returned by CmdSensorGetInfo.
type SensorInfo struct {
	ID      uint32
	GroupID uint32
	Label   string
	Unit    string
}

// SensorGroupInfo is the fixed-layout record returned by CmdSensorGetGroupInfo.
type SensorGroupInfo struct {
	ID    uint32
	Label string
}

// BootInfo is the fixed-layout record returned by CmdBootGetInfo. A nonzero
// Status means that boot stage failed.
type BootInfo struct {
	ID     uint32
	Status int32
	Label  string
}

// StateInfo is the record returned by CmdGetStateInfo.
type StateInfo struct {
	State int32
	Label string
}

type sensorSource struct {
	mean, stddev float32
	failing      bool
}

// Manager is a simulated system manager: it answers the same commands the
// real one does, backing vendorapi.Mock's SmTransaction hook via Transact.
// Nothing here is persisted across restarts; sensor values are resampled on
// every CmdSensorGetValue.
type Manager struct {
	rng *rand.Rand

	sensorMap             []uint32
	bootMap               []uint32
	bootInformation       map[uint32]BootInfo
	sensorGroupInformation map[uint32]SensorGroupInfo
	sensorInformation     map[uint32]SensorInfo
	sensors               map[uint32]sensorSource

	state      int32
	stateLabel string
}

// Sensor/boot ids, mirroring mock_system_manager.cpp's local constants.
const (
	sensorVoltage0V95    = 1
	sensorVoltage3V3     = 2
	sensorVoltage5V0     = 3
	sensorVoltage2V6Neg  = 4
	sensorCurrent0V95    = 10
	sensorCurrent3V3     = 11
	sensorCurrent5V0     = 12
	sensorCurrent2V6Neg  = 13
	sensorTempADC1       = 20
	sensorTempADC2       = 21
	sensorTempFPGA       = 22
	sensorTempDCDC       = 23
	sensorTempError      = 24 // always returns an error, for testing
	sensorPower0V95      = 30
	sensorPower3V3       = 31
	sensorPower5V0       = 32
	sensorPower2V6Neg    = 33

	groupVoltage    = 1
	groupCurrent    = 2
	groupTemperature = 3
	groupPower      = 4

	bootClock      = 1
	bootSPI        = 2
	bootI2C        = 3
	bootRegulators = 4
	bootError      = 5
)

// NewManager builds a Manager pre-populated with a representative sensor
// tree and boot-status table, one of which (sensorTempError / bootError)
// is deliberately wired to fail, matching the teacher's own test fixture.
func NewManager() *Manager {
	m := &Manager{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sensorMap: []uint32{
			sensorVoltage0V95, sensorVoltage3V3, sensorVoltage5V0, sensorVoltage2V6Neg,
			sensorCurrent0V95, sensorCurrent3V3, sensorCurrent5V0, sensorCurrent2V6Neg,
			sensorTempADC1, sensorTempADC2, sensorTempFPGA, sensorTempDCDC, sensorTempError,
			sensorPower0V95, sensorPower3V3, sensorPower5V0, sensorPower2V6Neg,
		},
		bootMap: []uint32{bootClock, bootSPI, bootI2C, bootRegulators, bootError},
		bootInformation: map[uint32]BootInfo{
			bootClock:      {ID: bootClock, Status: 0, Label: "Clock system"},
			bootSPI:        {ID: bootSPI, Status: 0, Label: "SPI bus"},
			bootI2C:        {ID: bootI2C, Status: 0, Label: "I2C bus"},
			bootRegulators: {ID: bootRegulators, Status: 0, Label: "Voltage regulators"},
			bootError:      {ID: bootError, Status: -344, Label: "Deliberate error"},
		},
		sensorGroupInformation: map[uint32]SensorGroupInfo{
			groupVoltage:     {ID: groupVoltage, Label: "Voltage"},
			groupCurrent:     {ID: groupCurrent, Label: "Current"},
			groupTemperature: {ID: groupTemperature, Label: "Temperature"},
			groupPower:       {ID: groupPower, Label: "Power"},
		},
		sensorInformation: map[uint32]SensorInfo{
			sensorVoltage0V95:   {ID: sensorVoltage0V95, GroupID: groupVoltage, Label: "+0V95", Unit: "V"},
			sensorVoltage3V3:    {ID: sensorVoltage3V3, GroupID: groupVoltage, Label: "+3V3", Unit: "V"},
			sensorVoltage5V0:    {ID: sensorVoltage5V0, GroupID: groupVoltage, Label: "+5V0", Unit: "V"},
			sensorVoltage2V6Neg: {ID: sensorVoltage2V6Neg, GroupID: groupVoltage, Label: "-2V6", Unit: "V"},
			sensorCurrent0V95:   {ID: sensorCurrent0V95, GroupID: groupCurrent, Label: "+0V95 output current", Unit: "A"},
			sensorCurrent3V3:    {ID: sensorCurrent3V3, GroupID: groupCurrent, Label: "+3V3 current", Unit: "A"},
			sensorCurrent5V0:    {ID: sensorCurrent5V0, GroupID: groupCurrent, Label: "+5V0 current", Unit: "A"},
			sensorCurrent2V6Neg: {ID: sensorCurrent2V6Neg, GroupID: groupCurrent, Label: "-2V6 current", Unit: "A"},
			sensorTempADC1:      {ID: sensorTempADC1, GroupID: groupTemperature, Label: "ADC1 temperature", Unit: "degC"},
			sensorTempADC2:      {ID: sensorTempADC2, GroupID: groupTemperature, Label: "ADC2 temperature", Unit: "degC"},
			sensorTempFPGA:      {ID: sensorTempFPGA, GroupID: groupTemperature, Label: "FPGA temperature", Unit: "degC"},
			sensorTempDCDC:      {ID: sensorTempDCDC, GroupID: groupTemperature, Label: "DCDC temperature", Unit: "degC"},
			sensorTempError:     {ID: sensorTempError, GroupID: groupTemperature, Label: "Error temperature", Unit: "degC"},
			sensorPower0V95:     {ID: sensorPower0V95, GroupID: groupPower, Label: "+0V95 power", Unit: "W"},
			sensorPower3V3:      {ID: sensorPower3V3, GroupID: groupPower, Label: "+3V3 power", Unit: "W"},
			sensorPower5V0:      {ID: sensorPower5V0, GroupID: groupPower, Label: "+5V0 power", Unit: "W"},
			sensorPower2V6Neg:   {ID: sensorPower2V6Neg, GroupID: groupPower, Label: "-2V6 power", Unit: "W"},
		},
		sensors: map[uint32]sensorSource{
			sensorVoltage0V95:   {mean: 0.95, stddev: 0.1},
			sensorVoltage3V3:    {mean: 3.3, stddev: 0.3},
			sensorVoltage5V0:    {mean: 5.0, stddev: 0.5},
			sensorVoltage2V6Neg: {mean: -2.6, stddev: 0.2},
			sensorCurrent0V95:   {mean: 10.0, stddev: 0.7},
			sensorCurrent3V3:    {mean: 1.0, stddev: 0.2},
			sensorCurrent5V0:    {mean: 0.68, stddev: 0.1},
			sensorCurrent2V6Neg: {mean: 0.32, stddev: 0.1},
			sensorTempADC1:      {mean: 60.0, stddev: 1.1},
			sensorTempADC2:      {mean: 62.4, stddev: 1.0},
			sensorTempFPGA:      {mean: 67.3, stddev: 2.5},
			sensorTempDCDC:      {mean: 55.0, stddev: 1.1},
			sensorTempError:     {failing: true},
			sensorPower0V95:     {mean: 0.95 * 10.0, stddev: 0.1},
			sensorPower3V3:      {mean: 3.3 * 1.0, stddev: 0.1},
			sensorPower5V0:      {mean: 5.0 * 0.68, stddev: 0.1},
			sensorPower2V6Neg:   {mean: 2.6 * 0.32, stddev: 0.1},
		},
		state:      10,
		stateLabel: "Done",
	}
	return m
}

// Transact executes one command/response exchange, the shape SmTransaction
// exposes at the vendor boundary. rdLen bounds (but does not pad) the
// returned payload.
func (m *Manager) Transact(cmd Command, wr []byte, rdLen int) ([]byte, error) {
	var reply []byte
	var err error

	switch cmd {
	case CmdSensorGetNofSensors:
		reply = encodeU32(uint32(len(m.sensorMap)))

	case CmdSensorGetMap:
		reply = encodeU32Slice(append(append([]uint32{}, m.sensorMap...), 0))

	case CmdSensorGetValue:
		reply, err = m.handleSensorGetValue(wr)

	case CmdSensorGetInfo:
		reply, err = m.handleSensorGetInfo(wr)

	case CmdSensorGetGroupInfo:
		reply, err = m.handleSensorGetGroupInfo(wr)

	case CmdBootGetNofEntries:
		reply = encodeU32(uint32(len(m.bootMap)))

	case CmdBootGetMap:
		reply = encodeU32Slice(append(append([]uint32{}, m.bootMap...), 0))

	case CmdBootGetInfo:
		reply, err = m.handleBootGetInfo(wr)

	case CmdGetState:
		reply = encodeI32(m.state)

	case CmdGetStateInfo:
		reply = encodeStateInfo(StateInfo{State: m.state, Label: m.stateLabel})

	default:
		return nil, queue.NewError(queue.StatusUnsupported, "system manager command 0x%04x", uint16(cmd))
	}

	if err != nil {
		return nil, err
	}
	if rdLen > 0 && len(reply) > rdLen {
		reply = reply[:rdLen]
	}
	return reply, nil
}

func (m *Manager) handleSensorGetValue(wr []byte) ([]byte, error) {
	if len(wr) != 8 {
		return nil, queue.NewError(queue.StatusInvalid, "SENSOR_GET_VALUE argument length %d, want 8", len(wr))
	}
	id := binary.LittleEndian.Uint32(wr[0:4])
	format := binary.LittleEndian.Uint32(wr[4:8])

	src, ok := m.sensors[id]
	if !ok {
		return nil, queue.NewError(queue.StatusInvalid, "unknown sensor id %d", id)
	}
	if src.failing {
		return nil, queue.NewError(queue.StatusExternal, "sensor %d reported an error", id)
	}
	if format != SensorFormatFloat {
		return nil, queue.NewError(queue.StatusUnsupported, "sensor format %d", format)
	}

	value := float32(m.rng.NormFloat64())*src.stddev + src.mean
	return encodeF32(value), nil
}

func (m *Manager) handleSensorGetInfo(wr []byte) ([]byte, error) {
	if len(wr) != 4 {
		return nil, queue.NewError(queue.StatusInvalid, "SENSOR_GET_INFO argument length %d, want 4", len(wr))
	}
	id := binary.LittleEndian.Uint32(wr)
	info, ok := m.sensorInformation[id]
	if !ok {
		return nil, queue.NewError(queue.StatusInvalid, "unknown sensor id %d", id)
	}
	return encodeSensorInfo(info), nil
}

func (m *Manager) handleSensorGetGroupInfo(wr []byte) ([]byte, error) {
	if len(wr) != 4 {
		return nil, queue.NewError(queue.StatusInvalid, "SENSOR_GET_GROUP_INFO argument length %d, want 4", len(wr))
	}
	id := binary.LittleEndian.Uint32(wr)
	info, ok := m.sensorGroupInformation[id]
	if !ok {
		return nil, queue.NewError(queue.StatusInvalid, "unknown sensor group id %d", id)
	}
	return encodeSensorGroupInfo(info), nil
}

func (m *Manager) handleBootGetInfo(wr []byte) ([]byte, error) {
	if len(wr) != 4 {
		return nil, queue.NewError(queue.StatusInvalid, "BOOT_GET_INFO argument length %d, want 4", len(wr))
	}
	id := binary.LittleEndian.Uint32(wr)
	info, ok := m.bootInformation[id]
	if !ok {
		return nil, queue.NewError(queue.StatusInvalid, "unknown boot id %d", id)
	}
	return encodeBootInfo(info), nil
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func encodeI32(v int32) []byte {
	return encodeU32(uint32(v))
}

func encodeF32(v float32) []byte {
	return encodeU32(math.Float32bits(v))
}

func encodeU32Slice(values []uint32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

const (
	sensorLabelWidth = 16
	sensorUnitWidth  = 8
)

func putFixedString(dst []byte, s string) {
	copy(dst, s)
}

// encodeSensorInfo/encodeSensorGroupInfo/encodeBootInfo/encodeStateInfo pack
// a fixed-width wire record: id/group_id/status as little-endian integers
// followed by NUL-padded label/unit byte ranges, mirroring the C struct
// layouts in system_manager.h.
func encodeSensorInfo(info SensorInfo) []byte {
	b := make([]byte, 4+4+sensorLabelWidth+sensorUnitWidth)
	binary.LittleEndian.PutUint32(b[0:4], info.ID)
	binary.LittleEndian.PutUint32(b[4:8], info.GroupID)
	putFixedString(b[8:8+sensorLabelWidth], info.Label)
	putFixedString(b[8+sensorLabelWidth:], info.Unit)
	return b
}

func encodeSensorGroupInfo(info SensorGroupInfo) []byte {
	b := make([]byte, 4+sensorLabelWidth)
	binary.LittleEndian.PutUint32(b[0:4], info.ID)
	putFixedString(b[4:], info.Label)
	return b
}

func encodeBootInfo(info BootInfo) []byte {
	b := make([]byte, 4+4+sensorLabelWidth)
	binary.LittleEndian.PutUint32(b[0:4], info.ID)
	binary.LittleEndian.PutUint32(b[4:8], uint32(info.Status))
	putFixedString(b[8:], info.Label)
	return b
}

func encodeStateInfo(info StateInfo) []byte {
	b := make([]byte, 4+sensorLabelWidth)
	binary.LittleEndian.PutUint32(b[0:4], uint32(info.State))
	putFixedString(b[4:], info.Label)
	return b
}

// DecodeSensorInfo/DecodeSensorGroupInfo/DecodeBootInfo/DecodeStateInfo
// invert the encode helpers above, for a transaction caller that only sees
// raw bytes over the vendor boundary.
func DecodeSensorInfo(b []byte) (SensorInfo, error) {
	if len(b) != 4+4+sensorLabelWidth+sensorUnitWidth {
		return SensorInfo{}, fmt.Errorf("sysmgr: short SensorInfo payload (%d bytes)", len(b))
	}
	return SensorInfo{
		ID:      binary.LittleEndian.Uint32(b[0:4]),
		GroupID: binary.LittleEndian.Uint32(b[4:8]),
		Label:   trimNUL(b[8 : 8+sensorLabelWidth]),
		Unit:    trimNUL(b[8+sensorLabelWidth:]),
	}, nil
}

func DecodeSensorGroupInfo(b []byte) (SensorGroupInfo, error) {
	if len(b) != 4+sensorLabelWidth {
		return SensorGroupInfo{}, fmt.Errorf("sysmgr: short SensorGroupInfo payload (%d bytes)", len(b))
	}
	return SensorGroupInfo{
		ID:    binary.LittleEndian.Uint32(b[0:4]),
		Label: trimNUL(b[4:]),
	}, nil
}

func DecodeBootInfo(b []byte) (BootInfo, error) {
	if len(b) != 4+4+sensorLabelWidth {
		return BootInfo{}, fmt.Errorf("sysmgr: short BootInfo payload (%d bytes)", len(b))
	}
	return BootInfo{
		ID:     binary.LittleEndian.Uint32(b[0:4]),
		Status: int32(binary.LittleEndian.Uint32(b[4:8])),
		Label:  trimNUL(b[8:]),
	}, nil
}

func DecodeStateInfo(b []byte) (StateInfo, error) {
	if len(b) != 4+sensorLabelWidth {
		return StateInfo{}, fmt.Errorf("sysmgr: short StateInfo payload (%d bytes)", len(b))
	}
	return StateInfo{
		State: int32(binary.LittleEndian.Uint32(b[0:4])),
		Label: trimNUL(b[4:]),
	}, nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// DecodeU32 decodes a single little-endian uint32 reply (CmdSensorGetNofSensors,
// CmdBootGetNofEntries).
func DecodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("sysmgr: short uint32 payload (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DecodeI32 decodes a single little-endian int32 reply (CmdGetState).
func DecodeI32(b []byte) (int32, error) {
	v, err := DecodeU32(b)
	return int32(v), err
}

// DecodeF32 decodes a little-endian float32 reply (CmdSensorGetValue).
func DecodeF32(b []byte) (float32, error) {
	v, err := DecodeU32(b)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// DecodeU32Slice decodes a packed little-endian uint32 array reply
// (CmdSensorGetMap, CmdBootGetMap), stripping the trailing EOM (0) entry.
func DecodeU32Slice(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sysmgr: uint32 slice payload length %d not a multiple of 4", len(b))
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if n := len(out); n > 0 && out[n-1] == 0 {
		out = out[:n-1]
	}
	return out, nil
}

// EncodeArgSensorGetValue builds the wr payload for CmdSensorGetValue.
func EncodeArgSensorGetValue(id uint32, format uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], id)
	binary.LittleEndian.PutUint32(b[4:8], format)
	return b
}

// EncodeArgID builds the wr payload for the single-uint32-argument commands
// (CmdSensorGetInfo, CmdSensorGetGroupInfo, CmdBootGetInfo).
func EncodeArgID(id uint32) []byte {
	return encodeU32(id)
}
