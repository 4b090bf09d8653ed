// Package vendorapi defines the boundary between the core and the vendor
// acquisition library (§6): a small set of stable, C-style entry points for
// device setup, data acquisition, parameter exchange, and the
// system-manager transaction channel. The vendor library itself is out of
// scope; this package only describes the contract the core consumes and
// ships a simulated implementation (Mock) standing in for it, the way the
// teacher's DataSource interface separates real and fake data sources.
package vendorapi

import (
	"github.com/sthenic/adqcore/queue"
)

// ParameterID selects which parameter block GetParameters/GetParametersString
// operate on.
type ParameterID int

const (
	ParameterIDReserved ParameterID = iota
	ParameterIDDataAcquisition
	ParameterIDDataTransfer
	ParameterIDDataReadout
	ParameterIDConstant
	ParameterIDAnalogFrontend
	ParameterIDTop
	ParameterIDClockSystem
)

// StatusID selects which status block GetStatus reads.
type StatusID int

const (
	StatusIDReserved StatusID = iota
	StatusIDOverflow
	StatusIDDRAM
	StatusIDAcquisition
	StatusIDTemperature
	StatusIDClockSystem
)

// RecordStatus bit flags, carried in RecordHeader.RecordStatus.
const RecordStatusOverrange uint16 = 1 << 2

// RecordHeader mirrors the vendor's wire layout field-for-field (§6); the
// order matters since the real library hands this back as raw bytes read
// with a fixed binary schema.
type RecordHeader struct {
	VersionMajor              uint8
	VersionMinor              uint8
	TimestampSyncCounter      uint16
	GPStart                   uint16
	GPStop                    uint16
	Timestamp                 uint64
	RecordStart               int64
	RecordLength              uint32
	UserID                    uint8
	Misc                      uint8
	RecordStatus              uint16
	RecordNumber              uint32
	Channel                   uint8
	DataFormat                uint8
	SerialNumber              [10]byte
	SamplingPeriod            uint64
	TimeUnit                  float64
	FirmwareSpecific          uint32
}

// DataFormat values for RecordHeader.DataFormat.
const (
	DataFormatInt16            uint8 = 0
	DataFormatInt32            uint8 = 1
	DataFormatPulseAttributes  uint8 = 2
)

// Record is a raw buffer handed back by WaitForRecordBuffer: a header plus
// its sample payload. Ownership stays with the vendor library (simulated
// here) until ReturnRecordBuffer. Exactly one of Data16/Data32 is populated,
// selected by Header.DataFormat (§3, §6: "data_format ∈ {int16,int32}").
type Record struct {
	Header RecordHeader
	Data16 []int16
	Data32 []int32

	// Handle is the raw-pointer identity the vendor library would hand a
	// foreign caller for this buffer; ReturnRecordBuffer needs it back
	// unchanged to release the corresponding registry entry (§9: "Raw
	// pointers exposed to foreign callers").
	Handle uintptr
}

// DeviceInfo is one entry of ControlUnit_ListDevices.
type DeviceInfo struct {
	ProductID int
	Serial    string
}

// API is the consumed vendor library surface (§6), addressed by device
// index and, where relevant, channel index. All methods return an error
// built from the taxonomy in queue.Status; a nil error means success.
type API interface {
	// SetupDevice probes and configures the device at index, returning a
	// positive device handle count on success (ControlUnit_SetupDevice).
	SetupDevice(index int) (int, error)
	// ListDevices enumerates present devices (ControlUnit_ListDevices).
	ListDevices() ([]DeviceInfo, error)
	// OpenDeviceInterface readies index for use (ControlUnit_OpenDeviceInterface).
	OpenDeviceInterface(index int) error
	// EnableErrorTrace turns on vendor-side diagnostic logging.
	EnableErrorTrace(index int, level int, directory string) error

	StartDataAcquisition(index int) error
	StopDataAcquisition(index int) error

	// WaitForRecordBuffer blocks (per the §4.1 timeout convention: negative
	// blocks forever, zero polls, positive is milliseconds) for the next
	// record on any enabled channel of index. The returned buffer remains
	// valid until ReturnRecordBuffer.
	WaitForRecordBuffer(index int, timeoutMs int) (channel int, record *Record, err error)
	// ReturnRecordBuffer releases a buffer obtained from WaitForRecordBuffer.
	ReturnRecordBuffer(index int, channel int, record *Record) error

	GetParametersString(index int, id ParameterID) (string, error)
	InitializeParametersString(index int, id ParameterID) (string, error)
	SetParametersString(index int, json string) error
	ValidateParametersString(index int, json string) error

	// GetParameters fetches a binary-encoded parameter struct (§6); unlike
	// the *String variants it is not JSON and callers decode it with the
	// matching Decode* helper.
	GetParameters(index int, id ParameterID) ([]byte, error)
	// GetStatus fetches a binary-encoded status struct (§6, §4.5.1).
	GetStatus(index int, id StatusID) ([]byte, error)

	// SmTransaction issues a raw system-manager command/response exchange
	// (§4.7); wr is the request payload and rdLen bounds the response.
	SmTransaction(index int, cmd uint16, wr []byte, rdLen int) ([]byte, error)
}

// bufferWorker is the subset of queue.BufferWorker's API a generator needs;
// declared so generator implementations stay agnostic of the payload type
// parameter at the call site.
type bufferWorker interface {
	Start() error
	Stop() error
}

var _ bufferWorker = (*queue.BufferWorker[Record])(nil)
