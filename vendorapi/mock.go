package vendorapi

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sthenic/adqcore/queue"
)

// SineParameters controls one channel's simulated waveform, mirroring the
// original mock sine generator: a noisy sine plus optional HD2..HD5
// harmonic distortion and odd-sample interleaving gain/offset mismatch.
type SineParameters struct {
	RecordLength           int     `json:"record_length"`
	TriggerFrequency       float64 `json:"trigger_frequency"`
	Amplitude              float64 `json:"amplitude"`
	Offset                 float64 `json:"offset"`
	Frequency              float64 `json:"frequency"`
	Phase                  float64 `json:"phase"`
	Noise                  float64 `json:"noise"`
	HarmonicDistortion     bool    `json:"harmonic_distortion"`
	InterleavingDistortion bool    `json:"interleaving_distortion"`
}

func defaultSineParameters() SineParameters {
	return SineParameters{
		RecordLength:           1024,
		TriggerFrequency:       30,
		Amplitude:              0.8,
		Offset:                 0,
		Frequency:              13.12e6,
		Phase:                  0,
		Noise:                  0.1,
		HarmonicDistortion:     true,
		InterleavingDistortion: true,
	}
}

const mockTimeUnit = 25e-12

// channelGenerator is the per-channel MainLooper: it fills one Record per
// trigger period and publishes it through its BufferWorker, the way
// sine_generator.cpp's MainLoop alternates ProcessMessages/Generate/sleep.
type channelGenerator struct {
	mu           sync.Mutex
	parameters   SineParameters
	samplingFreq float64
	enabled      bool
	recordNumber uint32
	timestamp    uint64
	channel      uint8
	dataFormat   uint8
	rng          *rand.Rand
	worker       *queue.BufferWorker[Record]
	pending      chan setParametersReq
	onRecord     func(overrange bool)
}

type setParametersReq struct {
	parameters *SineParameters
	samplingFreq *float64
	enable       *bool
	done         chan struct{}
}

func newChannelGenerator(channel uint8) *channelGenerator {
	g := &channelGenerator{
		parameters:   defaultSineParameters(),
		samplingFreq: 500e6,
		channel:      channel,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano() + int64(channel))),
		pending:      make(chan setParametersReq, 4),
	}
	g.worker = queue.NewBufferWorker[Record](g, 4, 4, func() Record { return Record{} })
	return g
}

func (g *channelGenerator) Run(shutdown queue.ShutdownToken) error {
	for {
		select {
		case <-shutdown.Done():
			return nil
		default:
		}

		g.drainPending()

		g.mu.Lock()
		enabled := g.enabled
		triggerFreq := g.parameters.TriggerFrequency
		g.mu.Unlock()

		if enabled {
			g.generate()
		}

		wait := 100 * time.Millisecond
		if enabled && triggerFreq > 0 {
			wait = time.Duration(float64(time.Second) / triggerFreq)
		}
		select {
		case <-shutdown.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (g *channelGenerator) drainPending() {
	for {
		select {
		case req := <-g.pending:
			g.mu.Lock()
			if req.parameters != nil {
				g.parameters = *req.parameters
			}
			if req.samplingFreq != nil {
				g.samplingFreq = *req.samplingFreq
			}
			if req.enable != nil {
				g.enabled = *req.enable
				if g.enabled {
					g.timestamp = 0
					g.recordNumber = 0
				}
			}
			g.mu.Unlock()
			close(req.done)
		default:
			return
		}
	}
}

func (g *channelGenerator) applyLocked(req setParametersReq) {
	req.done = make(chan struct{})
	g.pending <- req
	<-req.done
}

// SetParameters replaces the waveform parameters, returning once the
// generator's loop has applied them; the noise source is left as it is.
func (g *channelGenerator) SetParameters(p SineParameters) {
	g.applyLocked(setParametersReq{parameters: &p})
}

func (g *channelGenerator) SetSamplingFrequency(fs float64) {
	g.applyLocked(setParametersReq{samplingFreq: &fs})
}

func (g *channelGenerator) Enable(enabled bool) {
	g.applyLocked(setParametersReq{enable: &enabled})
}

func (g *channelGenerator) Parameters() (SineParameters, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parameters, g.samplingFreq
}

func (g *channelGenerator) generate() {
	buf := g.worker.Acquire()
	if buf == nil {
		return
	}

	g.mu.Lock()
	p := g.parameters
	fs := g.samplingFreq
	recordNumber := g.recordNumber
	timestamp := g.timestamp
	g.mu.Unlock()

	var data16 []int16
	var data32 []int32
	var overrange bool
	switch g.dataFormat {
	case DataFormatInt32:
		data32 = make([]int32, p.RecordLength)
		overrange = sine32(data32, p, fs, g.rng)
	default:
		data16 = make([]int16, p.RecordLength)
		overrange = sine(data16, p, fs, g.rng)
	}

	var status uint16
	if overrange {
		status |= RecordStatusOverrange
	}
	var misc uint8
	if recordNumber%50 == 0 {
		misc |= 0x1
	}
	if recordNumber%30 == 0 {
		misc |= 0x2
	}

	buf.Value = Record{
		Header: RecordHeader{
			DataFormat:           g.dataFormat,
			RecordLength:         uint32(p.RecordLength),
			RecordNumber:         recordNumber,
			Timestamp:            timestamp,
			TimeUnit:             mockTimeUnit,
			SamplingPeriod:       uint64(math.Round(1.0 / (mockTimeUnit * fs))),
			RecordStatus:         status,
			Misc:                 misc,
			Channel:              g.channel,
			TimestampSyncCounter: uint16(recordNumber / 100),
		},
		Data16: data16,
		Data32: data32,
	}

	if g.onRecord != nil {
		g.onRecord(overrange)
	}

	g.worker.Publish(buf, 0)

	g.mu.Lock()
	g.recordNumber++
	if p.TriggerFrequency > 0 {
		g.timestamp += uint64(math.Round(1.0 / (p.TriggerFrequency * mockTimeUnit)))
	}
	g.mu.Unlock()
}

// waveformSample computes the i:th noisy sinusoid sample, optionally adding
// HD2..HD5 harmonic distortion and odd-sample interleaving gain/offset
// mismatch, matching SineGenerator::Sine. Shared by sine/sine32 so the two
// data-format encodings stay bit-for-bit consistent except for scaling.
func waveformSample(i int, p SineParameters, fs float64, rng *rand.Rand) float64 {
	x := float64(i) / fs
	y := p.Amplitude*math.Sin(2*math.Pi*p.Frequency*x+p.Phase) + rng.NormFloat64()*p.Noise + p.Offset

	if p.InterleavingDistortion && i%2 == 1 {
		y = 1.03*y + 0.03*p.Amplitude
	}

	if p.HarmonicDistortion {
		for hd := 2; hd <= 5; hd++ {
			y += 0.1 / float64(int(1)<<uint(hd)) * math.Sin(2*math.Pi*float64(hd)*p.Frequency*x+p.Phase)
		}
	}
	return y
}

// sine fills data with the int16-quantized waveform (§6 data_format=int16).
func sine(data []int16, p SineParameters, fs float64, rng *rand.Rand) bool {
	overrange := false
	for i := range data {
		y := waveformSample(i, p, fs, rng)
		if y > 1.0 || y < -1.0 {
			overrange = true
		}
		if y > 0 {
			data[i] = int16(math.Min(32768.0*y, 32767.0))
		} else {
			data[i] = int16(math.Max(32768.0*y, -32768.0))
		}
	}
	return overrange
}

// sine32 fills data with the int32-quantized waveform (§6 data_format=int32).
func sine32(data []int32, p SineParameters, fs float64, rng *rand.Rand) bool {
	overrange := false
	for i := range data {
		y := waveformSample(i, p, fs, rng)
		if y > 1.0 || y < -1.0 {
			overrange = true
		}
		if y > 0 {
			data[i] = int32(math.Min(2147483648.0*y, 2147483647.0))
		} else {
			data[i] = int32(math.Max(2147483648.0*y, -2147483648.0))
		}
	}
	return overrange
}

// mockDevice is one simulated digitizer: a fixed channel count, each
// producing records through its own channelGenerator/BufferWorker.
type mockDevice struct {
	productID   int
	serial      string
	nofChannels int
	firmware    FirmwareType
	generators  []*channelGenerator
	started     bool

	mu         sync.Mutex
	preserveID uint64
	overflowed bool
	dramFill   float64
}

func newMockDevice(productID, nofChannels int, serial string, firmware FirmwareType, dataFormat uint8) *mockDevice {
	d := &mockDevice{productID: productID, nofChannels: nofChannels, serial: serial, firmware: firmware}
	for ch := 0; ch < nofChannels; ch++ {
		g := newChannelGenerator(uint8(ch))
		g.dataFormat = dataFormat
		g.onRecord = d.recordGenerated
		d.generators = append(d.generators, g)
	}
	return d
}

// recordGenerated is the per-record hook a channelGenerator calls after
// producing a buffer, feeding the simulated StatusIDOverflow/StatusIDDRAM
// registers GetStatus reads from (§4.5.1).
func (d *mockDevice) recordGenerated(overrange bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if overrange {
		d.overflowed = true
	}
	d.dramFill += 0.01
	if d.dramFill > 1 {
		d.dramFill = 1
	}
}

// takeOverflow reports and clears the latched overflow flag, the way the
// vendor library's overflow status register clears on read.
func (d *mockDevice) takeOverflow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.overflowed
	d.overflowed = false
	return v
}

func (d *mockDevice) dramFillFraction() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dramFill
}

func (d *mockDevice) setup() error {
	if d.started {
		return nil
	}
	for _, g := range d.generators {
		if err := g.worker.Start(); err != nil {
			return fmt.Errorf("start generator: %w", err)
		}
	}
	d.started = true
	return nil
}

func (d *mockDevice) startAcquisition() {
	d.mu.Lock()
	d.overflowed = false
	d.dramFill = 0
	d.mu.Unlock()
	for _, g := range d.generators {
		g.Enable(true)
	}
}

func (d *mockDevice) stopAcquisition() {
	for _, g := range d.generators {
		g.Enable(false)
	}
}

func (d *mockDevice) waitForRecordBuffer(timeoutMs int) (int, *queue.Buffer[Record], queue.Status) {
	deadline := time.Now()
	if timeoutMs > 0 {
		deadline = deadline.Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		for ch, g := range d.generators {
			if buf, status := g.worker.WaitForBuffer(0); status == queue.StatusOK {
				return ch, buf, queue.StatusOK
			}
		}
		if timeoutMs == 0 {
			return -1, nil, queue.StatusAgain
		}
		if timeoutMs > 0 && time.Now().After(deadline) {
			return -1, nil, queue.StatusAgain
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *mockDevice) preserve(channel int, buf *queue.Buffer[Record]) uintptr {
	d.mu.Lock()
	d.preserveID++
	id := d.preserveID
	d.mu.Unlock()
	ptr := uintptr(id)
	d.generators[channel].worker.Preserve(ptr, buf)
	// The table's reference is now the only one the record path needs; drop
	// the one the dequeue handed over.
	d.generators[channel].worker.ReturnBuffer(buf)
	return ptr
}

// Mock is a simulated implementation of API, standing in for the vendor
// acquisition library the way the teacher's mock data sources stand in for
// live hardware. It never touches real devices; all records are synthetic.
type Mock struct {
	mu       sync.Mutex
	devices  []*mockDevice
	opened   map[int]bool
	traced   atomic.Bool
	transact func(cmd uint16, wr []byte, rdLen int) ([]byte, error)
}

var _ API = (*Mock)(nil)

// NewMock returns an empty simulator; call AddDevice to register simulated
// hardware before SetupDevice/OpenDeviceInterface.
func NewMock() *Mock {
	return &Mock{opened: make(map[int]bool)}
}

// AddDevice registers a simulated digitizer at the next device index,
// mirroring MockControlUnit::AddDigitizer.
func (m *Mock) AddDevice(productID, nofChannels int, serial string) int {
	return m.addDevice(productID, nofChannels, serial, FirmwareTypeDAQ, DataFormatInt16)
}

// AddDeviceWithFirmware registers a simulated digitizer reporting the given
// firmware family, letting a test exercise ATD-specific behavior (§4.4.1
// code_normalization accumulation, §4.5.1 DRAM-fill polling being skipped
// for ATD firmware).
func (m *Mock) AddDeviceWithFirmware(productID, nofChannels int, serial string, firmware FirmwareType) int {
	return m.addDevice(productID, nofChannels, serial, firmware, DataFormatInt16)
}

// AddDeviceWithDataFormat registers a simulated digitizer whose channels
// produce records in the given wire data_format (§6: "int16,int32").
func (m *Mock) AddDeviceWithDataFormat(productID, nofChannels int, serial string, dataFormat uint8) int {
	return m.addDevice(productID, nofChannels, serial, FirmwareTypeDAQ, dataFormat)
}

func (m *Mock) addDevice(productID, nofChannels int, serial string, firmware FirmwareType, dataFormat uint8) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, newMockDevice(productID, nofChannels, serial, firmware, dataFormat))
	return len(m.devices) - 1
}

// device resolves the 0-based "init index" convention used by
// SetupDevice/OpenDeviceInterface/EnableErrorTrace (§6, mock_control_unit.cpp).
func (m *Mock) device(index int) (*mockDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return nil, queue.NewError(queue.StatusInvalid, "device index %d out of range", index)
	}
	return m.devices[index], nil
}

// controlDevice resolves the 1-based "control index" convention used by
// every per-device operation besides setup/open/trace (§6:
// mock_control_unit.cpp rejects adq_num==0 and indexes m_digitizers[adq_num-1]).
func (m *Mock) controlDevice(index int) (*mockDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index <= 0 || index > len(m.devices) {
		return nil, queue.NewError(queue.StatusInvalid, "control index %d out of range", index)
	}
	return m.devices[index-1], nil
}

func (m *Mock) SetupDevice(index int) (int, error) {
	d, err := m.device(index)
	if err != nil {
		return 0, err
	}
	if err := d.setup(); err != nil {
		return 0, queue.NewError(queue.StatusInternal, "%v", err)
	}
	return 1, nil
}

func (m *Mock) ListDevices() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceInfo, len(m.devices))
	for i, d := range m.devices {
		out[i] = DeviceInfo{ProductID: d.productID, Serial: d.serial}
	}
	return out, nil
}

func (m *Mock) OpenDeviceInterface(index int) error {
	if _, err := m.device(index); err != nil {
		return err
	}
	m.mu.Lock()
	m.opened[index] = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) EnableErrorTrace(index int, level int, directory string) error {
	if _, err := m.device(index); err != nil {
		return err
	}
	m.traced.Store(level > 0)
	return nil
}

func (m *Mock) StartDataAcquisition(index int) error {
	d, err := m.controlDevice(index)
	if err != nil {
		return err
	}
	d.startAcquisition()
	return nil
}

func (m *Mock) StopDataAcquisition(index int) error {
	d, err := m.controlDevice(index)
	if err != nil {
		return err
	}
	d.stopAcquisition()
	return nil
}

func (m *Mock) WaitForRecordBuffer(index int, timeoutMs int) (int, *Record, error) {
	d, err := m.controlDevice(index)
	if err != nil {
		return 0, nil, err
	}
	ch, buf, status := d.waitForRecordBuffer(timeoutMs)
	if status != queue.StatusOK {
		return 0, nil, queue.StatusError(status)
	}
	record := buf.Value
	record.Handle = d.preserve(ch, buf)
	return ch, &record, nil
}

func (m *Mock) ReturnRecordBuffer(index int, channel int, record *Record) error {
	d, err := m.controlDevice(index)
	if err != nil {
		return err
	}
	if channel < 0 || channel >= len(d.generators) {
		return queue.NewError(queue.StatusInvalid, "channel %d out of range", channel)
	}
	d.generators[channel].worker.ReleasePreserved(record.Handle)
	return nil
}

func (m *Mock) GetParameters(index int, id ParameterID) ([]byte, error) {
	d, err := m.controlDevice(index)
	if err != nil {
		return nil, err
	}
	switch id {
	case ParameterIDConstant:
		_, fs := d.generators[0].Parameters()
		return encodeConstantParameters(ConstantParameters{
			ProductName:         fmt.Sprintf("ADQ%d", d.productID),
			SerialNumber:        d.serial,
			NofChannels:         d.nofChannels,
			NofTransferChannels: d.nofChannels,
			SamplingFrequency:   fs,
			CodeNormalization:   65536,
			Firmware:            d.firmware,
		}), nil
	default:
		return nil, queue.NewError(queue.StatusUnsupported, "parameter id %d", id)
	}
}

func (m *Mock) GetStatus(index int, id StatusID) ([]byte, error) {
	d, err := m.controlDevice(index)
	if err != nil {
		return nil, err
	}
	switch id {
	case StatusIDOverflow:
		return encodeOverflowStatus(OverflowStatus{Overflow: d.takeOverflow()}), nil
	case StatusIDDRAM:
		return encodeDRAMStatus(DRAMStatus{FillFraction: d.dramFillFraction()}), nil
	default:
		return nil, queue.NewError(queue.StatusUnsupported, "status id %d", id)
	}
}

type topParametersDoc struct {
	Top []SineParameters `json:"top"`
}

type clockSystemParametersDoc struct {
	ClockSystem struct {
		SamplingFrequency float64 `json:"sampling_frequency"`
	} `json:"clock_system"`
}

func (m *Mock) GetParametersString(index int, id ParameterID) (string, error) {
	return m.InitializeParametersString(index, id)
}

func (m *Mock) InitializeParametersString(index int, id ParameterID) (string, error) {
	d, err := m.controlDevice(index)
	if err != nil {
		return "", err
	}
	switch id {
	case ParameterIDTop:
		doc := topParametersDoc{}
		for _, g := range d.generators {
			p, _ := g.Parameters()
			doc.Top = append(doc.Top, p)
		}
		b, merr := json.Marshal(doc)
		if merr != nil {
			return "", queue.NewError(queue.StatusInternal, "%v", merr)
		}
		return string(b), nil
	case ParameterIDClockSystem:
		doc := clockSystemParametersDoc{}
		_, fs := d.generators[0].Parameters()
		doc.ClockSystem.SamplingFrequency = fs
		b, merr := json.Marshal(doc)
		if merr != nil {
			return "", queue.NewError(queue.StatusInternal, "%v", merr)
		}
		return string(b), nil
	default:
		return "", queue.NewError(queue.StatusUnsupported, "parameter id %d", id)
	}
}

func (m *Mock) SetParametersString(index int, jsonStr string) error {
	d, err := m.controlDevice(index)
	if err != nil {
		return err
	}

	var probe map[string]json.RawMessage
	if uerr := json.Unmarshal([]byte(jsonStr), &probe); uerr != nil {
		return queue.NewError(queue.StatusInvalid, "malformed parameter JSON: %v", uerr)
	}

	if raw, ok := probe["top"]; ok {
		var top []SineParameters
		if uerr := json.Unmarshal(raw, &top); uerr != nil {
			return queue.NewError(queue.StatusInvalid, "malformed top parameters: %v", uerr)
		}
		if len(top) != len(d.generators) {
			return queue.NewError(queue.StatusInvalid, "top parameters: got %d channels, want %d", len(top), len(d.generators))
		}
		for i, p := range top {
			d.generators[i].SetParameters(p)
		}
	}

	if raw, ok := probe["clock_system"]; ok {
		var cs struct {
			SamplingFrequency float64 `json:"sampling_frequency"`
		}
		if uerr := json.Unmarshal(raw, &cs); uerr != nil {
			return queue.NewError(queue.StatusInvalid, "malformed clock system parameters: %v", uerr)
		}
		for _, g := range d.generators {
			g.SetSamplingFrequency(cs.SamplingFrequency)
		}
	}

	return nil
}

func (m *Mock) ValidateParametersString(index int, jsonStr string) error {
	if _, err := m.controlDevice(index); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if uerr := json.Unmarshal([]byte(jsonStr), &probe); uerr != nil {
		return queue.NewError(queue.StatusInvalid, "malformed parameter JSON: %v", uerr)
	}
	return nil
}

// SmTransaction has no simulated system-manager wired in by default; it
// reports Unsupported until a transaction handler is attached via
// WithTransactionHandler.
func (m *Mock) SmTransaction(index int, cmd uint16, wr []byte, rdLen int) ([]byte, error) {
	if _, err := m.controlDevice(index); err != nil {
		return nil, err
	}
	m.mu.Lock()
	fn := m.transact
	m.mu.Unlock()
	if fn == nil {
		return nil, queue.NewError(queue.StatusUnsupported, "no system-manager transaction handler attached")
	}
	return fn(cmd, wr, rdLen)
}

// WithTransactionHandler attaches fn as the handler for SmTransaction,
// letting sysmgr plug a simulated system manager behind the same vendor
// boundary the DSP side uses.
func (m *Mock) WithTransactionHandler(fn func(cmd uint16, wr []byte, rdLen int) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transact = fn
}
