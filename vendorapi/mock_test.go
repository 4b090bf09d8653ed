package vendorapi

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMockSetupAndAcquire(t *testing.T) {
	m := NewMock()
	index := m.AddDevice(0x0031, 2, "ADQMOCK-1")
	controlIndex := index + 1

	if _, err := m.SetupDevice(index); err != nil {
		t.Fatalf("SetupDevice: %v", err)
	}
	if err := m.OpenDeviceInterface(index); err != nil {
		t.Fatalf("OpenDeviceInterface: %v", err)
	}

	devices, err := m.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Serial != "ADQMOCK-1" {
		t.Fatalf("ListDevices==%+v, want one ADQMOCK-1 entry", devices)
	}

	if err := m.StartDataAcquisition(controlIndex); err != nil {
		t.Fatalf("StartDataAcquisition: %v", err)
	}
	defer m.StopDataAcquisition(controlIndex)

	ch, record, err := m.WaitForRecordBuffer(controlIndex, 2000)
	if err != nil {
		t.Fatalf("WaitForRecordBuffer: %v", err)
	}
	if ch < 0 || ch >= 2 {
		t.Fatalf("channel==%d, want in [0,2)", ch)
	}
	if len(record.Data16) != 1024 {
		t.Errorf("record length==%d, want 1024", len(record.Data16))
	}
	if record.Header.DataFormat != DataFormatInt16 {
		t.Errorf("data format==%d, want Int16", record.Header.DataFormat)
	}

	if err := m.ReturnRecordBuffer(controlIndex, ch, record); err != nil {
		t.Fatalf("ReturnRecordBuffer: %v", err)
	}

	raw, err := m.GetParameters(controlIndex, ParameterIDConstant)
	if err != nil {
		t.Fatalf("GetParameters: %v", err)
	}
	constants, err := DecodeConstantParameters(raw)
	if err != nil {
		t.Fatalf("DecodeConstantParameters: %v", err)
	}
	if constants.SerialNumber != "ADQMOCK-1" || constants.NofChannels != 2 {
		t.Errorf("constants==%+v, want serial=ADQMOCK-1 nof_channels=2", constants)
	}

	if _, err := m.GetStatus(controlIndex, StatusIDOverflow); err != nil {
		t.Fatalf("GetStatus(Overflow): %v", err)
	}
	if _, err := m.GetStatus(controlIndex, StatusIDDRAM); err != nil {
		t.Fatalf("GetStatus(DRAM): %v", err)
	}
	if _, err := m.GetParameters(index, ParameterIDConstant); err == nil {
		t.Error("GetParameters with a 0-based index (not control index) should fail")
	}
}

func TestMockUnknownDeviceIsInvalid(t *testing.T) {
	m := NewMock()
	if _, err := m.SetupDevice(0); err == nil {
		t.Error("SetupDevice on an unregistered index should fail")
	}
}

func TestMockParametersStringRoundTrip(t *testing.T) {
	m := NewMock()
	index := m.AddDevice(0x0031, 1, "ADQMOCK-2")
	controlIndex := index + 1
	if _, err := m.SetupDevice(index); err != nil {
		t.Fatalf("SetupDevice: %v", err)
	}

	initial, err := m.InitializeParametersString(controlIndex, ParameterIDTop)
	if err != nil {
		t.Fatalf("InitializeParametersString: %v", err)
	}

	var doc topParametersDoc
	if err := json.Unmarshal([]byte(initial), &doc); err != nil {
		t.Fatalf("unmarshal top parameters: %v", err)
	}
	if len(doc.Top) != 1 {
		t.Fatalf("top parameters has %d channels, want 1", len(doc.Top))
	}
	doc.Top[0].Frequency = 20e6
	doc.Top[0].Amplitude = 0.5

	updated, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := m.ValidateParametersString(controlIndex, string(updated)); err != nil {
		t.Fatalf("ValidateParametersString: %v", err)
	}
	if err := m.SetParametersString(controlIndex, string(updated)); err != nil {
		t.Fatalf("SetParametersString: %v", err)
	}

	d, _ := m.controlDevice(controlIndex)
	p, _ := d.generators[0].Parameters()
	if p.Frequency != 20e6 || p.Amplitude != 0.5 {
		t.Errorf("parameters after SetParametersString==%+v, want frequency=20e6 amplitude=0.5", p)
	}
}

func TestMockSetParametersStringRejectsMalformedJSON(t *testing.T) {
	m := NewMock()
	index := m.AddDevice(0x0031, 1, "ADQMOCK-3")
	controlIndex := index + 1
	m.SetupDevice(index)
	if err := m.SetParametersString(controlIndex, "{not json"); err == nil {
		t.Error("SetParametersString with malformed JSON should fail")
	}
}

func TestMockSmTransactionUnsupportedWithoutHandler(t *testing.T) {
	m := NewMock()
	index := m.AddDevice(0x0031, 1, "ADQMOCK-4")
	controlIndex := index + 1
	m.SetupDevice(index)
	if _, err := m.SmTransaction(controlIndex, 1, nil, 16); err == nil {
		t.Error("SmTransaction without an attached handler should fail")
	}

	m.WithTransactionHandler(func(cmd uint16, wr []byte, rdLen int) ([]byte, error) {
		return []byte{byte(cmd)}, nil
	})
	reply, err := m.SmTransaction(controlIndex, 7, nil, 16)
	if err != nil {
		t.Fatalf("SmTransaction: %v", err)
	}
	if len(reply) != 1 || reply[0] != 7 {
		t.Errorf("reply==%v, want [7]", reply)
	}
}

func TestMockWaitForRecordBufferTimesOutWhenIdle(t *testing.T) {
	m := NewMock()
	index := m.AddDevice(0x0031, 1, "ADQMOCK-5")
	controlIndex := index + 1
	m.SetupDevice(index)
	// Acquisition never started: no records should ever arrive.
	start := time.Now()
	if _, _, err := m.WaitForRecordBuffer(controlIndex, 30); err == nil {
		t.Error("WaitForRecordBuffer with no acquisition running should time out")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("WaitForRecordBuffer returned after %v, want >= 30ms", elapsed)
	}
}

// TestMockControlIndexRejectsZero documents the index-convention split
// (§6): SetupDevice/OpenDeviceInterface are 0-based, but every per-device
// operation that addresses an opened digitizer rejects control index 0.
func TestMockControlIndexRejectsZero(t *testing.T) {
	m := NewMock()
	m.AddDevice(0x0031, 1, "ADQMOCK-6")
	m.SetupDevice(0)
	if err := m.StartDataAcquisition(0); err == nil {
		t.Error("StartDataAcquisition(0) should fail: control index is 1-based")
	}
	if err := m.StartDataAcquisition(1); err != nil {
		t.Errorf("StartDataAcquisition(1): %v", err)
	}
}

// TestMockInt32DataFormat exercises the int32 wire format (§6).
func TestMockInt32DataFormat(t *testing.T) {
	m := NewMock()
	index := m.AddDeviceWithDataFormat(0x0031, 1, "ADQMOCK-7", DataFormatInt32)
	controlIndex := index + 1
	m.SetupDevice(index)
	m.OpenDeviceInterface(index)
	if err := m.StartDataAcquisition(controlIndex); err != nil {
		t.Fatalf("StartDataAcquisition: %v", err)
	}
	defer m.StopDataAcquisition(controlIndex)

	_, record, err := m.WaitForRecordBuffer(controlIndex, 2000)
	if err != nil {
		t.Fatalf("WaitForRecordBuffer: %v", err)
	}
	if record.Header.DataFormat != DataFormatInt32 {
		t.Errorf("data format==%d, want Int32", record.Header.DataFormat)
	}
	if len(record.Data32) != 1024 || record.Data16 != nil {
		t.Errorf("record==%+v, want 1024 int32 samples and no int16 data", record)
	}
}
