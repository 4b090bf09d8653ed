package adqcore

import (
	"math"
	"testing"
	"time"

	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

func newTestPipeline(t *testing.T) (*Pipeline, vendorapi.API) {
	t.Helper()
	api := vendorapi.NewMock()
	index := api.AddDevice(1, 1, "SN0001")
	controlIndex := index + 1
	if _, err := api.SetupDevice(index); err != nil {
		t.Fatalf("SetupDevice: %v", err)
	}
	if err := api.OpenDeviceInterface(index); err != nil {
		t.Fatalf("OpenDeviceInterface: %v", err)
	}
	if err := api.StartDataAcquisition(controlIndex); err != nil {
		t.Fatalf("StartDataAcquisition: %v", err)
	}

	constants := DigitizerConstants{
		ProductName:       "Mock",
		SerialNumber:      "SN0001",
		NofChannels:       1,
		SamplingFrequency: 500e6,
		CodeNormalization: 65536,
	}
	p := NewPipeline("Mock SN0001 A", api, controlIndex, 0, constants, window.NewCache())
	return p, api
}

func TestPipelineIdentifiesFundamental(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetProcessingParameters(ProcessingParameters{
		Window:            window.KindFlatTop,
		ConvertHorizontal: true,
		ConvertVertical:   true,
		SkirtHalfWidth:    5,
		AverageCount:      1,
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	buf, status := p.WaitForProcessedRecord(5000)
	if status != 0 {
		t.Fatalf("WaitForProcessedRecord: status=%v", status)
	}
	defer p.ReturnProcessedRecord(buf)

	fd := buf.Value.FrequencyDomain
	want := 13.12e6
	if math.Abs(fd.Fundamental.Frequency-want) > fd.Bin*2 {
		t.Errorf("fundamental frequency=%v, want near %v (bin=%v)", fd.Fundamental.Frequency, want, fd.Bin)
	}
	if len(fd.PowerDBFS) != fd.N/2+1 {
		t.Errorf("len(PowerDBFS)=%d, want %d", len(fd.PowerDBFS), fd.N/2+1)
	}
}

func TestPipelineBackpressureWhenQueueFull(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetProcessingParameters(ProcessingParameters{
		Window:            window.KindHanning,
		ConvertHorizontal: true,
		ConvertVertical:   true,
		SkirtHalfWidth:    3,
		AverageCount:      1,
	})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	// Let several records accumulate without ever draining the outbound
	// queue, past its capacity, and confirm the backpressure counter moves
	// instead of the pipeline blocking forever.
	time.Sleep(300 * time.Millisecond)
	if p.Backpressure() == 0 {
		t.Skip("timing-dependent: no backpressure observed in this run")
	}
}
