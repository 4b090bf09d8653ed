package adqcore

import (
	"testing"
	"time"

	"github.com/sthenic/adqcore/queue"
	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

// factoryCall records one ControllerFactory invocation's arguments, so a
// test can inspect the (initIndex, controlIndex) Identify computed without
// reaching into the *Controller it built.
type factoryCall struct {
	label                   string
	initIndex, controlIndex int
}

func testControllerFactory(calls *[]factoryCall) ControllerFactory {
	return func(label string, api vendorapi.API, initIndex, controlIndex int) *Controller {
		*calls = append(*calls, factoryCall{label, initIndex, controlIndex})
		return NewController(label, api, initIndex, controlIndex, window.Default(), nil, nil, nil)
	}
}

// TestIdentifyAssignsOneBasedControlIndices confirms the position->control
// index mapping cited by §4.6 ("control index = position + 1"), the exact
// convention vendorapi.Mock's per-device operations require.
func TestIdentifyAssignsOneBasedControlIndices(t *testing.T) {
	api := vendorapi.NewMock()
	api.AddDevice(0x0031, 1, "SN0001")
	api.AddDevice(0x0031, 1, "SN0002")

	var calls []factoryCall
	result, err := Identify(api, "", window.Default(), testControllerFactory(&calls))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !result.CompatibilityOK {
		t.Fatalf("result.CompatibilityOK==false, want true")
	}
	if len(calls) != 2 {
		t.Fatalf("len(calls)==%d, want 2", len(calls))
	}
	for i, call := range calls {
		wantControlIndex := i + 1
		if call.controlIndex != wantControlIndex {
			t.Errorf("calls[%d].controlIndex==%d, want %d", i, call.controlIndex, wantControlIndex)
		}
		// initIndex is the control unit's own sticky setup index (§4.5:
		// "distinct from the control index"), shared by every digitizer
		// behind the same control unit.
		if call.initIndex != 0 {
			t.Errorf("calls[%d].initIndex==%d, want 0", i, call.initIndex)
		}
	}

	if len(result.Controllers) != 2 {
		t.Fatalf("len(result.Controllers)==%d, want 2", len(result.Controllers))
	}
}

// TestIdentifySkipsUnrecognizedProductFamily confirms a device whose
// product id is not in a recognized family is neither opened nor given a
// controller (§4.6: "for each device of a recognized product family").
func TestIdentifySkipsUnrecognizedProductFamily(t *testing.T) {
	api := vendorapi.NewMock()
	api.AddDevice(0x0031, 1, "SN0001")
	api.AddDevice(0, 1, "SN-AUX") // product id 0: not a recognized digitizer family

	var calls []factoryCall
	result, err := Identify(api, "", window.Default(), testControllerFactory(&calls))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(result.Controllers) != 1 {
		t.Fatalf("len(result.Controllers)==%d, want 1 (the unrecognized device should be skipped)", len(result.Controllers))
	}
	if calls[0].controlIndex != 1 {
		t.Errorf("calls[0].controlIndex==%d, want 1 (position 0, the only recognized device)", calls[0].controlIndex)
	}
}

// TestIdentifyControllersUseCorrectControlIndexAgainstMock exercises the
// full path end to end: a controller built from Identify's output must be
// able to actually drive its assigned device through vendorapi.Mock's
// 1-based control-index convention, which is what review flagged as broken
// when every index was treated as 0-based.
func TestIdentifyControllersUseCorrectControlIndexAgainstMock(t *testing.T) {
	api := vendorapi.NewMock()
	api.AddDevice(0x0031, 1, "SN0042")

	var calls []factoryCall
	result, err := Identify(api, "", window.Default(), testControllerFactory(&calls))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(result.Controllers) != 1 {
		t.Fatalf("len(result.Controllers)==%d, want 1", len(result.Controllers))
	}

	c := result.Controllers[0]
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.State() != StateIdle {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateIdle {
		t.Fatalf("state never reached Idle, stuck at %v", c.State())
	}

	event, status := c.PushAndWaitEcho(Command{Kind: CommandStartAcquisition}, 2000)
	if status != queue.StatusOK || event.Result != queue.StatusOK {
		t.Fatalf("StartAcquisition: event=%+v, status=%v", event, status)
	}
}

// TestIdentifyReportsSetupFailure confirms a failing SetupDevice surfaces an
// error rather than blocking forever (§4.6).
func TestIdentifyReportsSetupFailure(t *testing.T) {
	api := vendorapi.NewMock() // no devices registered: SetupDevice(0) fails
	var calls []factoryCall
	_, err := Identify(api, "", window.Default(), testControllerFactory(&calls))
	if err == nil {
		t.Fatal("Identify should fail when SetupDevice fails")
	}
}
