package adqcore

import (
	"testing"
	"time"

	"github.com/sthenic/adqcore/queue"
	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

type recordingWatcher struct {
	pushes []string
}

func (w *recordingWatcher) Push(jsonText string, suppressEcho bool) {
	w.pushes = append(w.pushes, jsonText)
}

func newTestController(t *testing.T) (*Controller, *recordingWatcher, *recordingWatcher) {
	t.Helper()
	api := vendorapi.NewMock()
	api.AddDevice(0x0031, 1, "SN0042")

	top := &recordingWatcher{}
	clock := &recordingWatcher{}
	c := NewController("Mock SN0042", api, 0, 1, window.NewCache(), top, clock, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c, top, clock
}

// TestControllerFetchesConstantsFromVendorLibrary confirms initialize()
// decodes the real ParameterIDConstant block rather than fabricating one
// (§3, §4.5).
func TestControllerFetchesConstantsFromVendorLibrary(t *testing.T) {
	api := vendorapi.NewMock()
	api.AddDevice(0x0031, 1, "SN0099")

	c := NewController("Mock SN0099", api, 0, 1, window.NewCache(), nil, nil, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	waitForState(t, c, StateIdle, time.Second)

	event, status := c.PushAndWaitEcho(Command{Kind: CommandSetInternalReference}, 2000)
	if status != queue.StatusOK || event.Result != queue.StatusOK {
		t.Fatalf("SetInternalReference: event=%+v, status=%v", event, status)
	}
	seen := drainUnstampedUntil(t, c, EventConstants, 5)
	constants := seen[len(seen)-1].Constants
	if constants.SerialNumber != "SN0099" {
		t.Fatalf("constants.SerialNumber==%q, want SN0099 (fetched from the vendor library, not fabricated)", constants.SerialNumber)
	}
	if constants.IsATDFirmware {
		t.Errorf("constants.IsATDFirmware==true, want false for a default (DAQ) firmware device")
	}
}

// TestControllerIsATDFirmwarePropagatesFromConstants confirms a device
// reporting ATD firmware decodes through to DigitizerConstants.IsATDFirmware
// (§4.4.1 accumulation, §4.5.1 DRAM-fill poll skipped for ATD).
func TestControllerIsATDFirmwarePropagatesFromConstants(t *testing.T) {
	api := vendorapi.NewMock()
	api.AddDeviceWithFirmware(0x0031, 1, "SN0100", vendorapi.FirmwareTypeATD)

	c := NewController("Mock SN0100", api, 0, 1, window.NewCache(), nil, nil, nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	waitForState(t, c, StateIdle, time.Second)

	event, status := c.PushAndWaitEcho(Command{Kind: CommandSetInternalReference}, 2000)
	if status != queue.StatusOK || event.Result != queue.StatusOK {
		t.Fatalf("SetInternalReference: event=%+v, status=%v", event, status)
	}
	seen := drainUnstampedUntil(t, c, EventConstants, 5)
	if !seen[len(seen)-1].Constants.IsATDFirmware {
		t.Error("constants.IsATDFirmware==false, want true for a device added with FirmwareTypeATD")
	}
}

// waitForState polls State() until it matches want or the deadline passes.
func waitForState(t *testing.T, c *Controller, want ControllerState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state never reached %v, stuck at %v", want, c.State())
}

// drainUnstampedUntil reads unstamped events until one of kind `want` shows
// up (returning every event seen, in order) or the attempt budget runs out.
// Unstamped traffic (state-changed notices, EventPython, ...) may be
// interleaved ahead of the terminal EventClear/EventError per §5's ordering
// guarantee ("modulo predicate filtering which may leave earlier
// non-matching messages buffered"), so a scenario assertion has to look
// past it rather than assume it's the very next message.
func drainUnstampedUntil(t *testing.T, c *Controller, want EventKind, attempts int) []Event {
	t.Helper()
	var seen []Event
	for i := 0; i < attempts; i++ {
		event, status := c.WaitEvent(2000)
		if status != queue.StatusOK {
			t.Fatalf("WaitEvent: status=%v", status)
		}
		seen = append(seen, event)
		if event.Kind == want {
			return seen
		}
	}
	t.Fatalf("never observed event kind %v within %d reads, saw %+v", want, attempts, seen)
	return nil
}

// S5: a StartAcquisition command from Idle transitions to Acquisition, then
// echoes the command with result OK, then emits EventClear (§8 scenario S5).
func TestControllerStartAcquisitionScenarioS5(t *testing.T) {
	c, _, _ := newTestController(t)
	waitForState(t, c, StateIdle, time.Second)

	event, status := c.PushAndWaitEcho(Command{Kind: CommandStartAcquisition}, 2000)
	if status != queue.StatusOK {
		t.Fatalf("PushAndWaitEcho: status=%v", status)
	}
	if event.Kind != EventEcho || event.Command != CommandStartAcquisition || event.Result != queue.StatusOK {
		t.Fatalf("echo event=%+v, want OK echo of StartAcquisition", event)
	}

	drainUnstampedUntil(t, c, EventClear, 5)

	if c.State() != StateAcquisition {
		t.Fatalf("state=%v, want Acquisition", c.State())
	}
}

// S6: a command that fails echoes the original command with a non-OK result
// and emits EventError; state is left unchanged (§8 scenario S6).
func TestControllerFailedCommandScenarioS6(t *testing.T) {
	c, _, _ := newTestController(t)
	waitForState(t, c, StateIdle, time.Second)

	event, status := c.PushAndWaitEcho(Command{Kind: CommandCallPython, PythonModule: "nonexistent"}, 2000)
	if status != queue.StatusOK {
		t.Fatalf("PushAndWaitEcho: status=%v", status)
	}
	if event.Kind != EventEcho || event.Command != CommandCallPython || event.Result == queue.StatusOK {
		t.Fatalf("echo event=%+v, want a failing echo of CallPython", event)
	}

	seen := drainUnstampedUntil(t, c, EventError, 5)
	errEvent := seen[len(seen)-1]
	if errEvent.Message == "" {
		t.Fatalf("expected a non-empty EventError message, got %+v", errEvent)
	}

	if c.State() != StateIdle {
		t.Fatalf("state=%v, want unchanged Idle after a failed command", c.State())
	}
}

// StopAcquisition reverses StartAcquisition and leaves the controller back
// in Idle (§4.5.2).
func TestControllerStopAcquisitionReturnsToIdle(t *testing.T) {
	c, _, _ := newTestController(t)
	waitForState(t, c, StateIdle, time.Second)

	if _, status := c.PushAndWaitEcho(Command{Kind: CommandStartAcquisition}, 2000); status != queue.StatusOK {
		t.Fatalf("StartAcquisition: status=%v", status)
	}
	if _, status := c.WaitEvent(2000); status != queue.StatusOK { // drain the oldest unstamped event
		t.Fatalf("drain unstamped event: status=%v", status)
	}
	waitForState(t, c, StateAcquisition, time.Second)

	if _, status := c.PushAndWaitEcho(Command{Kind: CommandStopAcquisition}, 2000); status != queue.StatusOK {
		t.Fatalf("StopAcquisition: status=%v", status)
	}
	waitForState(t, c, StateIdle, time.Second)
}

// WaitForSensors is persistent-tail: once the controller has polled at least
// once, repeated reads without an intervening poll return the same snapshot
// (§4.1, §8 property 5 applied to the sensor queue).
func TestControllerSensorQueueIsPersistent(t *testing.T) {
	c, _, _ := newTestController(t)
	waitForState(t, c, StateIdle, time.Second)

	first, status := c.WaitForSensors(2000)
	if status != queue.StatusOK {
		t.Fatalf("WaitForSensors: status=%v", status)
	}
	second, status := c.WaitForSensors(10)
	if status != queue.StatusLast {
		t.Fatalf("second WaitForSensors status=%v, want Last", status)
	}
	if len(first) != len(second) {
		t.Fatalf("persistent-tail snapshot changed size between reads: %d vs %d", len(first), len(second))
	}
}
