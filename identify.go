package adqcore

import (
	"fmt"

	"github.com/sthenic/adqcore/queue"
	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

// ControllerFactory builds a Controller for one opened device; injected so
// the identification service does not need to know how watchers/python
// hosts are wired for a given deployment.
type ControllerFactory func(label string, api vendorapi.API, initIndex, controlIndex int) *Controller

// Identification is the record published by the identification service
// (§4.6): one pass of device enumeration, regardless of outcome.
type Identification struct {
	ControlUnitHandle int
	APIRevision       string
	CompatibilityOK   bool
	Controllers       []*Controller
}

// recognizedProductFamily reports whether a product id belongs to a
// digitizer family this core knows how to drive. The vendor library may
// list unrelated devices (e.g. auxiliary USB peripherals) that should be
// skipped rather than opened.
func recognizedProductFamily(productID int) bool {
	return productID > 0
}

// Identify performs the single identification pass (§4.6): set up a vendor
// control unit, enable error tracing if a log directory is supplied, list
// devices, open every recognized one, and build one Controller per opened
// device. A compatibility failure still returns a record with
// CompatibilityOK=false rather than an error, so the caller can present a
// dedicated error instead of treating the whole pass as failed.
func Identify(api vendorapi.API, logDirectory string, windowCache *window.Cache, newController ControllerFactory) (Identification, error) {
	if windowCache == nil {
		windowCache = window.Default()
	}

	const initIndex = 0
	if _, err := api.SetupDevice(initIndex); err != nil {
		return Identification{CompatibilityOK: false}, fmt.Errorf("setup control unit: %w", err)
	}

	if logDirectory != "" {
		if err := api.EnableErrorTrace(initIndex, 1, logDirectory); err != nil {
			return Identification{ControlUnitHandle: initIndex, CompatibilityOK: false}, fmt.Errorf("enable error trace: %w", err)
		}
	}

	devices, err := api.ListDevices()
	if err != nil {
		return Identification{ControlUnitHandle: initIndex, CompatibilityOK: false}, fmt.Errorf("list devices: %w", err)
	}

	var controllers []*Controller
	for position, dev := range devices {
		if !recognizedProductFamily(dev.ProductID) {
			continue
		}
		// OpenDeviceInterface shares SetupDevice's 0-based convention
		// (mock_control_unit.cpp); only StartDataAcquisition and later
		// per-device calls switch to the 1-based control index (§4.6).
		if err := api.OpenDeviceInterface(position); err != nil {
			continue
		}
		controlIndex := position + 1
		label := fmt.Sprintf("Controller[%d] %s", controlIndex, dev.Serial)
		c := newController(label, api, initIndex, controlIndex)
		controllers = append(controllers, c)
	}

	return Identification{
		ControlUnitHandle: initIndex,
		APIRevision:       "1",
		CompatibilityOK:   true,
		Controllers:       controllers,
	}, nil
}

// IdentificationService runs Identify once and publishes the result on a
// persistent-tail outbound queue (§4.6: "one-shot worker").
type IdentificationService struct {
	api           vendorapi.API
	logDirectory  string
	windowCache   *window.Cache
	newController ControllerFactory
	out           *queue.Queue[Identification]
	worker        *queue.Worker
}

// NewIdentificationService builds the one-shot identification worker.
func NewIdentificationService(api vendorapi.API, logDirectory string, windowCache *window.Cache, newController ControllerFactory) *IdentificationService {
	return &IdentificationService{
		api:           api,
		logDirectory:  logDirectory,
		windowCache:   windowCache,
		newController: newController,
		out:           queue.New[Identification](1, true),
	}
}

// Run performs the single identification pass and publishes it, then
// returns (the worker does not loop).
func (s *IdentificationService) Run(shutdown queue.ShutdownToken) error {
	result, err := Identify(s.api, s.logDirectory, s.windowCache, s.newController)
	if err != nil {
		result.CompatibilityOK = false
	}
	s.out.Write(result, -1)
	return nil
}

// Start launches the one-shot worker.
func (s *IdentificationService) Start() error {
	w := queue.NewWorker(s, s.out)
	s.worker = w
	return w.Start()
}

// WaitForResult is the consumer-facing read; persistent-tail means
// repeated reads after the single pass keep returning the same result with
// status Last.
func (s *IdentificationService) WaitForResult(timeoutMs int) (Identification, queue.Status) {
	return s.out.Read(timeoutMs, nil)
}

// Stop joins the one-shot worker's goroutine.
func (s *IdentificationService) Stop() error {
	if s.worker == nil {
		return queue.NewError(queue.StatusNotReady, "identification service not started")
	}
	return s.worker.Stop()
}
