package adqcore

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sthenic/adqcore/queue"
	"github.com/sthenic/adqcore/sysmgr"
	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

// ControllerState is a node of the digitizer controller's state machine
// (§4.5): NotInitialized -> Initialization -> Idle <-> Acquisition.
type ControllerState int

const (
	StateNotInitialized ControllerState = iota
	StateInitialization
	StateIdle
	StateAcquisition
)

func (s ControllerState) String() string {
	switch s {
	case StateNotInitialized:
		return "NotInitialized"
	case StateInitialization:
		return "Initialization"
	case StateIdle:
		return "Idle"
	case StateAcquisition:
		return "Acquisition"
	default:
		return fmt.Sprintf("ControllerState(%d)", int(s))
	}
}

// CommandKind enumerates the controller's recognized messages (§4.5.2).
type CommandKind int

const (
	CommandStartAcquisition CommandKind = iota
	CommandStopAcquisition
	CommandSetTopParameters
	CommandSetClockSystemParameters
	CommandSetInternalReference
	CommandSetExternalReference
	CommandSetExternalClock
	CommandDefaultAcquisition
	CommandScaleRecordLength
	CommandInitializeParameters
	CommandGetTopParameters
	CommandGetClockSystemParameters
	CommandSetProcessingParameters
	CommandClearProcessingMemory
	CommandCallPython
)

// ClockSource selects the clock-system reference for SetInternalReference /
// SetExternalReference / SetExternalClock (§4.5.2).
type ClockSource int

const (
	ClockSourceInternalReference ClockSource = iota
	ClockSourceExternalReference
	ClockSourceExternalClock
)

// Command is one message pushed to the controller (§4.5.2). Only the
// fields relevant to Kind are meaningful.
type Command struct {
	Kind                 CommandKind
	ScaleFactor          float64
	ClockSource          ClockSource
	ProcessingParameters ProcessingParameters
	PythonModule         string
}

// EventKind enumerates the unsolicited events the controller may emit
// alongside command echoes (§4.5.3, §4.5.1).
type EventKind int

const (
	EventEcho EventKind = iota
	EventClear
	EventError
	EventStateChanged
	EventOverflow
	EventDramFill
	EventNoActivity
	EventPython
	EventInitializeWouldOverwrite
	EventConstants
)

// Event is the payload carried out of the controller on its outbound
// channel, either a command echo/result or an unsolicited notification.
type Event struct {
	Kind    EventKind
	Command CommandKind
	Result  queue.Status
	Message string
	State   ControllerState
	Fraction float64
	Constants DigitizerConstants
}

// ControllerMessage is the single type multiplexed over the controller's
// bidirectional channel: a Command travels in, an Event travels out (§4.2).
type ControllerMessage struct {
	Command *Command
	Event   *Event
}

// ParameterWatcher is the file-watcher collaborator responsible for one
// parameter blob (top or clock-system); external to the core (§6
// "Persistent directories", §1 Non-goals — file watching itself is out of
// scope, only the interface the controller calls through is part of the
// core).
type ParameterWatcher interface {
	// Push notifies the watcher of a freshly fetched JSON blob.
	// suppressEcho, when true, tells the watcher not to treat this as a
	// user edit needing its own change notification (§4.5.2
	// GetTopParameters/GetClockSystemParameters).
	Push(jsonText string, suppressEcho bool)
}

// PythonHost is the embedded-scripting collaborator CallPython forwards to
// (§1 Non-goals: "the embedded scripting host" is an external collaborator).
type PythonHost interface {
	Call(module string) (stderr string, err error)
}

// Controller is the per-device message worker coordinating initialization,
// parameter blobs, acquisition, sensor/boot polling, and the per-channel
// DSP pipelines (§4.5).
type Controller struct {
	Label string

	api        vendorapi.API
	initIndex  int
	controlIndex int
	windowCache *window.Cache

	mu         sync.Mutex
	state      ControllerState
	constants  DigitizerConstants
	pipelines  []*Pipeline
	topJSON    string
	clockJSON  string

	topWatcher   ParameterWatcher
	clockWatcher ParameterWatcher
	pythonHost   PythonHost

	sensors  *sysmgr.Manager
	sensorRecords map[uint32]*SensorRecord

	noActivityThreshold time.Duration
	noActivityTripped   bool
	noActivityActive    bool

	channel *queue.Channel[ControllerMessage]
	worker  *queue.Worker

	sensorQueue *queue.Queue[map[uint32]SensorRecord]
}

// NewController builds a Controller for one device already set up via the
// vendor library at initIndex/controlIndex (§4.6 assigns these).
func NewController(label string, api vendorapi.API, initIndex, controlIndex int, windowCache *window.Cache, topWatcher, clockWatcher ParameterWatcher, pythonHost PythonHost) *Controller {
	c := &Controller{
		Label:        label,
		api:          api,
		initIndex:    initIndex,
		controlIndex: controlIndex,
		windowCache:  windowCache,
		state:        StateNotInitialized,
		topWatcher:   topWatcher,
		clockWatcher: clockWatcher,
		pythonHost:   pythonHost,
		sensorRecords: make(map[uint32]*SensorRecord),
		noActivityThreshold: time.Second,
		channel:      queue.NewChannel[ControllerMessage](16),
		sensorQueue:  queue.New[map[uint32]SensorRecord](1, true),
	}
	c.worker = queue.NewWorker(c, c.channel, c.sensorQueue)
	return c
}

// Start launches the controller's background goroutine, which immediately
// attempts initialization.
func (c *Controller) Start() error { return c.worker.Start() }

// Stop stops every owned pipeline and the controller's own goroutine.
func (c *Controller) Stop() error {
	c.mu.Lock()
	pipelines := append([]*Pipeline(nil), c.pipelines...)
	c.mu.Unlock()
	for _, p := range pipelines {
		p.Stop()
	}
	return c.worker.Stop()
}

// WaitForSensors is the consumer-facing read of the sensor outbound queue;
// it is persistent-tail (§4.1), so repeated reads with no new poll in
// between return the same snapshot with status Last.
func (c *Controller) WaitForSensors(timeoutMs int) (map[uint32]SensorRecord, queue.Status) {
	return c.sensorQueue.Read(timeoutMs, nil)
}

// State reports the controller's current state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Push sends a fire-and-forget command.
func (c *Controller) Push(cmd Command) queue.Status {
	return c.channel.Push(ControllerMessage{Command: &cmd}, -1)
}

// PushAndWaitEcho sends a command and waits for its echo Event.
func (c *Controller) PushAndWaitEcho(cmd Command, timeoutMs int) (Event, queue.Status) {
	id, status := c.channel.PushID(ControllerMessage{Command: &cmd}, -1)
	if status != queue.StatusOK {
		return Event{}, status
	}
	msg, status := c.channel.WaitID(timeoutMs, id)
	if status != queue.StatusOK {
		return Event{}, status
	}
	if msg.Event == nil {
		return Event{}, queue.StatusInternal
	}
	return *msg.Event, queue.StatusOK
}

// WaitEvent returns the next unsolicited (id 0) event.
func (c *Controller) WaitEvent(timeoutMs int) (Event, queue.Status) {
	msg, status := c.channel.Wait(timeoutMs)
	if msg.Event == nil {
		return Event{}, status
	}
	return *msg.Event, status
}

func (c *Controller) setState(s ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventStateChanged, State: s}}, 0, 0)
}

// Run is the controller's main loop (§4.5, §5: "100 ms timeout on command
// intake, giving it a natural 10 Hz housekeeping cadence").
func (c *Controller) Run(shutdown queue.ShutdownToken) error {
	if err := c.initialize(); err != nil {
		log.Printf("adqcore: controller %q: initialization failed: %v", c.Label, err)
		c.setState(StateNotInitialized)
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventError, Message: err.Error()}}, 0, 0)
	}

	lastSensorPoll := time.Time{}
	lastStatusPoll := time.Time{}

	for {
		if shutdown.Signalled() {
			return nil
		}

		msg, status := c.channel.ReadIn(100)
		if status == queue.StatusOK && msg.Command != nil {
			c.dispatch(msg.ID, *msg.Command)
		}

		now := time.Now()
		if now.Sub(lastSensorPoll) >= time.Second {
			lastSensorPoll = now
			c.pollSensors()
		}
		if c.State() == StateAcquisition && now.Sub(lastStatusPoll) >= time.Second {
			lastStatusPoll = now
			c.pollAcquisitionStatus()
		}
		c.pollActivity()
	}
}

// initialize performs the ordered setup sequence (§4.5).
func (c *Controller) initialize() error {
	c.setState(StateInitialization)

	if _, err := c.api.SetupDevice(c.initIndex); err != nil {
		return fmt.Errorf("setup device: %w", err)
	}

	topJSON, err := c.api.GetParametersString(c.controlIndex, vendorapi.ParameterIDTop)
	if err != nil {
		return fmt.Errorf("get top parameters: %w", err)
	}
	clockJSON, err := c.api.GetParametersString(c.controlIndex, vendorapi.ParameterIDClockSystem)
	if err != nil {
		return fmt.Errorf("get clock system parameters: %w", err)
	}

	rawConstants, err := c.api.GetParameters(c.controlIndex, vendorapi.ParameterIDConstant)
	if err != nil {
		return fmt.Errorf("get constant parameters: %w", err)
	}
	vendorConstants, err := vendorapi.DecodeConstantParameters(rawConstants)
	if err != nil {
		return fmt.Errorf("decode constant parameters: %w", err)
	}

	constants := DigitizerConstants{
		ProductName:         vendorConstants.ProductName,
		SerialNumber:        vendorConstants.SerialNumber,
		NofChannels:         vendorConstants.NofChannels,
		NofTransferChannels: vendorConstants.NofTransferChannels,
		SamplingFrequency:   vendorConstants.SamplingFrequency,
		CodeNormalization:   vendorConstants.CodeNormalization,
		IsATDFirmware:       vendorConstants.Firmware == vendorapi.FirmwareTypeATD,
	}

	var pipelines []*Pipeline
	for ch := 0; ch < constants.NofTransferChannels; ch++ {
		label := fmt.Sprintf("%s %s CH%d", constants.ProductName, constants.SerialNumber, ch)
		p := NewPipeline(label, c.api, c.controlIndex, ch, constants, c.windowCache)
		if err := p.Start(); err != nil {
			return fmt.Errorf("start pipeline %q: %w", label, err)
		}
		pipelines = append(pipelines, p)
	}

	// The <serial>_<firmware> watcher key (§4.5) is resolved by whatever
	// constructs this Controller's topWatcher/clockWatcher, since file
	// watching itself is an external collaborator (§1 Non-goals).
	sensorManager := sysmgr.NewManager()
	if wireable, ok := c.api.(interface {
		WithTransactionHandler(fn func(cmd uint16, wr []byte, rdLen int) ([]byte, error))
	}); ok {
		wireable.WithTransactionHandler(func(cmd uint16, wr []byte, rdLen int) ([]byte, error) {
			return sensorManager.Transact(sysmgr.Command(cmd), wr, rdLen)
		})
	}

	c.mu.Lock()
	c.constants = constants
	c.pipelines = pipelines
	c.topJSON = topJSON
	c.clockJSON = clockJSON
	c.sensors = sensorManager
	c.mu.Unlock()

	if c.topWatcher != nil {
		c.topWatcher.Push(topJSON, true)
	}
	if c.clockWatcher != nil {
		c.clockWatcher.Push(clockJSON, true)
	}

	c.seedSensors()
	c.setState(StateIdle)
	return nil
}

func (c *Controller) seedSensors() {
	c.mu.Lock()
	sensors := c.sensors
	c.mu.Unlock()
	if sensors == nil {
		return
	}
	reply, err := sensors.Transact(sysmgr.CmdSensorGetMap, nil, 256)
	if err != nil {
		return
	}
	ids, err := sysmgr.DecodeU32Slice(reply)
	if err != nil {
		return
	}
	c.mu.Lock()
	for _, id := range ids {
		if _, ok := c.sensorRecords[id]; !ok {
			c.sensorRecords[id] = &SensorRecord{ID: id}
		}
	}
	c.mu.Unlock()
}

// dispatch handles one inbound command, echoing its result per §4.5.3.
func (c *Controller) dispatch(id uint32, cmd Command) {
	err := c.handle(cmd)
	if err != nil {
		log.Printf("adqcore: controller %q: command failed: %v\n%s", c.Label, err, spew.Sdump(cmd))
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventEcho, Command: cmd.Kind, Result: queue.StatusInternal}}, id, 0)
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventError, Message: err.Error()}}, 0, 0)
		return
	}
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventEcho, Command: cmd.Kind, Result: queue.StatusOK}}, id, 0)
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventClear}}, 0, 0)
}

// handle performs one command's effect (§4.5.2). Any command accepted in
// Acquisition whose effect requires reconfiguration stops acquisition,
// performs the action, then restarts it.
func (c *Controller) handle(cmd Command) error {
	switch cmd.Kind {
	case CommandStartAcquisition:
		return c.startAcquisition()
	case CommandStopAcquisition:
		return c.stopAcquisition()
	case CommandSetTopParameters:
		return c.withReconfiguration(func() error {
			return c.api.SetParametersString(c.controlIndex, c.snapshotTopJSON())
		})
	case CommandSetClockSystemParameters:
		return c.withReconfiguration(func() error {
			return c.api.SetParametersString(c.controlIndex, c.snapshotClockJSON())
		})
	case CommandSetInternalReference:
		return c.setClockSource(ClockSourceInternalReference)
	case CommandSetExternalReference:
		return c.setClockSource(ClockSourceExternalReference)
	case CommandSetExternalClock:
		return c.setClockSource(ClockSourceExternalClock)
	case CommandDefaultAcquisition:
		return c.defaultAcquisition()
	case CommandScaleRecordLength:
		return c.scaleRecordLength(cmd.ScaleFactor)
	case CommandInitializeParameters:
		return c.initializeParameters()
	case CommandGetTopParameters:
		return c.refreshTopParameters()
	case CommandGetClockSystemParameters:
		return c.refreshClockParameters()
	case CommandSetProcessingParameters:
		return c.forwardToPipelines(func(p *Pipeline) { p.SetProcessingParameters(cmd.ProcessingParameters) })
	case CommandClearProcessingMemory:
		return c.forwardToPipelines(func(p *Pipeline) { p.ClearProcessingMemory() })
	case CommandCallPython:
		return c.callPython(cmd.PythonModule)
	default:
		return errUnsupported("unknown command kind %d", cmd.Kind)
	}
}

func (c *Controller) snapshotTopJSON() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topJSON
}

func (c *Controller) snapshotClockJSON() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockJSON
}

// withReconfiguration stops acquisition (if running), performs fn, then
// restarts acquisition so the caller sees a seamless edit mid-stream
// (§4.5 preamble).
func (c *Controller) withReconfiguration(fn func() error) error {
	wasAcquiring := c.State() == StateAcquisition
	if wasAcquiring {
		if err := c.stopAcquisition(); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		return err
	}
	if wasAcquiring {
		return c.startAcquisition()
	}
	return nil
}

func (c *Controller) startAcquisition() error {
	c.mu.Lock()
	pipelines := append([]*Pipeline(nil), c.pipelines...)
	afe := AnalogFrontEnd{InputRangeMillivolts: 1000, CodeNormalization: c.constants.CodeNormalization}
	c.mu.Unlock()

	for _, p := range pipelines {
		p.SetAnalogFrontEnd(afe)
	}
	if err := c.api.StartDataAcquisition(c.controlIndex); err != nil {
		return fmt.Errorf("start data acquisition: %w", err)
	}
	c.setState(StateAcquisition)
	return nil
}

func (c *Controller) stopAcquisition() error {
	if err := c.api.StopDataAcquisition(c.controlIndex); err != nil {
		log.Printf("adqcore: controller %q: stop data acquisition: %v", c.Label, err)
	}
	c.setState(StateIdle)
	return nil
}

func (c *Controller) setClockSource(source ClockSource) error {
	return c.withReconfiguration(func() error {
		doc := fmt.Sprintf(`{"clock_system":{"clock_source":%d}}`, int(source))
		if err := c.api.SetParametersString(c.controlIndex, doc); err != nil {
			return err
		}
		if err := c.api.SetParametersString(c.controlIndex, c.snapshotTopJSON()); err != nil {
			return err
		}
		return c.refreshConstants()
	})
}

func (c *Controller) defaultAcquisition() error {
	doc := `{"top":[{"record_length":32768,"trigger_frequency":15}]}`
	return c.api.SetParametersString(c.controlIndex, doc)
}

// scaleRecordLength multiplies the record_length of every channel entry by
// factor and writes the result back (§4.5.2); no per-channel enable flag is
// consulted, so disabled channels are scaled too. The top blob's schema is the
// vendor's (§6), but every vendor JSON this core has seen nests per-channel
// structs under a "top" array with a "record_length" field, so that's the
// shape manipulated here; an unrecognized shape leaves the blob untouched.
func (c *Controller) scaleRecordLength(factor float64) error {
	jsonText, err := c.api.GetParametersString(c.controlIndex, vendorapi.ParameterIDTop)
	if err != nil {
		return err
	}

	var doc struct {
		Top []map[string]any `json:"top"`
	}
	if err := json.Unmarshal([]byte(jsonText), &doc); err != nil {
		return fmt.Errorf("scale record length: %w", err)
	}
	if doc.Top == nil {
		return nil
	}
	for _, channel := range doc.Top {
		if v, ok := channel["record_length"].(float64); ok {
			channel["record_length"] = v * factor
		}
	}
	scaled, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scale record length: %w", err)
	}
	if err := c.api.SetParametersString(c.controlIndex, string(scaled)); err != nil {
		return err
	}
	return c.refreshTopParameters()
}

func (c *Controller) initializeParameters() error {
	top := c.snapshotTopJSON()
	clock := c.snapshotClockJSON()
	if top != "" || clock != "" {
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventInitializeWouldOverwrite}}, 0, 0)
		return nil
	}
	topJSON, err := c.api.InitializeParametersString(c.controlIndex, vendorapi.ParameterIDTop)
	if err != nil {
		return err
	}
	clockJSON, err := c.api.InitializeParametersString(c.controlIndex, vendorapi.ParameterIDClockSystem)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.topJSON = topJSON
	c.clockJSON = clockJSON
	c.mu.Unlock()
	if c.topWatcher != nil {
		c.topWatcher.Push(topJSON, false)
	}
	if c.clockWatcher != nil {
		c.clockWatcher.Push(clockJSON, false)
	}
	return c.refreshConstants()
}

func (c *Controller) refreshTopParameters() error {
	jsonText, err := c.api.GetParametersString(c.controlIndex, vendorapi.ParameterIDTop)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.topJSON = jsonText
	c.mu.Unlock()
	if c.topWatcher != nil {
		c.topWatcher.Push(jsonText, true)
	}
	return nil
}

func (c *Controller) refreshClockParameters() error {
	jsonText, err := c.api.GetParametersString(c.controlIndex, vendorapi.ParameterIDClockSystem)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.clockJSON = jsonText
	c.mu.Unlock()
	if c.clockWatcher != nil {
		c.clockWatcher.Push(jsonText, true)
	}
	return nil
}

// refreshConstants re-emits the (immutable, per §3) digitizer constants as a
// courtesy event, the way SetInternalReference/SetExternalReference/
// SetExternalClock and a safe InitializeParameters do after touching the
// clock system (§4.5.2).
func (c *Controller) refreshConstants() error {
	c.mu.Lock()
	constants := c.constants
	c.mu.Unlock()
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventConstants, Constants: constants}}, 0, 0)
	return nil
}

func (c *Controller) forwardToPipelines(fn func(*Pipeline)) error {
	c.mu.Lock()
	pipelines := append([]*Pipeline(nil), c.pipelines...)
	c.mu.Unlock()
	for _, p := range pipelines {
		fn(p)
	}
	return nil
}

func (c *Controller) callPython(module string) error {
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventPython, Message: module}}, 0, 0)
	if c.pythonHost == nil {
		return errUnsupported("no python host attached")
	}
	stderr, err := c.pythonHost.Call(module)
	if err != nil {
		return fmt.Errorf("%w: %s", err, stderr)
	}
	if err := c.refreshTopParameters(); err != nil {
		return err
	}
	return c.refreshClockParameters()
}

// pollSensors implements the 1000 ms sensor poll (§4.5.1): sample every
// known sensor, append to its series (capped at 36 000 points), and
// publish a snapshot on the sensor outbound queue.
func (c *Controller) pollSensors() {
	c.mu.Lock()
	sensors := c.sensors
	c.mu.Unlock()
	if sensors == nil {
		return
	}

	now := time.Now()
	c.mu.Lock()
	for id, rec := range c.sensorRecords {
		reply, err := sensors.Transact(sysmgr.CmdSensorGetValue, sysmgr.EncodeArgSensorGetValue(id, sysmgr.SensorFormatFloat), 4)
		if err != nil {
			rec.Status = err
			continue
		}
		v, derr := sysmgr.DecodeF32(reply)
		if derr != nil {
			rec.Status = derr
			continue
		}
		rec.Status = nil
		rec.Append(now, float64(v))
	}
	snapshot := make(map[uint32]SensorRecord, len(c.sensorRecords))
	for id, rec := range c.sensorRecords {
		snapshot[id] = *rec
	}
	c.mu.Unlock()

	c.sensorQueue.Write(snapshot, 0)
}

// pollAcquisitionStatus implements the overflow/DRAM poll while in
// Acquisition (§4.5.1): raise EventOverflow on a nonzero overflow status,
// and, for non-ATD firmware, emit DramFill(fraction).
func (c *Controller) pollAcquisitionStatus() {
	c.mu.Lock()
	isATD := c.constants.IsATDFirmware
	c.mu.Unlock()

	if raw, err := c.api.GetStatus(c.controlIndex, vendorapi.StatusIDOverflow); err == nil {
		overflow, err := vendorapi.DecodeOverflowStatus(raw)
		if err == nil && overflow.Overflow {
			c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventOverflow}}, 0, 0)
		}
	}

	if isATD {
		return
	}

	raw, err := c.api.GetStatus(c.controlIndex, vendorapi.StatusIDDRAM)
	if err != nil {
		return
	}
	dram, err := vendorapi.DecodeDRAMStatus(raw)
	if err != nil {
		return
	}
	c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventDramFill, Fraction: dram.FillFraction}}, 0, 0)
}

// pollActivity implements the adaptive no-activity hysteresis (§4.5.1):
// starts at 1000 ms, widens to the observed idle duration the first time
// it trips, and requires the idle duration to drop 500 ms below the
// tripped threshold before clearing.
func (c *Controller) pollActivity() {
	c.mu.Lock()
	pipelines := append([]*Pipeline(nil), c.pipelines...)
	threshold := c.noActivityThreshold
	tripped := c.noActivityTripped
	active := c.noActivityActive
	c.mu.Unlock()

	if len(pipelines) == 0 {
		return
	}

	var maxIdle time.Duration
	for _, p := range pipelines {
		idle, err := p.TimeSinceLastWrite()
		if err == nil && idle > maxIdle {
			maxIdle = idle
		}
	}

	const hysteresis = 500 * time.Millisecond

	if !active && maxIdle > threshold {
		c.mu.Lock()
		if !tripped {
			c.noActivityThreshold = maxIdle
			c.noActivityTripped = true
		}
		c.noActivityActive = true
		c.mu.Unlock()
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventNoActivity}}, 0, 0)
		return
	}

	if active && maxIdle < threshold-hysteresis {
		c.mu.Lock()
		c.noActivityActive = false
		c.noActivityTripped = false
		c.noActivityThreshold = time.Second
		c.mu.Unlock()
		c.channel.PushOut(ControllerMessage{Event: &Event{Kind: EventClear}}, 0, 0)
	}
}
