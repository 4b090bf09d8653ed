package adqcore

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sthenic/adqcore/queue"
	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
)

// PipelineMessage is the message set accepted by a DSP pipeline (§4.4.8).
// Exactly one field is meaningful per message; ClearProcessingMemory needs
// no payload, only the bool marker.
type PipelineMessage struct {
	SetAnalogFrontEnd       *AnalogFrontEnd
	SetProcessingParameters *ProcessingParameters
	ClearProcessingMemory   bool
}

// Pipeline is the per-channel DSP worker (§4.4): it pulls raw records from
// the vendor library, converts to the time domain, windows and FFTs,
// analyzes the spectrum, and emits ProcessedRecord values on its outbound
// buffer queue.
type Pipeline struct {
	Label string

	api         vendorapi.API
	index       int
	channel     int
	constants   DigitizerConstants
	windowCache *window.Cache

	mu     sync.Mutex
	afe    AnalogFrontEnd
	params ProcessingParameters

	mem       *analysisMemory
	waterfall waterfallHistory

	lastAccepted time.Time
	backpressure uint64

	pending chan pipelineControlReq
	worker  *queue.BufferWorker[ProcessedRecord]
}

type pipelineControlReq struct {
	msg  PipelineMessage
	done chan struct{}
}

// NewPipeline builds a Pipeline for one transfer channel of an opened
// device. windowCache is normally the process-wide window.Default().
func NewPipeline(label string, api vendorapi.API, index, channel int, constants DigitizerConstants, windowCache *window.Cache) *Pipeline {
	p := &Pipeline{
		Label:       label,
		api:         api,
		index:       index,
		channel:     channel,
		constants:   constants,
		windowCache: windowCache,
		params:      ProcessingParameters{AverageCount: 1, ConvertHorizontal: true, ConvertVertical: true},
		mem:         newAnalysisMemory(1),
		pending:     make(chan pipelineControlReq, 8),
	}
	p.worker = queue.NewBufferWorker[ProcessedRecord](p, 4, 0, func() ProcessedRecord { return ProcessedRecord{} })
	return p
}

// Start launches the pipeline's background goroutine.
func (p *Pipeline) Start() error { return p.worker.Start() }

// Stop stops the pipeline, joining its goroutine.
func (p *Pipeline) Stop() error { return p.worker.Stop() }

// WaitForProcessedRecord is the consumer-facing read of the outbound queue.
func (p *Pipeline) WaitForProcessedRecord(timeoutMs int) (*queue.Buffer[ProcessedRecord], queue.Status) {
	return p.worker.WaitForBuffer(timeoutMs)
}

// ReturnProcessedRecord releases a consumer's reference.
func (p *Pipeline) ReturnProcessedRecord(buf *queue.Buffer[ProcessedRecord]) {
	p.worker.ReturnBuffer(buf)
}

// TimeSinceLastWrite reports how long it has been since the pipeline last
// accepted a raw record, the per-channel activity signal the controller's
// no-activity hysteresis polls (§4.5.1, §4.1 time_since_last_write).
func (p *Pipeline) TimeSinceLastWrite() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastAccepted.IsZero() {
		return 0, queue.NewError(queue.StatusNotReady, "pipeline %q has not accepted a record yet", p.Label)
	}
	return time.Since(p.lastAccepted), nil
}

// Backpressure reports how many records have been dropped because the
// outbound queue was full (§4.4 "Contract with downstream").
func (p *Pipeline) Backpressure() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backpressure
}

// applyControl sends a control message to the main loop. While the pipeline
// is running it blocks until the loop has applied the message, mirroring the
// synchronous-configuration shape used by the simulated hardware's own
// channel generators; while it is not running it returns at once and the
// loop applies the message on its first iteration after Start.
func (p *Pipeline) applyControl(msg PipelineMessage) {
	req := pipelineControlReq{msg: msg, done: make(chan struct{})}
	p.pending <- req
	if !p.worker.Running() {
		return
	}
	<-req.done
}

// SetAnalogFrontEnd updates the calibration used by time-domain conversion
// (§4.4.8).
func (p *Pipeline) SetAnalogFrontEnd(afe AnalogFrontEnd) {
	p.applyControl(PipelineMessage{SetAnalogFrontEnd: &afe})
}

// SetProcessingParameters updates windowing/FFT/tone-identification
// configuration (§4.4.8).
func (p *Pipeline) SetProcessingParameters(params ProcessingParameters) {
	p.applyControl(PipelineMessage{SetProcessingParameters: &params})
}

// ClearProcessingMemory empties the moving-average and noise-average
// memories (§4.4.8).
func (p *Pipeline) ClearProcessingMemory() {
	p.applyControl(PipelineMessage{ClearProcessingMemory: true})
}

func (p *Pipeline) drainPending() {
	for {
		select {
		case req := <-p.pending:
			p.mu.Lock()
			switch {
			case req.msg.SetAnalogFrontEnd != nil:
				p.afe = *req.msg.SetAnalogFrontEnd
			case req.msg.SetProcessingParameters != nil:
				p.params = *req.msg.SetProcessingParameters
				p.mem.average.Resize(p.params.AverageCount)
				p.mem.noise.Clear()
			case req.msg.ClearProcessingMemory:
				p.mem.clear()
			}
			p.mu.Unlock()
			close(req.done)
		default:
			return
		}
	}
}

// Run is the pipeline's main loop (§4.4): one iteration pulls a raw
// record, processes it, and emits at most one ProcessedRecord.
func (p *Pipeline) Run(shutdown queue.ShutdownToken) error {
	for {
		if shutdown.Signalled() {
			return nil
		}
		p.drainPending()

		_, record, err := p.api.WaitForRecordBuffer(p.index, 100)
		if err != nil {
			var qerr *queue.Error
			if errors.As(err, &qerr) {
				switch qerr.Status {
				case queue.StatusAgain, queue.StatusNotReady, queue.StatusInterrupted:
					continue
				}
			}
			log.Printf("adqcore: pipeline %q: fatal vendor library error: %v\n%s", p.Label, err, spew.Sdump(p.params))
			return err
		}
		if record == nil {
			continue
		}

		p.processRecord(record)
		if err := p.api.ReturnRecordBuffer(p.index, p.channel, record); err != nil {
			log.Printf("adqcore: pipeline %q: ReturnRecordBuffer: %v", p.Label, err)
		}
	}
}

func (p *Pipeline) processRecord(record *vendorapi.Record) {
	now := time.Now()
	p.mu.Lock()
	afe := p.afe
	params := p.params
	var estTriggerFreq float64
	if !p.lastAccepted.IsZero() {
		dt := now.Sub(p.lastAccepted).Seconds()
		if dt > 0 {
			estTriggerFreq = 1 / dt
		}
	}
	p.lastAccepted = now
	p.mu.Unlock()

	codes, err := decodeRecordCodes(record)
	if err != nil {
		log.Printf("adqcore: pipeline %q: %v, skipping record", p.Label, err)
		return
	}
	td := BuildTimeDomain(record.Header, codes, p.constants, afe, params)
	stats := computeTimeDomainStatistics(td.Y)

	fs := samplingFrequency(record.Header)
	nCode := effectiveCodeNormalization(p.constants, record.Header)
	spec, err := computeSpectrum(codes, fs, nCode, params.Window, p.windowCache)
	if err != nil {
		log.Printf("adqcore: pipeline %q: %v", p.Label, err)
		return
	}

	skirt := params.SkirtHalfWidth
	if skirt < 0 {
		skirt = 0
	}
	nyquist := fs / 2

	result := analyzeSpectrum(p.mem, spec.power, skirt, spec.bin, params.FundamentalFrequency, nyquist)

	f0 := result.fundamental.Frequency
	harmonics, gain, offset := buildHarmonicsAndSpurs(f0, fs, spec.bin, skirt, result.averaged)
	fundamental := result.fundamental
	dc := result.dc
	worstSpur := result.worstSpur

	overlap := resolveOverlaps(&fundamental, &dc, harmonics, &gain, &offset)

	var harmonicsPower, interleavingPower float64
	for _, h := range harmonics {
		harmonicsPower += h.Power
	}
	interleavingPower = gain.Power + offset.Power

	metricsIn := derivedMetricsInput{
		fundamentalPower:  fundamental.Power,
		dcPower:           dc.Power,
		harmonicsPower:    harmonicsPower,
		interleavingPower: interleavingPower,
		totalPower:        result.totalPower,
		worstSpurPower:    worstSpur.Power,
		nofBins:           len(result.averaged),
		bin:               spec.bin,
		fullscaleENOB:      params.FullscaleENOB,
	}
	snr, thd, sinad, enob, sfdrFS, sfdrC, noiseAvg, npsd, noiseFloor := computeDerivedMetrics(metricsIn, &p.mem.noise)

	powerDBFS := make([]float64, len(result.averaged))
	for i, v := range result.averaged {
		powerDBFS[i] = dB(v)
	}
	if params.FFTMaxHold {
		powerDBFS = make([]float64, len(result.averaged))
		held := p.mem.maxHold.Push(result.averaged)
		for i, v := range held {
			powerDBFS[i] = dB(v)
		}
	}

	p.waterfall.push(powerDBFS)

	fd := FrequencyDomainRecord{
		N:                  spec.n,
		Bin:                spec.bin,
		PowerDBFS:          powerDBFS,
		AmplitudeScale:     spec.amplitudeScale,
		EnergyScale:        spec.energyScale,
		Fundamental:        fundamental,
		DC:                 dc,
		WorstSpur:          worstSpur,
		Harmonics:          harmonics,
		InterleavingGain:   gain,
		InterleavingOffset: offset,
		Overlap:            overlap,
		SNR:                snr,
		THD:                thd,
		SINAD:              sinad,
		ENOB:               enob,
		SFDRdBFS:           sfdrFS,
		SFDRdBc:            sfdrC,
		NoiseAverage:       noiseAvg,
		NPSD:               npsd,
		NoiseFloor:         noiseFloor,
	}

	var bytesInRecord int
	switch record.Header.DataFormat {
	case vendorapi.DataFormatInt32:
		bytesInRecord = len(record.Data32) * 4
	default:
		bytesInRecord = len(record.Data16) * 2
	}
	estThroughput := float64(bytesInRecord) * estTriggerFreq

	processed := ProcessedRecord{
		Label:                     p.Label,
		TimeDomain:                td,
		TimeDomainStatistics:      stats,
		FrequencyDomain:           fd,
		Waterfall:                 p.waterfall.materialize(),
		EstimatedTriggerFrequency: estTriggerFreq,
		EstimatedThroughput:       estThroughput,
	}

	buf := p.worker.Acquire()
	if buf == nil {
		p.mu.Lock()
		p.backpressure++
		p.mu.Unlock()
		return
	}
	buf.Value = processed
	if status := p.worker.Publish(buf, 0); status != queue.StatusOK {
		p.worker.ReturnBuffer(buf)
		p.mu.Lock()
		p.backpressure++
		p.mu.Unlock()
	}
}
