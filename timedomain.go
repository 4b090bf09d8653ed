package adqcore

import (
	"fmt"
	"log"
	"math"

	"github.com/sthenic/adqcore/vendorapi"
)

// picosecond is the granularity time_unit is truncated to before use
// (§4.4.1: "truncate to picosecond granularity").
const picosecond = 1e-12

func truncateToPicosecond(timeUnit float64) float64 {
	return math.Trunc(timeUnit/picosecond) * picosecond
}

// effectiveCodeNormalization resolves N_code for one record: the
// constant's code_normalization, multiplied by the header's
// firmware_specific accumulation count for ATD-family firmware. A zero
// firmware_specific on ATD firmware is preserved-behavior per the source:
// log a warning and omit the multiplication rather than corrupting N_code
// with a multiply-by-zero (§4.4.1, §9 open question).
func effectiveCodeNormalization(constants DigitizerConstants, header vendorapi.RecordHeader) float64 {
	n := constants.CodeNormalization
	if !constants.IsATDFirmware {
		return n
	}
	if header.FirmwareSpecific == 0 {
		log.Printf("adqcore: ATD firmware reported firmware_specific=0 for channel %d, record %d; omitting accumulation multiplier", header.Channel, header.RecordNumber)
		return n
	}
	return n * float64(header.FirmwareSpecific)
}

// decodeCodes16 widens a raw record's int16 samples to float64 codes for
// downstream conversion and FFT normalization.
func decodeCodes16(data []int16) []float64 {
	codes := make([]float64, len(data))
	for i, v := range data {
		codes[i] = float64(v)
	}
	return codes
}

// decodeCodes32 widens a raw record's int32 samples to float64 codes (§6
// data_format=int32).
func decodeCodes32(data []int32) []float64 {
	codes := make([]float64, len(data))
	for i, v := range data {
		codes[i] = float64(v)
	}
	return codes
}

// decodeRecordCodes dispatches on the record header's data_format (§3: "Header
// fields ... are authoritative"), returning an error for formats this core's
// DSP pipeline does not convert to codes (e.g. pulse-attribute records).
func decodeRecordCodes(record *vendorapi.Record) ([]float64, error) {
	switch record.Header.DataFormat {
	case vendorapi.DataFormatInt16:
		return decodeCodes16(record.Data16), nil
	case vendorapi.DataFormatInt32:
		return decodeCodes32(record.Data32), nil
	default:
		return nil, fmt.Errorf("unsupported data_format %d", record.Header.DataFormat)
	}
}

// BuildTimeDomain derives a TimeDomainRecord from a raw record's codes
// (§4.4.1). codes must have length header.RecordLength.
func BuildTimeDomain(header vendorapi.RecordHeader, codes []float64, constants DigitizerConstants, afe AnalogFrontEnd, p ProcessingParameters) TimeDomainRecord {
	timeUnit := truncateToPicosecond(header.TimeUnit)
	dt := float64(header.SamplingPeriod) * timeUnit

	n := len(codes)
	x := make([]float64, n)
	y := make([]float64, n)

	nCode := effectiveCodeNormalization(constants, header)

	for k := 0; k < n; k++ {
		if p.ConvertHorizontal {
			x[k] = float64(header.RecordStart)*timeUnit + float64(k)*dt
		} else {
			x[k] = float64(k)
		}
		if p.ConvertVertical && nCode != 0 {
			volts := codes[k]/(nCode/2)*afe.InputRangeMillivolts - afe.DCOffset
			y[k] = volts / 1000
		} else {
			y[k] = codes[k]
		}
	}

	return TimeDomainRecord{Header: header, X: x, Y: y}
}

// samplingFrequency returns fs = round(1/Δt) for the record's header.
func samplingFrequency(header vendorapi.RecordHeader) float64 {
	timeUnit := truncateToPicosecond(header.TimeUnit)
	dt := float64(header.SamplingPeriod) * timeUnit
	if dt == 0 {
		return 0
	}
	return math.Round(1 / dt)
}
