package adqcore

import (
	"testing"

	"github.com/sthenic/adqcore/vendorapi"
)

func TestEffectiveCodeNormalizationNonATDIgnoresFirmwareSpecific(t *testing.T) {
	constants := DigitizerConstants{CodeNormalization: 65536, IsATDFirmware: false}
	header := vendorapi.RecordHeader{FirmwareSpecific: 4}
	if got := effectiveCodeNormalization(constants, header); got != 65536 {
		t.Errorf("effectiveCodeNormalization==%v, want 65536 (non-ATD ignores firmware_specific)", got)
	}
}

func TestEffectiveCodeNormalizationATDScalesByAccumulationCount(t *testing.T) {
	constants := DigitizerConstants{CodeNormalization: 65536, IsATDFirmware: true}
	header := vendorapi.RecordHeader{FirmwareSpecific: 4}
	want := 65536.0 * 4
	if got := effectiveCodeNormalization(constants, header); got != want {
		t.Errorf("effectiveCodeNormalization==%v, want %v", got, want)
	}
}

func TestEffectiveCodeNormalizationATDZeroFirmwareSpecificOmitsMultiplier(t *testing.T) {
	constants := DigitizerConstants{CodeNormalization: 65536, IsATDFirmware: true}
	header := vendorapi.RecordHeader{FirmwareSpecific: 0}
	if got := effectiveCodeNormalization(constants, header); got != 65536 {
		t.Errorf("effectiveCodeNormalization==%v, want 65536 (zero firmware_specific preserved, not multiplied)", got)
	}
}

func TestDecodeRecordCodesInt16(t *testing.T) {
	record := &vendorapi.Record{
		Header: vendorapi.RecordHeader{DataFormat: vendorapi.DataFormatInt16},
		Data16: []int16{-1, 0, 1, 32767},
	}
	codes, err := decodeRecordCodes(record)
	if err != nil {
		t.Fatalf("decodeRecordCodes: %v", err)
	}
	want := []float64{-1, 0, 1, 32767}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d]=%v, want %v", i, codes[i], want[i])
		}
	}
}

func TestDecodeRecordCodesInt32(t *testing.T) {
	record := &vendorapi.Record{
		Header: vendorapi.RecordHeader{DataFormat: vendorapi.DataFormatInt32},
		Data32: []int32{-1, 0, 1, 2147483647},
	}
	codes, err := decodeRecordCodes(record)
	if err != nil {
		t.Fatalf("decodeRecordCodes: %v", err)
	}
	want := []float64{-1, 0, 1, 2147483647}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d]=%v, want %v", i, codes[i], want[i])
		}
	}
}

func TestDecodeRecordCodesRejectsPulseAttributes(t *testing.T) {
	record := &vendorapi.Record{Header: vendorapi.RecordHeader{DataFormat: vendorapi.DataFormatPulseAttributes}}
	if _, err := decodeRecordCodes(record); err == nil {
		t.Error("decodeRecordCodes should reject data_format=PulseAttributes")
	}
}
