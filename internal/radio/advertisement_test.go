package radio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adStruct builds one length-prefixed AD structure.
func adStruct(adType byte, payload ...byte) []byte {
	out := []byte{byte(len(payload) + 1), adType}
	return append(out, payload...)
}

func rawReport(addr [6]byte, rssi int, structures ...[]byte) RawAdvertisement {
	var data []byte
	for _, s := range structures {
		data = append(data, s...)
	}
	return RawAdvertisement{Addr: addr, RSSI: rssi, Data: data}
}

var testAddr = [6]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:11:22:33", FormatAddress(testAddr))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("aa:bb:cc:11:22:33")
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr)

	_, err = ParseAddress("aa:bb:cc")
	assert.Error(t, err)

	_, err = ParseAddress("zz:bb:cc:11:22:33")
	assert.Error(t, err)
}

func TestParseReportCompleteName(t *testing.T) {
	r := parseReport(rawReport(testAddr, -60,
		adStruct(adTypeCompleteName, []byte("Kitchen Scale")...)))

	assert.Equal(t, "AA:BB:CC:11:22:33", r.Address)
	assert.Equal(t, "Kitchen Scale", r.Name)
	assert.Equal(t, -60, r.RSSI)
	assert.Empty(t, r.Services)
	assert.Nil(t, r.ManufacturerID)
}

func TestParseReportShortName(t *testing.T) {
	r := parseReport(rawReport(testAddr, -60,
		adStruct(adTypeShortName, []byte("KS")...)))
	assert.Equal(t, "KS", r.Name)
}

func TestParseReportInvalidNameIgnored(t *testing.T) {
	// Broken UTF-8 must not produce a mangled name.
	r := parseReport(rawReport(testAddr, -60,
		adStruct(adTypeCompleteName, 0xFF, 0xFE, 0x41)))
	assert.Equal(t, "", r.Name)
}

func TestParseReportServices(t *testing.T) {
	// 0x180D and 0x180F, little-endian on the wire.
	r := parseReport(rawReport(testAddr, -60,
		adStruct(adTypeServices16C, 0x0D, 0x18, 0x0F, 0x18)))
	assert.Equal(t, []string{"180d", "180f"}, r.Services)
}

func TestParseReportManufacturer(t *testing.T) {
	// Company 0x004C, two data bytes.
	r := parseReport(rawReport(testAddr, -60,
		adStruct(adTypeManufacturer, 0x4C, 0x00, 0xDE, 0xAD)))
	require.NotNil(t, r.ManufacturerID)
	assert.Equal(t, uint16(0x004C), *r.ManufacturerID)
	assert.Equal(t, "dead", r.ManufacturerData)
}

func TestParseReportCombined(t *testing.T) {
	r := parseReport(rawReport(testAddr, -45,
		adStruct(adTypeCompleteName, []byte("Probe")...),
		adStruct(adTypeServices16, 0x0D, 0x18),
		adStruct(adTypeManufacturer, 0x4C, 0x00, 0x01)))

	assert.Equal(t, "Probe", r.Name)
	assert.Equal(t, []string{"180d"}, r.Services)
	assert.Equal(t, "01", r.ManufacturerData)
}

func TestParseReportTruncatedStructure(t *testing.T) {
	complete := adStruct(adTypeCompleteName, []byte("Probe")...)
	// Length claims 10 bytes but only 2 follow; the walk must stop there
	// and keep what was already decoded.
	truncated := []byte{0x0A, adTypeManufacturer, 0x4C}
	r := parseReport(rawReport(testAddr, -45, complete, truncated))

	assert.Equal(t, "Probe", r.Name)
	assert.Nil(t, r.ManufacturerID)
}

func TestParseReportZeroLengthTerminates(t *testing.T) {
	data := append(adStruct(adTypeCompleteName, []byte("A")...), 0x00, 0x09, 0x42)
	r := parseReport(RawAdvertisement{Addr: testAddr, RSSI: -45, Data: data})
	assert.Equal(t, "A", r.Name)
}

func TestParseReportUnknownTypeSkipped(t *testing.T) {
	r := parseReport(rawReport(testAddr, -45,
		adStruct(0x16, 0x0D, 0x18, 0x01), // service data, not consumed
		adStruct(adTypeCompleteName, []byte("After")...)))
	assert.Equal(t, "After", r.Name)
	assert.Empty(t, r.Services)
}

func TestScanResultJSONShape(t *testing.T) {
	id := uint16(0x004C)
	r := &ScanResult{
		Address:          "AA:BB:CC:11:22:33",
		Name:             "Probe",
		RSSI:             -45,
		Services:         []string{"180d"},
		AddrType:         1,
		ManufacturerID:   &id,
		ManufacturerData: "dead",
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"address": "AA:BB:CC:11:22:33",
		"name": "Probe",
		"rssi": -45,
		"services": ["180d"],
		"addr_type": 1,
		"manufacturer_id": 76,
		"manufacturer_data": "dead"
	}`, string(data))
}

func TestScanResultJSONOmitsAbsentManufacturer(t *testing.T) {
	r := &ScanResult{Address: "AA:BB:CC:11:22:33", Name: "Probe", Services: []string{}}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "manufacturer_id")
	assert.NotContains(t, string(data), "manufacturer_data")
	// services stays an array even when empty
	assert.Contains(t, string(data), `"services":[]`)
}
