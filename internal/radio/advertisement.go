package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// AD structure types consumed by the report parser. Everything else in an
// advertising payload is skipped.
const (
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
	adTypeServices16   = 0x02 // incomplete list of 16-bit service UUIDs
	adTypeServices16C  = 0x03 // complete list
	adTypeManufacturer = 0xFF
)

// RawAdvertisement is one advertising report exactly as delivered by the
// radio event callback. It is parsed once and never retained.
type RawAdvertisement struct {
	Addr     [6]byte
	AddrType int // 0 = public, 1 = random
	RSSI     int
	Data     []byte
}

// ScanResult is one observed peripheral, deduplicated by Address.
// ManufacturerID/ManufacturerData are present only when observed.
type ScanResult struct {
	Address          string   `json:"address"`
	Name             string   `json:"name"`
	RSSI             int      `json:"rssi"`
	Services         []string `json:"services"`
	AddrType         int      `json:"addr_type"`
	ManufacturerID   *uint16  `json:"manufacturer_id,omitempty"`
	ManufacturerData string   `json:"manufacturer_data,omitempty"`
}

// FormatAddress renders a 6-byte MAC in canonical uppercase colon-hex form.
func FormatAddress(addr [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[0], addr[1], addr[2], addr[3], addr[4], addr[5])
}

// ParseAddress converts a colon-hex MAC string back to bytes. The inverse of
// FormatAddress; accepts either case.
func ParseAddress(s string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid address %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return addr, fmt.Errorf("invalid address %q", s)
		}
		addr[i] = b[0]
	}
	return addr, nil
}

// parseReport walks the length-prefixed AD structures of one raw report and
// builds a ScanResult. Malformed or truncated structures terminate the walk
// early; whatever was decoded up to that point is kept.
func parseReport(raw RawAdvertisement) *ScanResult {
	result := &ScanResult{
		Address:  FormatAddress(raw.Addr),
		RSSI:     raw.RSSI,
		AddrType: raw.AddrType,
		Services: []string{},
	}

	data := raw.Data
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 || i+1 >= len(data) {
			break
		}
		end := i + 1 + length
		if end > len(data) {
			// Truncated structure: stop rather than guess.
			break
		}
		adType := data[i+1]
		payload := data[i+2 : end]

		switch {
		case adType == adTypeShortName || adType == adTypeCompleteName:
			if utf8.Valid(payload) {
				result.Name = string(payload)
			}
		case adType == adTypeServices16 || adType == adTypeServices16C:
			for j := 0; j+1 < len(payload); j += 2 {
				uuid := uint16(payload[j]) | uint16(payload[j+1])<<8
				result.Services = append(result.Services, fmt.Sprintf("%04x", uuid))
			}
		case adType == adTypeManufacturer && length >= 3:
			id := uint16(payload[0]) | uint16(payload[1])<<8
			result.ManufacturerID = &id
			result.ManufacturerData = hex.EncodeToString(payload[2:])
		}

		i = end
	}

	return result
}

// noise reports whether the entry carries neither a name nor manufacturer
// data. Such entries are excluded from scan output.
func (r *ScanResult) noise() bool {
	return r.Name == "" && r.ManufacturerData == ""
}
