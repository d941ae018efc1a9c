package radio

import "strings"

// Bluetooth Base UUID tail. A 16-bit shorthand xxxx expands to
// 0000xxxx-0000-1000-8000-00805f9b34fb.
const baseUUIDSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts any accepted UUID spelling to the canonical internal
// form: 32 lowercase hex characters, no dashes. 16-bit and 32-bit shorthands
// are expanded over the Bluetooth Base UUID so that "180d" and
// "0000180d-0000-1000-8000-00805f9b34fb" map to the same key.
// Strings that are not recognizable as UUIDs are returned lowercased with
// separators stripped; lookups on them simply miss.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4:
		if isHex(s) {
			return "0000" + s + baseUUIDSuffix
		}
	case 8:
		if isHex(s) {
			return s + baseUUIDSuffix
		}
	}
	return s
}

// isHex expects s to be lowercased already.
func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
