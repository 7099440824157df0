// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package formats

import "strings"

// unitGains maps amplitude unit strings to the scale factor that converts
// them to volts or amperes.
var unitGains = map[string]float64{
	"pA": 1e-12, "pV": 1e-12,
	"nA": 1e-9, "nV": 1e-9,
	"uA": 1e-6, "uV": 1e-6, "µA": 1e-6, "µV": 1e-6,
	"mA": 1e-3, "mV": 1e-3,
	"A": 1, "V": 1,
}

// GainFromUnit returns the factor converting samples in the given unit to
// the matching SI base unit. Unknown units return gain 1 and false so
// callers can warn without aborting a conversion.
func GainFromUnit(unit string) (float64, bool) {
	if g, ok := unitGains[strings.TrimSpace(unit)]; ok {
		return g, true
	}
	return 1.0, false
}

// natLess orders strings with embedded integers numerically, so
// "CSC2.ncs" sorts before "CSC10.ncs". Used when assembling multi-file
// recordings in channel order.
func natLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			an, arest := leadingInt(a)
			bn, brest := leadingInt(b)
			if an != bn {
				return an < bn
			}
			a, b = arest, brest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingInt(s string) (int64, string) {
	var n int64
	i := 0
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int64(s[i]-'0')
		i++
	}
	return n, s[i:]
}
