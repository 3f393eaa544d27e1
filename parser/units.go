package parser

import (
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"
)

// Units is a bandwidth unit as iperf prints it, without the "/sec" suffix.
type Units string

const (
	Bits   Units = "bits"
	Kbits  Units = "Kbits"
	Mbits  Units = "Mbits"
	Gbits  Units = "Gbits"
	Bytes  Units = "Bytes"
	KBytes Units = "KBytes"
	MBytes Units = "MBytes"
	GBytes Units = "GBytes"
)

// DefaultUnits are the units samples are normalized to unless told
// otherwise.
const DefaultUnits = Mbits

const (
	kilo = 1e3
	mega = 1e6
	giga = 1e9
)

// bitsPer maps units to the number of bits per second one unit carries.
// Rates in bits are decimal, rates in bytes are binary, as in iperf.
var bitsPer = map[Units]float64{
	Bits:   1,
	Kbits:  kilo,
	Mbits:  mega,
	Gbits:  giga,
	Bytes:  8,
	KBytes: 8 * float64(datasize.KB),
	MBytes: 8 * float64(datasize.MB),
	GBytes: 8 * float64(datasize.GB),
}

// ParseUnits parses units such as "Mbits/sec" or "KBytes".
func ParseUnits(s string) (Units, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/sec")
	for u := range bitsPer {
		if strings.EqualFold(string(u), s) {
			return u, nil
		}
	}
	return "", fmt.Errorf("unknown units %q", s)
}

// Convert converts a rate between units.
func Convert(value float64, from Units, to Units) (float64, error) {
	f, ok := bitsPer[from]
	if !ok {
		return 0, fmt.Errorf("unknown units %q", from)
	}
	t, ok := bitsPer[to]
	if !ok {
		return 0, fmt.Errorf("unknown units %q", to)
	}
	return value * f / t, nil
}

// transferred converts the transfer column ("112 MBytes") to a byte size.
func transferred(value float64, units string) (datasize.ByteSize, error) {
	scale := map[string]datasize.ByteSize{
		"Bytes":  datasize.B,
		"KBytes": datasize.KB,
		"MBytes": datasize.MB,
		"GBytes": datasize.GB,
		"TBytes": datasize.TB,
	}
	s, ok := scale[units]
	if !ok {
		return 0, fmt.Errorf("unknown transfer units %q", units)
	}
	return datasize.ByteSize(value * float64(s)), nil
}
