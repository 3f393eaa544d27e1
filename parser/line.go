package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
)

// SumThread is the thread index of the "[SUM]" lines iperf prints when more
// than one thread is running.
const SumThread = -1

// Sample is a single bandwidth report.
type Sample struct {
	// Thread is the iperf thread index, or SumThread.
	Thread int
	// Start and End bound the reporting interval, in seconds since the
	// beginning of the transfer.
	Start float64
	End   float64
	// Transferred is the amount of data moved during the interval.
	Transferred datasize.ByteSize
	// Value is the bandwidth, in Units per second.
	Value float64
	Units Units
}

// Duration returns the interval length, in seconds.
func (m Sample) Duration() float64 {
	return m.End - m.Start
}

// In returns the sample converted to the given units.
func (m Sample) In(units Units) (Sample, error) {
	v, err := Convert(m.Value, m.Units, units)
	if err != nil {
		return Sample{}, err
	}
	m.Value = v
	m.Units = units
	return m, nil
}

// [  3]  0.0- 1.0 sec   112 MBytes   941 Mbits/sec
// [SUM]  0.0-10.0 sec  1.10 GBytes   941 Mbits/sec
// [SUM-4]  0.0-10.0 sec  1.10 GBytes   941 Mbits/sec
// [  3]  0.0- 1.0 sec   128 KBytes  1.05 Mbits/sec   0.023 ms    0/   89 (0%)
var humanExpr = regexp.MustCompile(
	`^\[\s*(\d+|SUM)(?:-\d+)?\]\s+` +
		`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s+sec\s+` +
		`(\d+(?:\.\d+)?)\s+([KMGT]?Bytes)\s+` +
		`(\d+(?:\.\d+)?)\s+([KMG]?(?:bits|Bytes))/sec`,
)

// ParseLine extracts a sample from a single line of iperf output.
//
// Both the human-readable report and the CSV report style (--reportstyle C)
// are understood. The sample is returned in the units iperf printed it in;
// CSV reports are in bits. ok is false for lines that carry no bandwidth
// report, such as headers and connection notices.
func ParseLine(line string) (sample Sample, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, false, nil
	}
	if strings.HasPrefix(line, "[") {
		return parseHuman(line)
	}
	if strings.Count(line, ",") >= 8 {
		return parseCSV(line)
	}
	return Sample{}, false, nil
}

func parseHuman(line string) (Sample, bool, error) {
	match := humanExpr.FindStringSubmatch(line)
	if match == nil {
		return Sample{}, false, nil
	}

	thread := SumThread
	if match[1] != "SUM" {
		v, err := strconv.Atoi(match[1])
		if err != nil {
			return Sample{}, false, fmt.Errorf("failed to parse thread index in %q: %w", line, err)
		}
		thread = v
	}

	nums := make([]float64, 0, 4)
	for _, idx := range []int{2, 3, 4, 6} {
		v, err := strconv.ParseFloat(match[idx], 64)
		if err != nil {
			return Sample{}, false, fmt.Errorf("failed to parse %q: %w", line, err)
		}
		nums = append(nums, v)
	}

	size, err := transferred(nums[2], match[5])
	if err != nil {
		return Sample{}, false, err
	}
	units, err := ParseUnits(match[7])
	if err != nil {
		return Sample{}, false, err
	}

	return Sample{
		Thread:      thread,
		Start:       nums[0],
		End:         nums[1],
		Transferred: size,
		Value:       nums[3],
		Units:       units,
	}, true, nil
}

// CSV report columns: timestamp, local ip, local port, remote ip,
// remote port, thread, interval, bytes, bits per second, followed by UDP
// statistics on server reports.
const (
	csvThread   = 5
	csvInterval = 6
	csvBytes    = 7
	csvRate     = 8
)

func parseCSV(line string) (Sample, bool, error) {
	fields := strings.Split(line, ",")

	thread, err := strconv.Atoi(fields[csvThread])
	if err != nil {
		// Not a report line after all.
		return Sample{}, false, nil
	}
	if thread < 0 {
		thread = SumThread
	}

	start, end, ok := strings.Cut(fields[csvInterval], "-")
	if !ok {
		return Sample{}, false, nil
	}

	nums := make([]float64, 0, 4)
	for _, s := range []string{start, end, fields[csvBytes], fields[csvRate]} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Sample{}, false, fmt.Errorf("failed to parse CSV report %q: %w", line, err)
		}
		nums = append(nums, v)
	}

	return Sample{
		Thread:      thread,
		Start:       nums[0],
		End:         nums[1],
		Transferred: datasize.ByteSize(nums[2]),
		Value:       nums[3],
		Units:       Bits,
	}, true, nil
}
