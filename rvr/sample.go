package rvr

import (
	"fmt"
	"strings"
)

var samples = map[string]string{
	"test": `# Where raw, parsed and summary files are written.
result_location: rate_vs_range
# Output files are named after the test.
test_name: rvr
# How many times every direction is run.
repetitions: 1
# Pause between consecutive runs.
recovery_time: 10s
# Pause before and after the server is told to stop.
settle_delay: 1s
`,
	"logging": `logging:
  # debug, info, warn or error.
  level: info
  # Optional event log file, written in addition to stderr.
  # file: rvr.log
`,
	"dut": `# The device under test.
dut:
  # Address commands are sent to.
  control_ip: 192.168.10.50
  # Address test traffic is sent to.
  test_ip: 192.168.20.50
  # ssh, local or fake.
  connection_type: ssh
  username: tester
  # password: secret
  # key_file: ~/.ssh/id_ed25519
  port: 22
  # Read timeout of housekeeping commands and the connect timeout.
  timeout: 1s
  # known_hosts: ~/.ssh/known_hosts
  # revoked_keys: /etc/ssh/revoked_keys
  # proxy: 127.0.0.1:1080
  # prefix: sudo
  operating_system: linux
`,
	"server": `# The traffic server.
server:
  control_ip: 192.168.10.1
  test_ip: 192.168.20.1
  connection_type: ssh
  username: tester
  port: 22
  timeout: 1s
  operating_system: linux
`,
	"iperf": `iperf:
  # upstream, downstream or both.
  direction: both
  command: iperf
  # last, mean or median.
  summary: last
  units: Mbits
  # Interval reports above the maximum are dropped, 0 keeps them all.
  maximum: 0
  # Any other key is an iperf long option, without the dashes.
  interval: 1
  time: 10
  parallel: 1
  # Head start of the server, in seconds.
  sleep: 1
  # udp: on
  # bandwidth: 100M
  # len: 1470
`,
}

// SampleConfig returns an annotated example configuration. An empty section
// returns the whole file.
func SampleConfig(section string) (string, error) {
	if section == "" {
		parts := make([]string, 0, len(sections))
		for _, name := range sections {
			parts = append(parts, samples[name])
		}
		return strings.Join(parts, "\n"), nil
	}

	sample, ok := samples[section]
	if !ok {
		return "", fmt.Errorf("unknown section %q, expected one of %s", section, strings.Join(sections, ", "))
	}
	return sample, nil
}
