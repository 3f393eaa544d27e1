package settings

import (
	"time"
)

// Option names shared by clients and servers, in canonical order.
var generalOptions = []option{
	valued("format", oneOf("abgkmABGKM")),
	valued("interval", nonNegative()),
	valued("len", sizeWithUnit(sizeUnits)),
	flag("print_mss"),
	valued("output", word()),
	valued("port", port()),
	flag("udp"),
	valued("window", sizeWithUnit(sizeUnits)),
	valued("bind", word()),
	flag("compatibility"),
	valued("mss", count()),
	flag("nodelay"),
	flag("version"),
	flag("IPv6Version"),
	valued("reportexclude", someOf("CDMSV")),
	valued("reportstyle", oneOf("cC")),
}

// Client-only options, in canonical order.
var clientOptions = []option{
	valued("bandwidth", sizeWithUnit(sizeUnits)),
	flag("dualtest"),
	valued("num", sizeWithUnit(sizeUnits)),
	flag("tradeoff"),
	// Negative values mean "run forever" to iperf.
	valued("time", anyNumber()),
	valued("fileinput", word()),
	flag("stdin"),
	valued("listenport", port()),
	valued("parallel", count()),
	valued("ttl", count()),
	{name: "linux_congestion", flag: "linux-congestion", check: word()},
}

// Server-only options, in canonical order.
var serverOptions = []option{
	flag("single_udp"),
	flag("daemon"),
}

// GeneralSettings holds the options common to iperf clients and servers.
type GeneralSettings struct {
	*ParameterSet
}

// NewGeneralSettings creates an empty GeneralSettings.
func NewGeneralSettings() *GeneralSettings {
	return &GeneralSettings{ParameterSet: newParameterSet(generalOptions)}
}

// GeneralSettingsFrom creates GeneralSettings from a partial mapping.
func GeneralSettingsFrom(params map[string]any) (*GeneralSettings, error) {
	m := NewGeneralSettings()
	if err := m.apply(params); err != nil {
		return nil, err
	}
	return m, nil
}

// Render implements Renderer.
func (m *GeneralSettings) Render() (string, error) {
	return m.render(), nil
}

// Interval returns the reporting interval in seconds, if set.
func (m *GeneralSettings) Interval() (float64, bool) {
	return m.float("interval")
}

// UDP reports whether the udp flag is set.
func (m *GeneralSettings) UDP() bool {
	return m.IsSet("udp")
}

// ClientSettings holds the options of an iperf client.
//
// The server target is rendered first as "--client <server>" and must be set
// before rendering.
type ClientSettings struct {
	*ParameterSet
	server string
}

// NewClientSettings creates ClientSettings targeting the given server. The
// server may be empty and assigned later with SetServer.
func NewClientSettings(server string) (*ClientSettings, error) {
	m := &ClientSettings{ParameterSet: newParameterSet(generalOptions, clientOptions)}
	if server != "" {
		if err := m.SetServer(server); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ClientSettingsFrom creates ClientSettings from a partial mapping. The
// "server" key, when present, sets the target.
func ClientSettingsFrom(params map[string]any) (*ClientSettings, error) {
	m, err := NewClientSettings("")
	if err != nil {
		return nil, err
	}
	leftovers, err := m.Update(params)
	if err != nil {
		return nil, err
	}
	if err := newParameterSet().apply(leftovers); err != nil {
		return nil, err
	}
	return m, nil
}

// SetServer sets the hostname or address the client connects to.
func (m *ClientSettings) SetServer(server string) error {
	if _, err := word()(server); err != nil {
		err.(*ValidationError).Option = "server"
		return err
	}
	m.server = server
	return nil
}

// Server returns the client target.
func (m *ClientSettings) Server() string {
	return m.server
}

// Update works like ParameterSet.Update and additionally understands the
// "server" key.
func (m *ClientSettings) Update(params map[string]any) (map[string]any, error) {
	leftovers, err := m.ParameterSet.Update(params)
	if err != nil {
		return leftovers, err
	}
	if v, ok := leftovers["server"]; ok {
		s, _ := v.(string)
		if err := m.SetServer(s); err != nil {
			return leftovers, err
		}
		delete(leftovers, "server")
	}
	return leftovers, nil
}

// Render implements Renderer.
func (m *ClientSettings) Render() (string, error) {
	if m.server == "" {
		return "", &ConfigurationError{Reason: "client settings have no server to connect to"}
	}
	return " --client " + m.server + m.render(), nil
}

// Interval returns the reporting interval in seconds, if set.
func (m *ClientSettings) Interval() (float64, bool) {
	return m.float("interval")
}

// Time returns the transmission time in seconds, if set.
func (m *ClientSettings) Time() (float64, bool) {
	return m.float("time")
}

// Parallel returns the number of client threads. iperf runs one unless told
// otherwise.
func (m *ClientSettings) Parallel() int {
	n, ok := m.float("parallel")
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

// UDP reports whether the udp flag is set.
func (m *ClientSettings) UDP() bool {
	return m.IsSet("udp")
}

// ServerSettings holds the options of an iperf server.
//
// Besides iperf options it carries the head start the server is given before
// the client is started ("sleep", in seconds).
type ServerSettings struct {
	*ParameterSet
	sleep    time.Duration
	hasSleep bool
}

// NewServerSettings creates empty ServerSettings.
func NewServerSettings() *ServerSettings {
	return &ServerSettings{ParameterSet: newParameterSet(generalOptions, serverOptions)}
}

// ServerSettingsFrom creates ServerSettings from a partial mapping.
func ServerSettingsFrom(params map[string]any) (*ServerSettings, error) {
	m := NewServerSettings()
	leftovers, err := m.Update(params)
	if err != nil {
		return nil, err
	}
	if err := newParameterSet().apply(leftovers); err != nil {
		return nil, err
	}
	return m, nil
}

// Update works like ParameterSet.Update and additionally understands the
// "sleep" key.
func (m *ServerSettings) Update(params map[string]any) (map[string]any, error) {
	leftovers, err := m.ParameterSet.Update(params)
	if err != nil {
		return leftovers, err
	}
	if v, ok := leftovers["sleep"]; ok {
		if err := m.SetSleep(v); err != nil {
			return leftovers, err
		}
		delete(leftovers, "sleep")
	}
	return leftovers, nil
}

// SetSleep sets the server head start, in seconds.
func (m *ServerSettings) SetSleep(v any) error {
	var seconds float64
	switch v := v.(type) {
	case time.Duration:
		seconds = v.Seconds()
	default:
		f, err := float(v)
		if err != nil {
			return &ValidationError{Option: "sleep", Value: v, Reason: "expected a number of seconds"}
		}
		seconds = f
	}
	if seconds < 0 {
		return &ValidationError{Option: "sleep", Value: v, Reason: "must not be negative"}
	}
	m.sleep = time.Duration(seconds * float64(time.Second))
	m.hasSleep = true
	return nil
}

// Sleep returns the server head start, if configured.
func (m *ServerSettings) Sleep() (time.Duration, bool) {
	return m.sleep, m.hasSleep
}

// Interval returns the reporting interval in seconds, if set.
func (m *ServerSettings) Interval() (float64, bool) {
	return m.float("interval")
}

// Render implements Renderer.
func (m *ServerSettings) Render() (string, error) {
	return " --server" + m.render(), nil
}

// UDP reports whether the udp flag is set.
func (m *ServerSettings) UDP() bool {
	return m.IsSet("udp")
}
