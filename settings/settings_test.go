package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCanonicalOrder(t *testing.T) {
	a, err := NewClientSettings("10.0.0.2")
	require.NoError(t, err)
	require.NoError(t, a.Set("parallel", 4))
	require.NoError(t, a.Set("time", 10))
	require.NoError(t, a.Set("interval", 1))

	b, err := NewClientSettings("10.0.0.2")
	require.NoError(t, err)
	require.NoError(t, b.Set("interval", 1))
	require.NoError(t, b.Set("time", 10))
	require.NoError(t, b.Set("parallel", 4))

	ra, err := a.Render()
	require.NoError(t, err)
	rb, err := b.Render()
	require.NoError(t, err)

	assert.Equal(t, " --client 10.0.0.2 --interval 1 --time 10 --parallel 4", ra)
	assert.Equal(t, ra, rb)
}

func TestRenderFlags(t *testing.T) {
	s := NewServerSettings()

	require.NoError(t, s.Set("udp", true))
	out, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, " --server --udp ", out)
	assert.True(t, s.UDP())

	require.NoError(t, s.Set("udp", false))
	out, err = s.Render()
	require.NoError(t, err)
	assert.Equal(t, " --server", out)
	assert.False(t, s.UDP())
	assert.False(t, s.IsSet("udp"))
}

func TestFlagTruthiness(t *testing.T) {
	cases := []struct {
		value any
		set   bool
	}{
		{true, true},
		{false, false},
		{"on", true},
		{"off", false},
		{"no", false},
		{"", false},
		{1, true},
		{0, false},
		{nil, false},
	}

	for _, c := range cases {
		s := NewGeneralSettings()
		require.NoError(t, s.Set("nodelay", c.value))
		assert.Equal(t, c.set, s.IsSet("nodelay"), "value %#v", c.value)
	}
}

func TestSizeWithUnit(t *testing.T) {
	valid := []any{"128K", "1m", "64", 100, 1.5}
	invalid := []any{"128X", "128KB", "K", "", "1 M", "2.5M", ".5K", true}

	for _, name := range []string{"len", "window", "bandwidth", "num"} {
		for _, v := range valid {
			s, err := NewClientSettings("dut")
			require.NoError(t, err)
			assert.NoError(t, s.Set(name, v), "%s=%#v", name, v)
		}
		for _, v := range invalid {
			s, err := NewClientSettings("dut")
			require.NoError(t, err)
			err = s.Set(name, v)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr, "%s=%#v", name, v)
			assert.Equal(t, name, verr.Option)
		}
	}
}

func TestValidationKeepsPreviousValue(t *testing.T) {
	s := NewGeneralSettings()
	require.NoError(t, s.Set("window", "256K"))
	require.Error(t, s.Set("window", "256Q"))

	v, ok := s.Get("window")
	require.True(t, ok)
	assert.Equal(t, "256K", v)
}

func TestPort(t *testing.T) {
	s := NewGeneralSettings()

	assert.NoError(t, s.Set("port", 1024))
	assert.NoError(t, s.Set("port", "5001"))
	assert.NoError(t, s.Set("port", MaxPort))

	for _, v := range []any{1023, 0, -1, MaxPort + 1, "iperf", 1024.5} {
		err := s.Set("port", v)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "port=%#v", v)
	}

	out, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, " --port 65535", out)
}

func TestTimeAndInterval(t *testing.T) {
	s, err := NewClientSettings("dut")
	require.NoError(t, err)

	require.NoError(t, s.Set("time", -1))
	tm, ok := s.Time()
	require.True(t, ok)
	assert.Equal(t, -1.0, tm)

	assert.Error(t, s.Set("interval", -0.5))
	_, ok = s.Interval()
	assert.False(t, ok)

	require.NoError(t, s.Set("interval", 0.5))
	iv, ok := s.Interval()
	require.True(t, ok)
	assert.Equal(t, 0.5, iv)
}

func TestEnumerations(t *testing.T) {
	s := NewGeneralSettings()

	assert.NoError(t, s.Set("format", "m"))
	assert.NoError(t, s.Set("reportstyle", "C"))
	assert.Error(t, s.Set("format", ""))
	assert.Error(t, s.Set("format", "mm"))
	assert.Error(t, s.Set("format", "x"))
	assert.Error(t, s.Set("reportstyle", "x"))

	assert.NoError(t, s.Set("reportexclude", "CD"))
	assert.Error(t, s.Set("reportexclude", "CX"))
}

func TestWhitespace(t *testing.T) {
	s := NewGeneralSettings()
	assert.NoError(t, s.Set("output", "iperf.log"))
	assert.Error(t, s.Set("output", "iperf log"))
	assert.Error(t, s.Set("output", ""))
}

func TestUpdateReturnsLeftovers(t *testing.T) {
	s := NewServerSettings()

	leftovers, err := s.Update(map[string]any{
		"interval":  1,
		"udp":       true,
		"daemon":    "yes",
		"sleep":     2,
		"parallel":  4,
		"bandwidth": "10M",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"parallel": 4, "bandwidth": "10M"}, leftovers)

	iv, ok := s.Interval()
	require.True(t, ok)
	assert.Equal(t, 1.0, iv)
	assert.True(t, s.UDP())
	assert.True(t, s.IsSet("daemon"))

	sleep, ok := s.Sleep()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, sleep)

	c, err := NewClientSettings("")
	require.NoError(t, err)
	rest, err := c.Update(leftovers)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, 4, c.Parallel())
}

func TestClientRequiresServer(t *testing.T) {
	c, err := NewClientSettings("")
	require.NoError(t, err)
	require.NoError(t, c.Set("time", 10))

	_, err = c.Render()
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)

	require.Error(t, c.SetServer("bad host"))
	require.NoError(t, c.SetServer("192.168.1.1"))

	out, err := c.Render()
	require.NoError(t, err)
	assert.Equal(t, " --client 192.168.1.1 --time 10", out)
}

func TestClientSettingsFrom(t *testing.T) {
	c, err := ClientSettingsFrom(map[string]any{
		"server":           "dut",
		"linux_congestion": "bbr",
		"tradeoff":         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "dut", c.Server())
	assert.Equal(t, 1, c.Parallel())

	out, err := c.Render()
	require.NoError(t, err)
	assert.Equal(t, " --client dut --tradeoff  --linux-congestion bbr", out)

	_, err = ClientSettingsFrom(map[string]any{"single_udp": true})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "single_udp", verr.Option)
}

func TestUnknownOption(t *testing.T) {
	s := NewGeneralSettings()
	err := s.Set("bandwidth", "1M")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unknown option", verr.Reason)
}

func TestSleep(t *testing.T) {
	s := NewServerSettings()
	_, ok := s.Sleep()
	assert.False(t, ok)

	require.NoError(t, s.SetSleep("0.5"))
	d, ok := s.Sleep()
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, d)

	assert.Error(t, s.SetSleep(-1))
	assert.Error(t, s.SetSleep("soon"))

	out, err := s.Render()
	require.NoError(t, err)
	assert.Equal(t, " --server", out)
}
