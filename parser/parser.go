package parser

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"
)

type options struct {
	Threads int
	Units   Units
	Maximum float64
	Log     *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Threads: 1,
		Units:   DefaultUnits,
		Log:     zap.NewNop().Sugar(),
	}
}

// Option configures the parsers.
type Option func(*options)

// WithThreads sets the number of parallel iperf threads whose reports are
// expected for every interval.
func WithThreads(threads int) Option {
	return func(o *options) {
		if threads > 0 {
			o.Threads = threads
		}
	}
}

// WithUnits sets the units samples are normalized to.
func WithUnits(units Units) Option {
	return func(o *options) {
		o.Units = units
	}
}

// WithMaximum drops samples exceeding the given bandwidth, expressed in the
// target units. Zero disables the filter.
func WithMaximum(maximum float64) Option {
	return func(o *options) {
		o.Maximum = maximum
	}
}

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// parse is shared by both parsers: it extracts and normalizes a sample.
// Unparseable report lines are logged and skipped.
func parse(opts *options, line string) (Sample, bool) {
	sample, ok, err := ParseLine(line)
	if err != nil {
		opts.Log.Debugw("skipping malformed report", zap.Error(err))
		return Sample{}, false
	}
	if !ok {
		return Sample{}, false
	}
	sample, err = sample.In(opts.Units)
	if err != nil {
		opts.Log.Debugw("skipping report in unknown units", zap.Error(err))
		return Sample{}, false
	}
	return sample, true
}

// intervalKey identifies a reporting interval across threads.
type intervalKey string

func keyOf(s Sample) intervalKey {
	return intervalKey(fmt.Sprintf("%.3f-%.3f", s.Start, s.End))
}

type pending struct {
	sample  Sample
	threads map[int]struct{}
}

// IntervalParser yields a sample per reporting interval.
//
// With a single thread every interval report is a sample. With several
// threads the per-thread values of an interval are summed, and the sample is
// yielded only once every thread has reported it; intervals some thread never
// reported are dropped. "[SUM]" lines are ignored since the sum is computed
// here, and the closing whole-transfer report is recognized by its length and
// excluded.
type IntervalParser struct {
	opts    *options
	length  float64
	pending map[intervalKey]*pending
	samples []Sample
}

// NewIntervalParser creates a new IntervalParser.
func NewIntervalParser(options ...Option) *IntervalParser {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &IntervalParser{
		opts:    opts,
		pending: map[intervalKey]*pending{},
	}
}

// Feed consumes a line and returns the sample it completes, if any.
func (m *IntervalParser) Feed(line string) (Sample, bool) {
	sample, ok := parse(m.opts, line)
	if !ok || sample.Thread == SumThread {
		return Sample{}, false
	}

	if m.length == 0 {
		m.length = sample.Duration()
	} else if sample.Start == 0 && sample.Duration() > m.length+1e-9 {
		return Sample{}, false
	}

	if m.opts.Threads > 1 {
		key := keyOf(sample)
		p, ok := m.pending[key]
		if !ok {
			p = &pending{sample: sample, threads: map[int]struct{}{}}
			p.sample.Thread = SumThread
			p.sample.Value = 0
			p.sample.Transferred = 0
			m.pending[key] = p
		}
		if _, dup := p.threads[sample.Thread]; dup {
			return Sample{}, false
		}
		p.threads[sample.Thread] = struct{}{}
		p.sample.Value += sample.Value
		p.sample.Transferred += sample.Transferred

		if len(p.threads) < m.opts.Threads {
			return Sample{}, false
		}
		delete(m.pending, key)
		sample = p.sample
	}

	if m.opts.Maximum > 0 && sample.Value > m.opts.Maximum {
		m.opts.Log.Debugw("dropping sample above maximum",
			zap.Float64("value", sample.Value),
			zap.Float64("maximum", m.opts.Maximum),
		)
		return Sample{}, false
	}

	m.samples = append(m.samples, sample)
	return sample, true
}

// Samples returns every sample yielded so far, in arrival order.
func (m *IntervalParser) Samples() []Sample {
	return m.samples
}

// Values returns the bandwidth values of Samples.
func (m *IntervalParser) Values() []float64 {
	values := make([]float64, 0, len(m.samples))
	for _, s := range m.samples {
		values = append(values, s.Value)
	}
	return values
}

// SumParser tracks the cumulative report iperf prints across all threads.
//
// With several threads these are the "[SUM]" lines, otherwise the thread's
// own reports. The last report seen is the whole-transfer summary once the
// transfer is over.
type SumParser struct {
	opts *options
	last *Sample
}

// NewSumParser creates a new SumParser.
func NewSumParser(options ...Option) *SumParser {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &SumParser{opts: opts}
}

// Feed consumes a line and returns the cumulative sample on it, if any.
func (m *SumParser) Feed(line string) (Sample, bool) {
	sample, ok := parse(m.opts, line)
	if !ok {
		return Sample{}, false
	}
	if (m.opts.Threads > 1) != (sample.Thread == SumThread) {
		return Sample{}, false
	}
	m.last = &sample
	return sample, true
}

// Last returns the most recent cumulative sample.
func (m *SumParser) Last() (Sample, bool) {
	if m.last == nil {
		return Sample{}, false
	}
	return *m.last, true
}

// Mean is a summary reducer returning the arithmetic mean of the samples.
func Mean(samples []Sample) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	total := 0.0
	for _, s := range samples {
		total += s.Value
	}
	return total / float64(len(samples))
}

// Median is a summary reducer returning the median of the samples.
func Median(samples []Sample) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		values = append(values, s.Value)
	}
	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
