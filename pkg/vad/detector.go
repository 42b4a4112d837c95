// Package vad detects utterance boundaries in a live PCM stream using an
// energy and pause heuristic.
package vad

import (
	"time"

	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/frames"
)

type Event int

const (
	EventNone Event = iota
	EventSpeechStart
	EventSpeechEnd
)

func (e Event) String() string {
	switch e {
	case EventSpeechStart:
		return "SPEECH_START"
	case EventSpeechEnd:
		return "SPEECH_END"
	default:
		return "NONE"
	}
}

type Config struct {
	// PauseThreshold is the silence that ends an utterance.
	PauseThreshold time.Duration
	// EnergyThreshold is the normalized RMS (0..1) that counts as speech.
	EnergyThreshold float64
	// Smoothing weights the newest frame in the rolling energy estimate.
	Smoothing float64
	// MinSpeech drops utterances with less voiced audio than this.
	MinSpeech time.Duration
	// MaxPreSpeechFrames bounds the pre-roll kept before speech starts.
	MaxPreSpeechFrames int
	// MaxUtterance forces a speech end on very long speech.
	MaxUtterance time.Duration
	// OnOverflow is called with the running drop count whenever the
	// pre-roll discards its oldest frame.
	OnOverflow func(dropped uint64)
}

func (c Config) withDefaults() Config {
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = 800 * time.Millisecond
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 0.02
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = 0.5
	}
	if c.MaxPreSpeechFrames <= 0 {
		c.MaxPreSpeechFrames = 25
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	return c
}

// Utterance is the audio between a speech start and a speech end.
type Utterance struct {
	SampleRate int
	Channels   int
	PCM        []byte
	Duration   time.Duration
	Voiced     time.Duration
}

// Detector is not safe for concurrent use. A session owns exactly one and
// feeds it from its worker goroutine.
type Detector struct {
	cfg Config

	energy   float64
	speaking bool
	silence  time.Duration
	voiced   time.Duration
	elapsed  time.Duration

	preRoll   [][]byte
	overflows uint64

	rate int
	ch   int
	buf  []byte
	last *Utterance
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

func (d *Detector) Config() Config { return d.cfg }

// Process consumes one frame. After EventSpeechEnd, Utterance returns the
// finished utterance.
func (d *Detector) Process(f frames.AudioFrame) Event {
	payload := f.RawPayload()
	if len(payload) == 0 {
		return EventNone
	}
	if d.rate == 0 {
		d.rate = f.Rate()
		d.ch = f.Channels()
	}
	dur := f.Duration()
	rms := audio.RMS(f.Samples())
	d.energy = d.cfg.Smoothing*rms + (1-d.cfg.Smoothing)*d.energy
	loud := d.energy >= d.cfg.EnergyThreshold

	if !d.speaking {
		if !loud {
			d.pushPreRoll(payload)
			return EventNone
		}
		d.speaking = true
		d.silence = 0
		d.voiced = dur
		d.elapsed = dur
		d.buf = d.buf[:0]
		for _, p := range d.preRoll {
			d.buf = append(d.buf, p...)
			d.elapsed += durationOf(len(p), d.rate, d.ch)
		}
		d.preRoll = d.preRoll[:0]
		d.buf = append(d.buf, payload...)
		return EventSpeechStart
	}

	d.buf = append(d.buf, payload...)
	d.elapsed += dur
	if loud {
		d.silence = 0
		d.voiced += dur
	} else {
		d.silence += dur
	}

	if d.silence >= d.cfg.PauseThreshold || d.elapsed >= d.cfg.MaxUtterance {
		return d.finish()
	}
	return EventNone
}

// Utterance returns the utterance completed by the last EventSpeechEnd and
// hands ownership to the caller.
func (d *Detector) Utterance() (Utterance, bool) {
	if d.last == nil {
		return Utterance{}, false
	}
	u := *d.last
	d.last = nil
	return u, true
}

func (d *Detector) Speaking() bool { return d.speaking }

// Overflows counts pre-roll frames dropped so far.
func (d *Detector) Overflows() uint64 { return d.overflows }

// Reset releases all buffered audio.
func (d *Detector) Reset() {
	d.energy = 0
	d.speaking = false
	d.silence = 0
	d.voiced = 0
	d.elapsed = 0
	d.preRoll = nil
	d.buf = nil
	d.last = nil
}

func (d *Detector) finish() Event {
	voiced := d.voiced
	pcm := make([]byte, len(d.buf))
	copy(pcm, d.buf)
	u := &Utterance{
		SampleRate: d.rate,
		Channels:   d.ch,
		PCM:        pcm,
		Duration:   d.elapsed,
		Voiced:     voiced,
	}
	d.speaking = false
	d.silence = 0
	d.voiced = 0
	d.elapsed = 0
	d.buf = d.buf[:0]
	if voiced < d.cfg.MinSpeech {
		return EventNone
	}
	d.last = u
	return EventSpeechEnd
}

func (d *Detector) pushPreRoll(p []byte) {
	if len(d.preRoll) >= d.cfg.MaxPreSpeechFrames {
		copy(d.preRoll, d.preRoll[1:])
		d.preRoll = d.preRoll[:len(d.preRoll)-1]
		d.overflows++
		if d.cfg.OnOverflow != nil {
			d.cfg.OnOverflow(d.overflows)
		}
	}
	d.preRoll = append(d.preRoll, append([]byte(nil), p...))
}

func durationOf(n, rate, ch int) time.Duration {
	if rate <= 0 || ch <= 0 {
		return 0
	}
	return time.Duration(n/2/ch) * time.Second / time.Duration(rate)
}
