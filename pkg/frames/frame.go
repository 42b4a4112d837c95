package frames

import (
	"encoding/binary"
	"strconv"
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindSystem  Kind = "system"
	KindSegment Kind = "segment"
)

const (
	SystemCallStart = "call_start"
	SystemCallEnd   = "call_end"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame carries little-endian PCM16 audio.
type AudioFrame struct {
	pts  int64
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	if ch <= 0 {
		ch = 1
	}
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(streamID, meta),
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) StreamID() string        { return a.meta[MetaStreamID] }

// Samples decodes the payload into interleaved int16 samples.
func (a AudioFrame) Samples() []int16 {
	n := len(a.data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(a.data[i*2:]))
	}
	return out
}

// Duration is derived from the payload size, rate and channel count.
func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 || a.ch <= 0 {
		return 0
	}
	samples := len(a.data) / 2 / a.ch
	return time.Duration(samples) * time.Second / time.Duration(a.rate)
}

type SystemFrame struct {
	pts  int64
	name string
	meta map[string]string
}

func NewSystemFrame(streamID string, pts int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{
		pts:  pts,
		name: name,
		meta: mergeMeta(streamID, meta),
	}
}

func (s SystemFrame) Kind() Kind              { return KindSystem }
func (s SystemFrame) PTS() int64              { return s.pts }
func (s SystemFrame) Meta() map[string]string { return cloneMeta(s.meta) }
func (s SystemFrame) Name() string            { return s.name }

// TextDelta is one generated text fragment. Seq increases monotonically
// within a response.
type TextDelta struct {
	Seq  int64
	Text string
}

// Sentence is a complete unit of generated text. Index is its position in
// the response.
type Sentence struct {
	Index int
	Text  string
}

// AudioSegment is one synthesized utterance ready for playback.
// Seq orders segments across the whole session; the greeting is always 0.
// Turn and Index locate the sentence inside a response.
type AudioSegment struct {
	StreamID   string
	Seq        int64
	Turn       int
	Index      int
	Text       string
	Profile    string
	Language   string
	SampleRate int
	Audio      []byte
	Greeting   bool
}

func (s AudioSegment) Kind() Kind { return KindSegment }
func (s AudioSegment) PTS() int64 { return s.Seq }

func (s AudioSegment) Meta() map[string]string {
	return map[string]string{
		MetaStreamID: s.StreamID,
		MetaSegment:  strconv.FormatInt(s.Seq, 10),
		MetaProfile:  s.Profile,
	}
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	for k, v := range meta {
		out[k] = v
	}
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
