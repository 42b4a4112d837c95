package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var ErrNotWAV = errors.New("not a PCM16 wav stream")

// EncodeWAV wraps PCM16 in a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	byteRate := sampleRate * channels * 2
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV extracts PCM16 and format from a RIFF stream, skipping
// unknown chunks.
func DecodeWAV(b []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, 0, ErrNotWAV
	}
	pos := 12
	var bits int
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(b) {
			end = len(b)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, 0, ErrNotWAV
			}
			if binary.LittleEndian.Uint16(b[body:]) != 1 {
				return nil, 0, 0, ErrNotWAV
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bits = int(binary.LittleEndian.Uint16(b[body+14:]))
		case "data":
			if bits != 16 {
				return nil, 0, 0, ErrNotWAV
			}
			return b[body:end], sampleRate, channels, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, 0, ErrNotWAV
}
