package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawToPCM decodes G.711 u-law bytes into little-endian PCM16.
func MuLawToPCM(in []byte) []byte {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = muLawDecode(b)
	}
	return SamplesToBytes(out)
}

// PCMToMuLaw encodes little-endian PCM16 into G.711 u-law bytes.
func PCMToMuLaw(pcm []byte) []byte {
	samples := BytesToSamples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = muLawEncode(s)
	}
	return out
}

func muLawDecode(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := ((int32(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func muLawEncode(s int16) byte {
	sample := int32(s)
	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias
	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
