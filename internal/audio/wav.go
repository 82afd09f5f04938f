package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM audio.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // bytes of audio data
}

const wavHeaderSize = 44

// IsWAV reports whether the buffer starts with a RIFF/WAVE header. Used to
// tell WAV uploads apart from raw PCM on the batch endpoint.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// EncodeWAV wraps mono PCM16LE bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if err := ValidatePCM(pcm); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(pcm))

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV extracts mono PCM16LE bytes and the sample rate from a WAV
// container. Only 16-bit mono PCM is accepted; the decoder has no resampler
// or channel mixer.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	dataSize := int(header.Subchunk2Size)
	if dataSize <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}
	if wavHeaderSize+dataSize > len(data) {
		return nil, 0, fmt.Errorf("WAV data truncated: header claims %d data bytes, %d available", dataSize, len(data)-wavHeaderSize)
	}

	pcm := data[wavHeaderSize : wavHeaderSize+dataSize]
	if err := ValidatePCM(pcm); err != nil {
		return nil, 0, err
	}
	return pcm, int(header.SampleRate), nil
}

// WAVInfo holds metadata extracted from a WAV header.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
}

// GetWAVInfo reads metadata from a WAV header without decoding the audio.
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if !IsWAV(data) {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}
	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}

	bytesPerSample := uint32(header.BitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("invalid bit depth: %d", header.BitsPerSample)
	}
	numSamples := header.Subchunk2Size / bytesPerSample
	duration := float64(numSamples) / float64(header.SampleRate) / float64(header.NumChannels)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
	}, nil
}
