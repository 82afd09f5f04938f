package audio

import "fmt"

// DefaultChunkBytes is the default decode granularity: 8000 bytes is 4000
// samples, a quarter second of 16 kHz mono audio. Smaller chunks give
// faster partial-result turnaround at higher per-call overhead.
const DefaultChunkBytes = 8000

// Chunker splits PCM16 byte streams into fixed-size chunks for feeding to a
// recognizer. Unlike the decoder itself, the chunker is stateless and safe
// for concurrent use.
type Chunker struct {
	size int
}

// NewChunker creates a chunker with the given chunk size in bytes. The size
// must be positive and sample-aligned (even). Zero selects
// DefaultChunkBytes.
func NewChunker(size int) (*Chunker, error) {
	if size == 0 {
		size = DefaultChunkBytes
	}
	if size < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if size%BytesPerSample != 0 {
		return nil, fmt.Errorf("chunk size must be a multiple of %d, got %d", BytesPerSample, size)
	}
	return &Chunker{size: size}, nil
}

// Size returns the chunk size in bytes.
func (c *Chunker) Size() int {
	return c.size
}

// Split cuts a PCM buffer into chunks of the configured size. The final
// chunk carries the remainder and may be shorter. Chunks alias the input
// buffer; callers must not mutate it while chunks are in use.
func (c *Chunker) Split(pcm []byte) ([][]byte, error) {
	if err := ValidatePCM(pcm); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	chunks := make([][]byte, 0, (len(pcm)+c.size-1)/c.size)
	for off := 0; off < len(pcm); off += c.size {
		end := off + c.size
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[off:end])
	}
	return chunks, nil
}
