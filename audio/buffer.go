package audio

import (
	"bytes"
	"encoding/binary"
	"sync"
)

const (
	// DefaultSampleRate matches the linear16 stream negotiated with Deepgram.
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	sampleWidth       = 2 // 16-bit PCM
)

// Buffer accumulates the raw PCM chunks of one recording. It is append-only
// until Reset.
type Buffer struct {
	mu         sync.Mutex
	chunks     [][]byte
	total      int
	sampleRate int
	channels   int
}

func NewBuffer(sampleRate, channels int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	return &Buffer{sampleRate: sampleRate, channels: channels}
}

// Append stores a copy of chunk.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.total += len(c)
	b.mu.Unlock()
}

// Reset drops all buffered audio.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.total = 0
	b.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Chunks returns the number of appended chunks.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Duration returns the buffered audio length in seconds.
func (b *Buffer) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.total) / float64(sampleWidth*b.sampleRate*b.channels)
}

// WAV renders the buffered PCM as a RIFF/WAVE file. An empty buffer renders
// as nil.
func (b *Buffer) WAV() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total == 0 {
		return nil
	}

	var out bytes.Buffer
	out.Grow(44 + b.total)

	byteRate := b.sampleRate * b.channels * sampleWidth
	blockAlign := b.channels * sampleWidth

	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(36+b.total))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(16))
	binary.Write(&out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&out, binary.LittleEndian, uint16(b.channels))
	binary.Write(&out, binary.LittleEndian, uint32(b.sampleRate))
	binary.Write(&out, binary.LittleEndian, uint32(byteRate))
	binary.Write(&out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&out, binary.LittleEndian, uint16(sampleWidth*8))
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(b.total))
	for _, c := range b.chunks {
		out.Write(c)
	}
	return out.Bytes()
}
