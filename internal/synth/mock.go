package synth

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// mockBackend emits a short deterministic tone as a real mono 16-bit WAV,
// so the rest of the pipeline can run on hosts without `say`.
type mockBackend struct {
	sampleRate int
	voices     []Voice
}

func NewMockBackend(sampleRate int) Backend {
	return &mockBackend{
		sampleRate: sampleRate,
		voices: []Voice{
			{Name: "O-Ren", Language: "ja_JP"},
			{Name: "Kyoko", Language: "ja_JP"},
			{Name: "Samantha", Language: "en_US"},
		},
	}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Voices(ctx context.Context) ([]Voice, error) {
	return append([]Voice(nil), m.voices...), nil
}

func (m *mockBackend) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 300ms tone whose frequency depends on the text, so distinct inputs
	// produce distinct artifacts.
	freq := 220.0 + float64(len(req.Text)%24)*20.0
	n := m.sampleRate * 3 / 10
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: m.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, n),
	}
	for i := 0; i < n; i++ {
		buf.Data[i] = int(6000 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}

	var mem memWriteSeeker
	enc := wav.NewEncoder(&mem, m.sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("%w: encode wav: %v", ErrSynthesisFailed, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize wav: %v", ErrSynthesisFailed, err)
	}
	return mem.buf, nil
}

// memWriteSeeker satisfies the io.WriteSeeker the wav encoder needs without
// touching disk.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = m.pos + int(offset)
	case io.SeekEnd:
		next = len(m.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}
	m.pos = next
	return int64(next), nil
}
