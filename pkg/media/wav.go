package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const defaultRecordingBufferFrames = 500

// recordedFrame is one ptime-length slice of 16-bit linear PCM, tagged
// with the direction it came from.
type recordedFrame struct {
	pcm     []byte
	inbound bool
}

// callRecorder taps the receive path of a MediaSession and keeps a
// bounded history of decoded PCM (the newest capacity frames) for later
// export. It never blocks the RTP receive loop: once the channel fills,
// the oldest queued frame is dropped to make room for the newest one.
type callRecorder struct {
	frames   chan recordedFrame
	capacity int

	mu  sync.Mutex
	buf []recordedFrame
}

func newCallRecorder(capacity int) *callRecorder {
	if capacity <= 0 {
		capacity = defaultRecordingBufferFrames
	}
	r := &callRecorder{frames: make(chan recordedFrame, capacity), capacity: capacity}
	go r.drain()
	return r
}

func (r *callRecorder) drain() {
	for f := range r.frames {
		r.mu.Lock()
		r.buf = append(r.buf, f)
		if len(r.buf) > r.capacity {
			r.buf = r.buf[len(r.buf)-r.capacity:]
		}
		r.mu.Unlock()
	}
}

func (r *callRecorder) push(f recordedFrame) {
	for {
		select {
		case r.frames <- f:
			return
		default:
		}
		select {
		case <-r.frames:
		default:
		}
	}
}

func (r *callRecorder) recordOutbound(payload []byte, pt PayloadType) {
	pcm, err := G711ToPCM(payload, pt)
	if err != nil {
		return
	}
	r.push(recordedFrame{pcm: pcm, inbound: false})
}

func (r *callRecorder) recordInbound(payload []byte, pt PayloadType) {
	pcm, err := G711ToPCM(payload, pt)
	if err != nil {
		return
	}
	r.push(recordedFrame{pcm: pcm, inbound: true})
}

func (r *callRecorder) close() {
	close(r.frames)
}

// mixed returns the recorded frames concatenated in arrival order as a
// single mono PCM stream. Frames are appended one after another; no two
// frames are summed or overlapped.
func (r *callRecorder) mixed() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []byte
	for _, f := range r.buf {
		out = append(out, f.pcm...)
	}
	return out
}

// wavHeader is the canonical 44-byte PCM WAV header: RIFF/WAVE container,
// one "fmt " chunk describing linear PCM, followed by the "data" chunk.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func writeWAV(w io.Writer, pcm []byte, sampleRate uint32) error {
	const bitsPerSample = 16
	const numChannels = 1

	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("media: write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("media: write WAV data: %w", err)
	}
	return nil
}

// ExportWAV writes the session's recorded audio to path as a mono
// 8kHz 16-bit PCM WAV file.
func (ms *MediaSession) ExportWAV(path string) error {
	if ms.recorder == nil {
		return &MediaError{Code: ErrorCodeRecordingExportFailed, Message: "recording is not enabled for this session", SessionID: ms.sessionID}
	}

	f, err := os.Create(path)
	if err != nil {
		return WrapMediaError(ErrorCodeRecordingExportFailed, ms.sessionID, "could not create WAV file", err)
	}
	defer f.Close()

	sampleRate := getSampleRateForPayloadType(ms.payloadType)
	if err := writeWAV(f, ms.recorder.mixed(), sampleRate); err != nil {
		return WrapMediaError(ErrorCodeRecordingExportFailed, ms.sessionID, "could not write WAV file", err)
	}
	return nil
}
