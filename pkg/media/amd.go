package media

import (
	"encoding/binary"
	"sync"
	"time"
)

// AMDClassification is the outcome of answering-machine detection: a
// Non-goal-compatible, purely statistical heuristic run over the first
// seconds of inbound audio after a call is answered (no ML dependency).
type AMDClassification int

const (
	AMDResultUnknown AMDClassification = iota
	AMDResultHuman
	AMDResultMachine
)

const (
	amdWindow       = 2500 * time.Millisecond
	amdSubframe     = 100 * time.Millisecond
	amdEnergyThresh = 400 // RMS threshold on 16-bit linear PCM samples
)

// AMDDetector classifies the first ~2.5s of inbound audio as a human
// greeting (short tight speech bursts separated by silence) or an
// answering machine (one long unbroken announcement burst), working
// entirely off the same 16-bit linear PCM samples the recording tap
// already produces.
type AMDDetector struct {
	mu         sync.Mutex
	sampleRate int
	samples    []int16
	done       bool
	onResult   func(AMDClassification)
}

// NewAMDDetector returns a detector that calls onResult exactly once,
// after roughly amdWindow worth of PCM has been fed via Feed.
func NewAMDDetector(sampleRate int, onResult func(AMDClassification)) *AMDDetector {
	return &AMDDetector{sampleRate: sampleRate, onResult: onResult}
}

// Feed appends one frame of 16-bit little-endian linear PCM. Once enough
// samples have accumulated it classifies the window and fires onResult;
// subsequent calls are no-ops.
func (d *AMDDetector) Feed(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		d.samples = append(d.samples, int16(binary.LittleEndian.Uint16(pcm[i:i+2])))
	}

	windowSamples := int(amdWindow.Seconds() * float64(d.sampleRate))
	if len(d.samples) < windowSamples {
		return
	}

	d.done = true
	result := classifyAMD(d.samples[:windowSamples], d.sampleRate)
	if d.onResult != nil {
		d.onResult(result)
	}
}

// classifyAMD splits the window into amdSubframe-sized chunks, marks each
// voiced/silent by RMS energy, and counts bursts (silent→voiced onsets,
// including a window that starts voiced). Two or more bursts with under
// 85% of the window voiced classify as human; a single burst covering at
// least 60% of the window classifies as a machine; anything else,
// including an all-silent window, is unknown.
func classifyAMD(samples []int16, sampleRate int) AMDClassification {
	subframeSamples := int(amdSubframe.Seconds() * float64(sampleRate))
	if subframeSamples <= 0 || len(samples) < subframeSamples {
		return AMDResultUnknown
	}

	var voiced []bool
	for start := 0; start+subframeSamples <= len(samples); start += subframeSamples {
		voiced = append(voiced, rms(samples[start:start+subframeSamples]) >= amdEnergyThresh)
	}

	bursts := 0
	voicedSubframes := 0
	prev := false
	for _, v := range voiced {
		if v {
			voicedSubframes++
		}
		if v && !prev {
			bursts++
		}
		prev = v
	}

	if voicedSubframes == 0 {
		return AMDResultUnknown
	}

	voicedFraction := float64(voicedSubframes) / float64(len(voiced))
	if bursts >= 2 && voicedFraction < 0.85 {
		return AMDResultHuman
	}
	if bursts == 1 && voicedFraction >= 0.6 {
		return AMDResultMachine
	}
	return AMDResultUnknown
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	return sqrt(sumSquares / float64(len(samples)))
}

// sqrt avoids pulling in math for a single call site's worth of use;
// Newton's method converges in a handful of iterations for the audio
// energy ranges classifyAMD deals with.
func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 12; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}
