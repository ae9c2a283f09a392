package media

import "sync"

const (
	DefaultAnalysisBufferSize = 2048
	silenceSample             = 128
)

// Analyser keeps the newest window of audio as unsigned 8-bit time-domain
// samples where 128 is zero deflection.
type Analyser struct {
	mu   sync.Mutex
	buf  []byte
	next int
}

func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = DefaultAnalysisBufferSize
	}
	a := &Analyser{buf: make([]byte, size)}
	a.fillSilence()
	return a
}

func (a *Analyser) BufferSize() int { return len(a.buf) }

// WritePCM converts signed 16-bit samples and appends them to the window.
func (a *Analyser) WritePCM(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.push(byte(int(s)>>8 + silenceSample))
	}
}

// WriteBytes appends samples that are already 8-bit time-domain values.
func (a *Analyser) WriteBytes(samples []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.push(s)
	}
}

func (a *Analyser) WriteSilence(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < n; i++ {
		a.push(silenceSample)
	}
}

// ByteTimeDomainData copies the newest samples into dst, oldest first.
func (a *Analyser) ByteTimeDomainData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(dst)
	if n > len(a.buf) {
		n = len(a.buf)
	}
	start := a.next - n
	if start < 0 {
		start += len(a.buf)
	}
	for i := 0; i < n; i++ {
		dst[i] = a.buf[(start+i)%len(a.buf)]
	}
	return n
}

// Reset returns the window to silence.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillSilence()
	a.next = 0
}

func (a *Analyser) push(b byte) {
	a.buf[a.next] = b
	a.next++
	if a.next == len(a.buf) {
		a.next = 0
	}
}

func (a *Analyser) fillSilence() {
	for i := range a.buf {
		a.buf[i] = silenceSample
	}
}
