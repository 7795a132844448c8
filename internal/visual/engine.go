package visual

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// FrameRate is the cadence the engine is designed for. The owner of the
// render loop drives Frame at roughly this rate.
const FrameRate = 30

// FrequencySource exposes analyser bands. FrequencyData fills buf with
// byte levels and returns the number of bands written.
type FrequencySource interface {
	FrequencyData(buf []byte) int
	BinCount() int
}

// Mode selects the active animation.
type Mode int

const (
	ModeBars Mode = iota
	ModeWave
	ModeParticles
	ModePulse

	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeBars:
		return "bars"
	case ModeWave:
		return "wave"
	case ModeParticles:
		return "particles"
	case ModePulse:
		return "pulse"
	}
	return "unknown"
}

// Category distinguishes detail modes from ambient ones. Pulse is a
// light wash meant for glancing at across the room, not for detail.
func (m Mode) Category() string {
	if m == ModePulse {
		return "light"
	}
	return "audio"
}

// particle is one dot in the particle field. Each particle is pinned to
// a frequency band and reacts only to that band's level.
type particle struct {
	x, y  float64
	speed float64
	band  int
}

// Engine turns frequency bands into animated frames. It renders an idle
// animation until Init attaches a source, so the screen is never blank
// while the audio graph is still warming up.
type Engine struct {
	mu        sync.Mutex
	fb        *Framebuffer
	src       FrequencySource
	bins      []byte
	levels    []float64
	mode      Mode
	palette   Palette
	phase     float64
	particles []particle
	rng       *rand.Rand
}

// NewEngine creates an engine rendering into a cols by rows cell area.
func NewEngine(cols, rows int) *Engine {
	e := &Engine{
		fb:      NewFramebuffer(cols, rows),
		bins:    make([]byte, 32),
		levels:  make([]float64, 32),
		palette: DefaultPalette,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.seedParticles()
	return e
}

// Init attaches a frequency source. Calling it again simply swaps the
// source, so a rebuilt audio graph slots in without restarting the loop.
func (e *Engine) Init(src FrequencySource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = src
	if src != nil {
		n := src.BinCount()
		if n > 0 && n != len(e.bins) {
			e.bins = make([]byte, n)
			e.levels = make([]float64, n)
			// Particle bands index the level slice, so a new bin count
			// invalidates them.
			e.seedParticles()
		}
	}
}

// Resize adapts to a new terminal area and reseeds position-dependent
// state.
func (e *Engine) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fb.Resize(cols, rows)
	e.seedParticles()
}

// SetPalette changes the gradient used by every mode.
func (e *Engine) SetPalette(p Palette) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.palette = p
}

// Mode returns the active animation mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode switches the animation and resets mode-local state so the new
// mode starts from a clean slate.
func (e *Engine) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setModeLocked(m)
}

// NextMode cycles to the following animation and returns it. The read
// and the write happen under one lock acquisition, so concurrent callers
// each advance by exactly one mode.
func (e *Engine) NextMode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := (e.mode + 1) % modeCount
	e.setModeLocked(next)
	return next
}

func (e *Engine) setModeLocked(m Mode) {
	e.mode = m
	e.phase = 0
	e.seedParticles()
}

// Frame advances the animation one step and returns the rendered lines.
// Without a source all levels read zero and the modes settle into their
// idle shapes.
func (e *Engine) Frame() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sampleLocked()
	e.fb.Clear()

	switch e.mode {
	case ModeBars:
		e.drawBars()
	case ModeWave:
		e.drawWave()
	case ModeParticles:
		e.drawParticles()
	case ModePulse:
		e.drawPulse()
	}

	e.phase += 2 * math.Pi / FrameRate
	return e.fb.Render()
}

// sampleLocked refreshes levels from the source, normalizing bytes to
// the 0..1 range.
func (e *Engine) sampleLocked() {
	if e.src == nil {
		for i := range e.levels {
			e.levels[i] = 0
		}
		return
	}
	n := e.src.FrequencyData(e.bins)
	for i := range e.levels {
		if i < n {
			e.levels[i] = float64(e.bins[i]) / 255
		} else {
			e.levels[i] = 0
		}
	}
}

func (e *Engine) seedParticles() {
	w := float64(e.fb.PixelWidth())
	h := float64(e.fb.PixelHeight())
	count := e.fb.PixelWidth() / 2
	if count < 16 {
		count = 16
	}
	if count > 64 {
		count = 64
	}
	e.particles = make([]particle, count)
	for i := range e.particles {
		e.particles[i] = particle{
			x:     e.rng.Float64() * w,
			y:     e.rng.Float64() * h,
			speed: 0.3 + e.rng.Float64()*0.7,
			band:  i % len(e.levels),
		}
	}
}

func (e *Engine) drawBars() {
	w := e.fb.PixelWidth()
	h := e.fb.PixelHeight()
	for x := 0; x < w; x++ {
		band := x * len(e.levels) / w
		barH := int(e.levels[band] * float64(h))
		for y := h - 1; y >= h-barH; y-- {
			e.fb.Set(x, y, e.palette.At(y, h))
		}
	}
}

func (e *Engine) drawWave() {
	w := e.fb.PixelWidth()
	h := e.fb.PixelHeight()
	mid := float64(h) / 2
	for x := 0; x < w; x++ {
		band := x * len(e.levels) / w
		amp := e.levels[band] * (mid - 1)
		y := int(mid + math.Sin(float64(x)*0.3+e.phase)*amp)
		e.fb.Set(x, y, e.palette.At(y, h))
	}
}

func (e *Engine) drawParticles() {
	w := float64(e.fb.PixelWidth())
	h := float64(e.fb.PixelHeight())
	for i := range e.particles {
		p := &e.particles[i]
		// Each particle rises with its own band's level, so a bass hit
		// moves a different subset of the field than a hi-hat.
		p.y -= p.speed * (0.2 + e.levels[p.band]*2)
		if p.y < 0 {
			p.y = h - 1
			p.x = e.rng.Float64() * w
		}
		e.fb.Set(int(p.x), int(p.y), e.palette.At(int(p.y), int(h)))
	}
}

// drawPulse is the light wash: three horizontal color fields whose
// brightness tracks aggregate bass, mid and high energy, with a slow
// breathing floor so silence still glows.
func (e *Engine) drawPulse() {
	w := e.fb.PixelWidth()
	h := e.fb.PixelHeight()

	bass, mid, high := e.bandEnergiesLocked()
	breath := 0.1 + 0.05*(math.Sin(e.phase/4)+1)

	for y := 0; y < h; y++ {
		var energy float64
		switch {
		case y < h/3:
			energy = high
		case y < 2*h/3:
			energy = mid
		default:
			energy = bass
		}
		color := dimColor(e.palette.At(y, h), breath+energy*(1-breath))
		for x := 0; x < w; x++ {
			e.fb.Set(x, y, color)
		}
	}
}

// bandEnergiesLocked averages the lower, middle and upper thirds of the
// spectrum.
func (e *Engine) bandEnergiesLocked() (bass, mid, high float64) {
	n := len(e.levels)
	third := n / 3
	if third == 0 {
		return 0, 0, 0
	}
	for i, v := range e.levels {
		switch {
		case i < third:
			bass += v
		case i < 2*third:
			mid += v
		default:
			high += v
		}
	}
	return bass / float64(third), mid / float64(third), high / float64(n-2*third)
}
