package oplsong

import "math"

// Tempo is the canonical playback-rate state. UsPerTick is the sole
// value that controls audible speed; the others are notation/tracker
// aids carried along for round-tripping and display.
type Tempo struct {
	BeatsPerBar         int // 1-16
	BeatLength          int // one of 1,2,4,8,16
	TicksPerQuarterNote int // > 0
	FramesPerTick       int // 1-64, tracker subdivision
	UsPerTick           float64
}

// DefaultTempo returns a conservative starting tempo: 4/4 at 120bpm with
// 48 ticks per quarter note, matching common tracker/MIDI defaults.
func DefaultTempo() Tempo {
	t := Tempo{
		BeatsPerBar:         4,
		BeatLength:          4,
		TicksPerQuarterNote: 48,
		FramesPerTick:       6,
	}
	t.SetBPM(120)
	return t
}

// SetBPM sets UsPerTick from a beats-per-minute value.
func (t *Tempo) SetBPM(bpm float64) {
	t.SetUsPerQuarterNote(60_000_000.0 / bpm)
}

// BPM returns the current tempo in beats per minute, rounded.
func (t *Tempo) BPM() int {
	return int(math.Round(60_000_000.0 / t.UsPerQuarterNote()))
}

// SetUsPerQuarterNote sets UsPerTick from a microseconds-per-quarter-note
// value (the unit SMF meta tempo events use).
func (t *Tempo) SetUsPerQuarterNote(us float64) {
	t.UsPerTick = us / float64(t.TicksPerQuarterNote)
}

// UsPerQuarterNote returns the current tempo as microseconds per quarter
// note.
func (t *Tempo) UsPerQuarterNote() float64 {
	return t.UsPerTick * float64(t.TicksPerQuarterNote)
}

// SetHertz sets UsPerTick from a tick rate in Hz, the unit fixed-tempo
// OPL formats (IMF/WLF/DRO) use.
func (t *Tempo) SetHertz(hz float64) {
	t.UsPerTick = 1_000_000.0 / hz
}

// Hertz returns the current tick rate in Hz, rounded.
func (t *Tempo) Hertz() int {
	return int(math.Round(1_000_000.0 / t.UsPerTick))
}

// SetModule sets UsPerTick and FramesPerTick from a tracker speed/tempo
// pair, using the classic ProTracker relation: one tick is 2.5/tempo
// seconds, and speed ticks elapse per row.
func (t *Tempo) SetModule(speed, tempo int) {
	t.FramesPerTick = speed
	t.UsPerTick = 2_500_000.0 / float64(tempo)
}

// ModuleTempo returns the tracker tempo value corresponding to the
// current UsPerTick, rounded.
func (t *Tempo) ModuleTempo() int {
	return int(math.Round(2_500_000.0 / t.UsPerTick))
}

// Equals reports whether t and o describe the same playback rate and
// notation.
func (t Tempo) Equals(o Tempo) bool {
	return t == o
}
