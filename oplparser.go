package oplsong

import (
	"fmt"
	"math"
)

// OplInputKind tags which field of an OplInput item is meaningful.
type OplInputKind int

const (
	OplInputReg OplInputKind = iota
	OplInputDelay
	OplInputTempo
)

// OplInput is one item of the raw stream ParseOPL consumes: exactly one
// of a register write, a delay, or a tempo change.
type OplInput struct {
	Kind  OplInputKind
	Reg   uint16
	Val   byte
	Delay uint32
	Tempo Tempo
}

// RegWrite builds a register-write input item.
func RegWrite(reg uint16, val byte) OplInput {
	return OplInput{Kind: OplInputReg, Reg: reg, Val: val}
}

// DelayItem builds a delay input item.
func DelayItem(ticks uint32) OplInput {
	return OplInput{Kind: OplInputDelay, Delay: ticks}
}

// TempoItem builds a tempo-change input item.
func TempoItem(t Tempo) OplInput {
	return OplInput{Kind: OplInputTempo, Tempo: t}
}

// fourOpPrimaryOf maps a four-op secondary channel to its primary.
func fourOpPrimaryOf(c int) (int, bool) {
	switch c {
	case 3:
		return 0, true
	case 4:
		return 1, true
	case 5:
		return 2, true
	case 12:
		return 9, true
	case 13:
		return 10, true
	case 14:
		return 11, true
	}
	return 0, false
}

type oplParser struct {
	state, prev    [512]byte
	hasKeyOnCh     [18]bool
	hasKeyOnRhythm [6]bool // index 1-5 used, RhythmVoice-keyed

	events []Event
	metas  []EventMeta
	table  PatchTable
}

// ParseOPL turns a stream of raw (reg,val)/delay/tempo items into an
// abstract event list and the deduplicated patch table it references.
// The first returned event is always the supplied initial tempo.
func ParseOPL(items []OplInput, initial Tempo) ([]Event, []EventMeta, []Patch, error) {
	p := &oplParser{}
	p.events = append(p.events, Event{Kind: EventTempo, Tempo: initial})
	p.metas = append(p.metas, EventMeta{OriginChannel: -1})

	for idx, item := range items {
		switch item.Kind {
		case OplInputReg:
			if err := p.applyReg(item.Reg, item.Val, idx == 0); err != nil {
				return nil, nil, nil, err
			}
		case OplInputTempo:
			if item.Delay != 0 {
				return nil, nil, nil, newErr(ErrFormatConflict, "tempo item carries a non-zero delay")
			}
			p.emitTempo(item.Tempo)
		case OplInputDelay:
			if item.Delay == 0 {
				continue
			}
			p.flush()
			p.emitDelay(item.Delay)
			p.resetKeyOnFlags()
		}
	}

	// Flush any register changes accumulated since the last delay so a
	// stream that ends mid-note (no trailing delay) still emits its
	// final NoteOn/NoteOff/Configuration events.
	p.flush()

	return p.events, p.metas, p.table.Patches(), nil
}

func (p *oplParser) applyReg(reg uint16, val byte, isFirstItem bool) error {
	local := reg & 0xFF
	if local == 0x00 {
		if !isFirstItem {
			return newErr(ErrInvalidRegister, "register 0x00 is only valid as the very first write")
		}
	} else if !ValidRegister(reg) {
		return newErr(ErrInvalidRegister, fmt.Sprintf("register 0x%03X does not exist on OPL3 hardware", reg))
	}

	old := p.state[reg&0x1FF]
	p.state[reg&0x1FF] = val

	switch {
	case local >= 0xB0 && local <= 0xB8:
		if old&0x20 == 0 && val&0x20 != 0 {
			p.hasKeyOnCh[channelFromRegister(reg)] = true
		}
	case local == 0xBD:
		for idx := 1; idx <= 5; idx++ {
			bit := byte(1 << uint(idx-1))
			if old&bit == 0 && val&bit != 0 {
				p.hasKeyOnRhythm[idx] = true
			}
		}
	}
	return nil
}

// channelFromRegister recovers the melodic channel index from a
// 0xB0-row register address (including bank).
func channelFromRegister(reg uint16) int {
	bank := int(reg >> 8)
	localC := int(reg&0xFF) - 0xB0
	return bank*9 + localC
}

func (p *oplParser) resetKeyOnFlags() {
	for i := range p.hasKeyOnCh {
		p.hasKeyOnCh[i] = false
	}
	for i := range p.hasKeyOnRhythm {
		p.hasKeyOnRhythm[i] = false
	}
}

func (p *oplParser) emitTempo(t Tempo) {
	if n := len(p.events); n > 0 && p.events[n-1].Kind == EventTempo {
		p.events[n-1].Tempo = t
		return
	}
	p.events = append(p.events, Event{Kind: EventTempo, Tempo: t})
	p.metas = append(p.metas, EventMeta{OriginChannel: -1})
}

func (p *oplParser) emitDelay(ticks uint32) {
	if n := len(p.events); n > 0 && p.events[n-1].Kind == EventDelay {
		p.events[n-1].Ticks += ticks
		return
	}
	p.events = append(p.events, Event{Kind: EventDelay, Ticks: ticks})
	p.metas = append(p.metas, EventMeta{OriginChannel: -1})
}

func (p *oplParser) emitConfig(opt ConfigOption, val bool) {
	p.events = append(p.events, Event{Kind: EventConfiguration, Option: opt, Value: val})
	p.metas = append(p.metas, EventMeta{OriginChannel: -1})
}

func (p *oplParser) emitNoteOn(freq, vel float64, instr uint32, ch int, rv RhythmVoice) {
	p.events = append(p.events, Event{Kind: EventNoteOn, FrequencyHz: freq, Velocity: vel, InstrumentIndex: instr})
	p.metas = append(p.metas, EventMeta{OriginChannel: ch, OriginRhythm: rv})
}

func (p *oplParser) emitNoteOff(ch int, rv RhythmVoice) {
	p.events = append(p.events, Event{Kind: EventNoteOff})
	p.metas = append(p.metas, EventMeta{OriginChannel: ch, OriginRhythm: rv})
}

// flush commits the register changes accumulated in state since the last
// flush into events, then folds state into prev.
func (p *oplParser) flush() {
	for _, gb := range globalConfigBits {
		oldBit := p.prev[gb.Reg] & gb.Bit
		newBit := p.state[gb.Reg] & gb.Bit
		if oldBit != newBit {
			p.emitConfig(gb.Opt, newBit != 0)
		}
	}

	rhythmActive := p.state[0xBD]&0x20 != 0

	for c := 0; c < 18; c++ {
		if rhythmActive && (c == 6 || c == 7 || c == 8) {
			continue
		}
		if primary, ok := fourOpPrimaryOf(c); ok {
			if idx, _ := fourOpBitIndex(primary); p.state[0x104]&(1<<uint(idx)) != 0 {
				continue // absorbed into the primary's four-op voice
			}
		}
		slotCount := 2
		if idx, ok := fourOpBitIndex(c); ok && p.state[0x104]&(1<<uint(idx)) != 0 {
			slotCount = 4
		}
		p.resolveMelodicVoice(c, slotCount)
	}

	if rhythmActive {
		type drum struct {
			rv    RhythmVoice
			ch    int
			slots []int
		}
		for _, d := range []drum{
			{RhythmBD, 6, []int{0, 1}},
			{RhythmHH, 7, []int{0}},
			{RhythmSD, 7, []int{1}},
			{RhythmTT, 8, []int{0}},
			{RhythmCY, 8, []int{1}},
		} {
			p.resolveRhythmVoice(d.rv, d.ch, d.slots)
		}
	}

	p.prev = p.state
}

func (p *oplParser) resolveMelodicVoice(c, slotCount int) {
	bReg := 0xB0 + ChannelOffset(c)
	oldOn := p.prev[bReg]&0x20 != 0
	newOn := p.state[bReg]&0x20 != 0
	keyChange := oldOn != newOn
	immediate := p.hasKeyOnCh[c] && newOn && !keyChange
	if !keyChange && !immediate {
		return
	}

	if oldOn || immediate {
		p.emitNoteOff(c, RhythmNone)
	}
	if newOn {
		slots := make([]int, slotCount)
		for i := range slots {
			slots[i] = i
		}
		patch, freq, vel := p.extractVoice(c, slots)
		idx := p.table.FindOrAppend(patch)
		p.emitNoteOn(freq, vel, uint32(idx), c, RhythmNone)
	}
	p.prev[bReg] = p.state[bReg]
}

func (p *oplParser) resolveRhythmVoice(rv RhythmVoice, ch int, slots []int) {
	bit := rv.rhythmBit()
	oldOn := p.prev[0xBD]&bit != 0
	newOn := p.state[0xBD]&bit != 0
	keyChange := oldOn != newOn
	immediate := p.hasKeyOnRhythm[int(rv)] && newOn && !keyChange
	if !keyChange && !immediate {
		return
	}

	if oldOn || immediate {
		p.emitNoteOff(-1, rv)
	}
	if newOn {
		patch, freq, vel := p.extractVoice(ch, slots)
		patch.Rhythm = rv
		idx := p.table.FindOrAppend(patch)
		p.emitNoteOn(freq, vel, uint32(idx), -1, rv)
	}
	p.prev[0xBD] = (p.prev[0xBD] &^ bit) | (p.state[0xBD] & bit)
}

// extractVoice builds the Patch and current (frequency, velocity) for
// channel ch's voice, populating only the operator slots in slotIdxs.
func (p *oplParser) extractVoice(ch int, slotIdxs []int) (Patch, float64, float64) {
	patch := Patch{Kind: PatchOPL}
	for _, s := range slotIdxs {
		patch.Slots[s] = p.readSlot(ch, s)
	}

	chOff := ChannelOffset(ch)
	c0 := p.state[0xC0+chOff]
	patch.Feedback = int((c0 >> 1) & 0x7)
	patch.Connection = int(c0 & 0x1)

	aReg := p.state[0xA0+chOff]
	bReg := p.state[0xB0+chOff]
	fnum := (int(bReg&0x3) << 8) | int(aReg)
	block := int((bReg >> 2) & 0x7)
	freq := FnumToFrequency(fnum, block)

	velSlot := 1
	if patch.Slots[1] == nil {
		velSlot = 0
	}
	vel := 0.0
	if slot := patch.Slots[velSlot]; slot != nil {
		vel = 1 - math.Log(float64(1+slot.OutputLevel))/math.Log(64)
	}

	return patch, freq, vel
}

func (p *oplParser) readSlot(ch, s int) *OPLSlot {
	off := OperatorOffset(ch, s)
	r20 := p.state[0x20+off]
	r40 := p.state[0x40+off]
	r60 := p.state[0x60+off]
	r80 := p.state[0x80+off]
	rE0 := p.state[0xE0+off]

	return &OPLSlot{
		Tremolo:     r20&0x80 != 0,
		Vibrato:     r20&0x40 != 0,
		Sustain:     r20&0x20 != 0,
		KSR:         r20&0x10 != 0,
		FreqMult:    int(r20 & 0xF),
		ScaleLevel:  int((r40 >> 6) & 0x3),
		OutputLevel: int(r40 & 0x3F),
		AttackRate:  int((r60 >> 4) & 0xF),
		DecayRate:   int(r60 & 0xF),
		SustainRate: int((r80 >> 4) & 0xF),
		ReleaseRate: int(r80 & 0xF),
		WaveSelect:  int(rE0 & 0x7),
	}
}
