package formats

import (
	"bytes"

	"github.com/retrofm/oplsong"
)

// sbiSignature is the four-byte magic; the 11 bytes that follow the
// 32-byte title carry the 0x20, 0x40, 0x60, 0x80 and 0xE0 registers
// interleaved by slot (0x20, 0x23, 0x40, 0x43, ... 0xE0, 0xE3), then
// feedback/connection (0xC0).
const sbiSignature = "SBI\x1a"

// sbiHandler implements the SBI single-instrument timbre format: a
// four-byte signature, a 32-byte title, and 11 raw OPL register bytes,
// with an optional 5-byte SBTimbre percussion trailer.
type sbiHandler struct{}

// NewSBI returns the SBI handler.
func NewSBI() Handler {
	return &sbiHandler{}
}

func (h *sbiHandler) Metadata() Metadata {
	return Metadata{
		ID: "sbi", Title: "SBI (SoundBlaster Instrument)",
		Glob: []string{"*.sbi"},
		Caps: Capabilities{
			Tags:       []string{"title"},
			PatchNames: true,
		},
	}
}

func (h *sbiHandler) Identify(data []byte, filename string) IdentifyResult {
	if len(data) < 4+32+11 {
		return IdentifyResult{No, "too short for an SBI instrument"}
	}
	if string(data[:4]) != sbiSignature {
		return IdentifyResult{No, "missing SBI signature"}
	}
	return IdentifyResult{Yes, "SBI signature matched"}
}

func (h *sbiHandler) Parse(content Content) (*oplsong.Music, error) {
	data := content.Main
	if len(data) < 4+32+11 {
		return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "sbi file too short")
	}
	if string(data[:4]) != sbiSignature {
		return nil, oplsong.NewError(oplsong.ErrBadSignature, "missing SBI signature")
	}
	title := string(bytes.TrimRight(data[4:36], "\x00"))

	var regs [11]byte
	copy(regs[:], data[36:47])

	slot := func(base int) *oplsong.OPLSlot {
		r20, r40, r60, r80, rE0 := regs[base], regs[base+2], regs[base+4], regs[base+6], regs[base+8]
		return &oplsong.OPLSlot{
			Tremolo: r20&0x80 != 0, Vibrato: r20&0x40 != 0, Sustain: r20&0x20 != 0, KSR: r20&0x10 != 0,
			FreqMult: int(r20 & 0xF), ScaleLevel: int((r40 >> 6) & 0x3), OutputLevel: int(r40 & 0x3F),
			AttackRate: int((r60 >> 4) & 0xF), DecayRate: int(r60 & 0xF),
			SustainRate: int((r80 >> 4) & 0xF), ReleaseRate: int(r80 & 0xF), WaveSelect: int(rE0 & 0x7),
		}
	}

	patch := oplsong.Patch{
		Kind:       oplsong.PatchOPL,
		Slots:      [4]*oplsong.OPLSlot{slot(0), slot(1), nil, nil},
		Feedback:   int((regs[10] >> 1) & 0x7),
		Connection: int(regs[10] & 0x1),
	}

	music := &oplsong.Music{
		InitialTempo: oplsong.DefaultTempo(),
		Patches:      []oplsong.Patch{patch},
		Tags:         map[string]string{"title": title},
	}
	return music, music.Validate()
}

func (h *sbiHandler) Generate(music *oplsong.Music) (GenerateResult, error) {
	if len(music.Patches) != 1 {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrMissingInstrument, "sbi requires exactly one patch")
	}
	patch := music.Patches[0]
	if patch.Kind != oplsong.PatchOPL {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrFormatConflict, "sbi requires an OPL patch")
	}

	var buf bytes.Buffer
	buf.WriteString(sbiSignature)

	title := make([]byte, 32)
	copy(title, music.Tags["title"])
	buf.Write(title)

	packSlot := func(s *oplsong.OPLSlot) (r20, r40, r60, r80, rE0 byte) {
		if s == nil {
			return
		}
		if s.Tremolo {
			r20 |= 0x80
		}
		if s.Vibrato {
			r20 |= 0x40
		}
		if s.Sustain {
			r20 |= 0x20
		}
		if s.KSR {
			r20 |= 0x10
		}
		r20 |= byte(s.FreqMult & 0xF)
		r40 = byte(s.ScaleLevel&0x3)<<6 | byte(s.OutputLevel&0x3F)
		r60 = byte(s.AttackRate&0xF)<<4 | byte(s.DecayRate&0xF)
		r80 = byte(s.SustainRate&0xF)<<4 | byte(s.ReleaseRate&0xF)
		rE0 = byte(s.WaveSelect & 0x7)
		return
	}

	s0 := patch.Slots[0]
	s1 := patch.Slots[1]
	r20a, r40a, r60a, r80a, rE0a := packSlot(s0)
	r20b, r40b, r60b, r80b, rE0b := packSlot(s1)
	c0 := byte(patch.Feedback&0x7)<<1 | byte(patch.Connection&0x1)

	regs := [11]byte{r20a, r20b, r40a, r40b, r60a, r60b, r80a, r80b, rE0a, rE0b, c0}
	buf.Write(regs[:])

	// SBTimbre percussion trailer: percType, transpose, percNote, pad, pad.
	buf.Write([]byte{0, 0, 0, 0, 0})

	return GenerateResult{Content: Content{Main: buf.Bytes()}}, nil
}

func (h *sbiHandler) CheckLimits(music *oplsong.Music) []string {
	var issues []string
	if len(music.Patches) != 1 {
		issues = append(issues, "sbi requires exactly one patch")
	}
	return issues
}
