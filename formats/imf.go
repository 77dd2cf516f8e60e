package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/retrofm/oplsong"
)

// imfHandler implements id Software's IMF register-log format: a flat
// stream of (reg, val, delay) rows at a fixed tick rate, optionally
// framed with a type-1 body-length header, optionally trailed with a
// tag block. The Wolfenstein WLF variant and the Duke Nukem II 280Hz
// variant are both thin reuses of this same body shape (see wlf.go).
type imfHandler struct {
	id       string
	title    string
	hertz    int
	typ1     bool
	glob     []string
}

// NewIMFType0 returns the headerless IMF handler at the given tick rate
// (id Software used 560Hz; Wolfenstein-derived games 700Hz via wlf.go;
// Duke Nukem II used a distinct 280Hz variant sharing this exact body
// layout).
func NewIMFType0(hertz int) Handler {
	return &imfHandler{id: fmt.Sprintf("imf0-%d", hertz), title: "IMF (type 0)", hertz: hertz, glob: []string{"*.imf", "*.wlf"}}
}

// NewIMFType1 returns the length-prefixed IMF handler.
func NewIMFType1(hertz int) Handler {
	return &imfHandler{id: fmt.Sprintf("imf1-%d", hertz), title: "IMF (type 1)", hertz: hertz, typ1: true, glob: []string{"*.imf"}}
}

// NewNukem2 returns the Duke Nukem II 280Hz IMF variant: byte-identical
// body layout to type-0, distinguished only by its tick rate and the
// ambiguity that entails (see Identify).
func NewNukem2() Handler {
	return &imfHandler{id: "imf0-nukem2", title: "IMF (Duke Nukem II, 280Hz)", hertz: 280, glob: []string{"*.imf"}}
}

func (h *imfHandler) Metadata() Metadata {
	return Metadata{
		ID: h.id, Title: h.title,
		Glob: h.glob,
		Caps: Capabilities{
			ChannelMap:      defaultChannelMap(),
			Tags:            []string{"title", "artist", "comment", "app"},
			SupportedEvents: []oplsong.EventKind{oplsong.EventNoteOn, oplsong.EventNoteOff, oplsong.EventConfiguration, oplsong.EventDelay},
		},
	}
}

func (h *imfHandler) Identify(data []byte, filename string) IdentifyResult {
	if h.typ1 {
		if len(data) < 2 {
			return IdentifyResult{No, "too short for a type-1 body-length header"}
		}
		bodyLen := int(binary.LittleEndian.Uint16(data[:2]))
		rem := len(data) - 2
		if bodyLen > rem || bodyLen%4 != 0 {
			return IdentifyResult{No, "body_len inconsistent with file size or not a multiple of 4"}
		}
		trailer := rem - bodyLen
		if trailer == 0 {
			return IdentifyResult{Yes, "body_len exactly accounts for the remaining file"}
		}
		if data[2+bodyLen] == 0x1A {
			return IdentifyResult{Yes, "body_len accounts for the remainder up to a tag block"}
		}
		return IdentifyResult{Maybe, "body_len header present but trailing bytes are unaccounted for"}
	}

	body := data
	if n := len(body); n > 0 {
		for i := 0; i < n; i++ {
			if body[i] == 0x1A && i%4 == 0 {
				body = body[:i]
				break
			}
		}
	}
	if len(body)%4 != 0 {
		return IdentifyResult{No, "file length is not a multiple of 4 bytes"}
	}
	return IdentifyResult{Maybe, fmt.Sprintf("headerless %dHz register log shape, ambiguous without other evidence", h.hertz)}
}

func (h *imfHandler) Parse(content Content) (*oplsong.Music, error) {
	data := content.Main
	if h.typ1 {
		if len(data) < 2 {
			return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "imf type-1 header")
		}
		bodyLen := int(binary.LittleEndian.Uint16(data[:2]))
		if 2+bodyLen > len(data) {
			return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "imf type-1 body")
		}
		body := data[2 : 2+bodyLen]
		rest := data[2+bodyLen:]
		return h.parseBody(body, rest)
	}

	body := data
	rest := []byte(nil)
	for i := 0; i < len(body); i += 4 {
		if body[i] == 0x1A {
			rest = body[i:]
			body = body[:i]
			break
		}
	}
	return h.parseBody(body, rest)
}

func (h *imfHandler) parseBody(body, tagData []byte) (*oplsong.Music, error) {
	if len(body)%4 != 0 {
		return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "imf body length not a multiple of 4")
	}

	tempo := oplsong.DefaultTempo()
	tempo.SetHertz(float64(h.hertz))

	var items []oplsong.OplInput
	for i := 0; i < len(body); i += 4 {
		reg, val := body[i], body[i+1]
		delay := binary.LittleEndian.Uint16(body[i+2 : i+4])
		items = append(items, oplsong.RegWrite(uint16(reg), val))
		if delay > 0 {
			items = append(items, oplsong.DelayItem(uint32(delay)))
		}
	}

	events, metas, patches, err := oplsong.ParseOPL(items, tempo)
	if err != nil {
		return nil, err
	}

	pat, err := oplsong.AssignTracks(events, metas, defaultChannelMap())
	if err != nil {
		return nil, err
	}

	music := &oplsong.Music{
		InitialTempo:    tempo,
		Patches:         patches,
		TrackConfigs:    defaultChannelMap(),
		Patterns:        []oplsong.Pattern{pat},
		PatternSequence: []int{0},
	}

	if tags, ok, err := ReadTagBlock(tagData); err != nil {
		log.Printf("formats: imf tag block decode failed, continuing without tags: %v", err)
	} else if ok {
		music.Tags = tagsToMap(tags)
	}

	return music, music.Validate()
}

func (h *imfHandler) Generate(music *oplsong.Music) (GenerateResult, error) {
	if len(music.Patterns) == 0 {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrMissingInstrument, "music has no patterns to flatten")
	}
	events, metas, err := music.FlattenPattern(0)
	if err != nil {
		return GenerateResult{}, err
	}

	target := oplsong.DefaultTempo()
	target.SetHertz(float64(h.hertz))
	events, metas, err = oplsong.FixedTempo(events, metas, target.UsPerTick)
	if err != nil {
		return GenerateResult{}, err
	}

	warn := &oplsong.WarningCollector{}
	items, err := oplsong.GenerateOPL(events, metas, music.TrackConfigs, warn)
	if err != nil {
		return GenerateResult{}, err
	}

	body := packIMFRows(items, warn)

	var main []byte
	if h.typ1 {
		lenPrefix := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenPrefix, uint16(len(body)))
		main = append(lenPrefix, body...)
	} else {
		main = body
	}

	if music.Tags != nil {
		var buf bytes.Buffer
		buf.Write(main)
		if err := WriteTagBlock(&buf, tagsFromMap(music.Tags)); err != nil {
			return GenerateResult{}, err
		}
		main = buf.Bytes()
	}

	return GenerateResult{Content: Content{Main: main}, Warnings: warn.Warnings()}, nil
}

// packIMFRows lays out a minimal OplInput stream as 4-byte IMF rows,
// splitting delays longer than 65535 ticks and dropping register writes
// outside bank 0 (IMF predates OPL3 dual-bank addressing).
func packIMFRows(items []oplsong.OplInput, warn *oplsong.WarningCollector) []byte {
	type row struct {
		reg, val byte
		delay    uint16
	}
	var rows []row

	for _, it := range items {
		switch it.Kind {
		case oplsong.OplInputReg:
			if it.Reg >= 0x100 {
				warn.Add("dropped bank-1 register write 0x%03X: not representable in IMF", it.Reg)
				continue
			}
			rows = append(rows, row{reg: byte(it.Reg), val: it.Val})
		case oplsong.OplInputDelay:
			remaining := it.Delay
			if len(rows) == 0 {
				rows = append(rows, row{})
			}
			for remaining > 0 {
				last := &rows[len(rows)-1]
				room := uint32(0xFFFF) - uint32(last.delay)
				chunk := remaining
				if chunk > room {
					chunk = room
				}
				last.delay += uint16(chunk)
				remaining -= chunk
				if remaining > 0 {
					rows = append(rows, row{})
				}
			}
		case oplsong.OplInputTempo:
			warn.Add("dropped mid-stream tempo change: IMF has no fixed-tempo escape")
		}
	}

	buf := make([]byte, 0, len(rows)*4)
	for _, r := range rows {
		var d [2]byte
		binary.LittleEndian.PutUint16(d[:], r.delay)
		buf = append(buf, r.reg, r.val, d[0], d[1])
	}
	return buf
}

func (h *imfHandler) CheckLimits(music *oplsong.Music) []string {
	var issues []string
	if len(music.Patches) == 0 {
		issues = append(issues, "no patches defined")
	}
	return issues
}
