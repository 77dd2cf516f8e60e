package oplsong

import (
	"bytes"
	"io"
	"math"
)

// MidiEventKind tags the command a MidiEvent carries.
type MidiEventKind int

const (
	MidiNoteOff MidiEventKind = iota
	MidiNoteOn
	MidiNotePressure
	MidiController
	MidiPatch
	MidiChannelPressure
	MidiPitchbend
	MidiMeta
	MidiSysex
)

// MidiEvent is one decoded SMF track event. DeltaTicks is the VLQ delta
// time that preceded it in the byte stream. Channel/Data1/Data2 are
// meaningful for channel messages; MetaType/Payload for meta and sysex.
type MidiEvent struct {
	Kind       MidiEventKind
	DeltaTicks uint32
	Channel    int
	Data1      byte
	Data2      byte
	MetaType   byte
	Payload    []byte
}

func singleDataByte(kind MidiEventKind) bool {
	return kind == MidiPatch || kind == MidiChannelPressure
}

func midiKindFromStatus(status byte) MidiEventKind {
	switch status & 0xF0 {
	case 0x80:
		return MidiNoteOff
	case 0x90:
		return MidiNoteOn
	case 0xA0:
		return MidiNotePressure
	case 0xB0:
		return MidiController
	case 0xC0:
		return MidiPatch
	case 0xD0:
		return MidiChannelPressure
	default:
		return MidiPitchbend
	}
}

func statusByteFor(kind MidiEventKind, channel int) byte {
	var base byte
	switch kind {
	case MidiNoteOff:
		base = 0x80
	case MidiNoteOn:
		base = 0x90
	case MidiNotePressure:
		base = 0xA0
	case MidiController:
		base = 0xB0
	case MidiPatch:
		base = 0xC0
	case MidiChannelPressure:
		base = 0xD0
	case MidiPitchbend:
		base = 0xE0
	}
	return base | byte(channel&0x0F)
}

func decodeVLQ(r *bytes.Reader) (uint32, error) {
	var value uint32
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, wrapErr(ErrTruncatedInput, "variable-length quantity truncated", err)
		}
		value = (value << 7) | uint32(b&0x7F)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, newErr(ErrTruncatedInput, "variable-length quantity longer than 4 bytes")
}

func encodeVLQ(v uint32) []byte {
	buf := []byte{byte(v & 0x7F)}
	v >>= 7
	for v > 0 {
		buf = append([]byte{byte(v&0x7F) | 0x80}, buf...)
		v >>= 7
	}
	return buf
}

// DecodeSMFTrack decodes one MTrk chunk's payload (without the "MTrk" tag
// or length prefix) into an ordered MidiEvent list, expanding running
// status. Decoding stops at an end-of-track meta event, or at the end of
// data if none was present.
func DecodeSMFTrack(data []byte) ([]MidiEvent, error) {
	r := bytes.NewReader(data)
	var events []MidiEvent
	var runningStatus byte

	for r.Len() > 0 {
		delta, err := decodeVLQ(r)
		if err != nil {
			return nil, err
		}
		statusByte, err := r.ReadByte()
		if err != nil {
			return nil, wrapErr(ErrTruncatedInput, "event status byte truncated", err)
		}

		var status byte
		if statusByte&0x80 != 0 {
			status = statusByte
			runningStatus = status
		} else {
			status = runningStatus
			if err := r.UnreadByte(); err != nil {
				return nil, wrapErr(ErrTruncatedInput, "could not apply running status", err)
			}
		}

		switch {
		case status == 0xFF:
			metaType, err := r.ReadByte()
			if err != nil {
				return nil, wrapErr(ErrTruncatedInput, "meta event type truncated", err)
			}
			length, err := decodeVLQ(r)
			if err != nil {
				return nil, err
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, wrapErr(ErrTruncatedInput, "meta event payload truncated", err)
			}
			events = append(events, MidiEvent{Kind: MidiMeta, DeltaTicks: delta, MetaType: metaType, Payload: payload})
			if metaType == 0x2F {
				return events, nil
			}

		case status == 0xF0 || status == 0xF7:
			length, err := decodeVLQ(r)
			if err != nil {
				return nil, err
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, wrapErr(ErrTruncatedInput, "sysex payload truncated", err)
			}
			events = append(events, MidiEvent{Kind: MidiSysex, DeltaTicks: delta, MetaType: status, Payload: payload})

		default:
			kind := midiKindFromStatus(status)
			data1, err := r.ReadByte()
			if err != nil {
				return nil, wrapErr(ErrTruncatedInput, "channel event data truncated", err)
			}
			var data2 byte
			if !singleDataByte(kind) {
				data2, err = r.ReadByte()
				if err != nil {
					return nil, wrapErr(ErrTruncatedInput, "channel event data truncated", err)
				}
			}
			events = append(events, MidiEvent{
				Kind: kind, DeltaTicks: delta, Channel: int(status & 0x0F),
				Data1: data1, Data2: data2,
			})
		}
	}
	return events, nil
}

// EncodeSMFTrack re-encodes a MidiEvent list back into an MTrk payload,
// exploiting running status wherever consecutive events share a command.
func EncodeSMFTrack(events []MidiEvent) []byte {
	var buf bytes.Buffer
	var runningStatus byte

	for _, ev := range events {
		buf.Write(encodeVLQ(ev.DeltaTicks))
		switch ev.Kind {
		case MidiMeta:
			buf.WriteByte(0xFF)
			buf.WriteByte(ev.MetaType)
			buf.Write(encodeVLQ(uint32(len(ev.Payload))))
			buf.Write(ev.Payload)
			runningStatus = 0
		case MidiSysex:
			buf.WriteByte(ev.MetaType)
			buf.Write(encodeVLQ(uint32(len(ev.Payload))))
			buf.Write(ev.Payload)
			runningStatus = 0
		default:
			status := statusByteFor(ev.Kind, ev.Channel)
			if status != runningStatus {
				buf.WriteByte(status)
				runningStatus = status
			}
			buf.WriteByte(ev.Data1)
			if !singleDataByte(ev.Kind) {
				buf.WriteByte(ev.Data2)
			}
		}
	}
	return buf.Bytes()
}

func midiNoteToFreq(note byte) float64 {
	return 440.0 * math.Pow(2, (float64(note)-69)/12.0)
}

func freqToMidiNote(freq float64) byte {
	n := int(math.Round(69 + 12*math.Log2(freq/440.0)))
	if n < 0 {
		n = 0
	}
	if n > 127 {
		n = 127
	}
	return byte(n)
}

// MidiToEvents translates one track's decoded MidiEvent list into the
// abstract Event representation, populating a fresh patch table as
// Program Change / Note On combinations are encountered. initial seeds
// both the returned Tempo event and the tick-to-microsecond conversion
// used for subsequent tempo meta events.
func MidiToEvents(midi []MidiEvent, initial Tempo) ([]Event, []EventMeta, []Patch, error) {
	events := []Event{{Kind: EventTempo, Tempo: initial}}
	metas := []EventMeta{{OriginChannel: -1}}
	table := NewPatchTable()

	var program [16]int
	tempo := initial

	emitDelay := func(ticks uint32) {
		if ticks == 0 {
			return
		}
		if n := len(events); n > 0 && events[n-1].Kind == EventDelay {
			events[n-1].Ticks += ticks
			return
		}
		events = append(events, Event{Kind: EventDelay, Ticks: ticks})
		metas = append(metas, EventMeta{OriginChannel: -1})
	}

	for _, ev := range midi {
		emitDelay(ev.DeltaTicks)

		switch ev.Kind {
		case MidiNoteOn:
			if ev.Data2 == 0 {
				events = append(events, Event{Kind: EventNoteOff})
				metas = append(metas, EventMeta{OriginChannel: ev.Channel})
				continue
			}
			patch := Patch{Kind: PatchMIDI, Bank: 0, Program: program[ev.Channel]}
			idx := table.FindOrAppend(patch)
			events = append(events, Event{
				Kind: EventNoteOn, FrequencyHz: midiNoteToFreq(ev.Data1),
				Velocity: float64(ev.Data2) / 127.0, InstrumentIndex: uint32(idx),
			})
			metas = append(metas, EventMeta{OriginChannel: ev.Channel})

		case MidiNoteOff:
			events = append(events, Event{Kind: EventNoteOff})
			metas = append(metas, EventMeta{OriginChannel: ev.Channel})

		case MidiPatch:
			program[ev.Channel] = int(ev.Data1)

		case MidiPitchbend:
			raw := (int(ev.Data2)<<7 | int(ev.Data1)) - 8192
			bend := float64(raw) / 8192.0
			events = append(events, Event{Kind: EventEffect, PitchBend: &bend})
			metas = append(metas, EventMeta{OriginChannel: ev.Channel})

		case MidiMeta:
			if ev.MetaType == 0x2F {
				return events, metas, table.Patches(), nil
			}
			if ev.MetaType == 0x51 && len(ev.Payload) == 3 {
				us := int(ev.Payload[0])<<16 | int(ev.Payload[1])<<8 | int(ev.Payload[2])
				tempo.SetUsPerQuarterNote(float64(us))
				if n := len(events); n > 0 && events[n-1].Kind == EventTempo {
					events[n-1].Tempo = tempo
				} else {
					events = append(events, Event{Kind: EventTempo, Tempo: tempo})
					metas = append(metas, EventMeta{OriginChannel: -1})
				}
			}

		case MidiController, MidiNotePressure, MidiChannelPressure, MidiSysex:
			// Not representable in the abstract Event model; preserved only
			// at the MidiEvent/SMF layer.
		}
	}

	return events, metas, table.Patches(), nil
}

// EventsToMidi translates an abstract Event list (with EventMeta.OriginChannel
// holding the destination MIDI channel) back into a MidiEvent list, emitting
// Program Change events on patch changes and a trailing end-of-track meta.
func EventsToMidi(events []Event, metas []EventMeta, patches []Patch) ([]MidiEvent, error) {
	if len(events) != len(metas) {
		return nil, newErr(ErrFormatConflict, "events and metas length mismatch")
	}

	var midi []MidiEvent
	var lastProgram [16]int
	var havePatch [16]bool
	var lastNote [16]byte
	var pending uint32

	for i, ev := range events {
		meta := metas[i]
		ch := meta.OriginChannel

		switch ev.Kind {
		case EventDelay:
			pending += ev.Ticks
			continue

		case EventTempo:
			us := uint32(math.Round(ev.Tempo.UsPerQuarterNote()))
			payload := []byte{byte(us >> 16), byte(us >> 8), byte(us)}
			midi = append(midi, MidiEvent{Kind: MidiMeta, DeltaTicks: pending, MetaType: 0x51, Payload: payload})

		case EventNoteOn:
			if ch < 0 || ch > 15 {
				return nil, newErr(ErrFormatConflict, "note on with no valid MIDI channel")
			}
			if int(ev.InstrumentIndex) >= len(patches) {
				return nil, newErr(ErrMissingInstrument, "note on references unknown instrument")
			}
			patch := patches[ev.InstrumentIndex]
			if !havePatch[ch] || lastProgram[ch] != patch.Program {
				midi = append(midi, MidiEvent{Kind: MidiPatch, DeltaTicks: pending, Channel: ch, Data1: byte(patch.Program)})
				pending = 0
				lastProgram[ch] = patch.Program
				havePatch[ch] = true
			}
			note := freqToMidiNote(ev.FrequencyHz)
			vel := byte(math.Round(ev.Velocity * 127))
			midi = append(midi, MidiEvent{Kind: MidiNoteOn, DeltaTicks: pending, Channel: ch, Data1: note, Data2: vel})
			lastNote[ch] = note

		case EventNoteOff:
			if ch < 0 || ch > 15 {
				return nil, newErr(ErrFormatConflict, "note off with no valid MIDI channel")
			}
			midi = append(midi, MidiEvent{Kind: MidiNoteOff, DeltaTicks: pending, Channel: ch, Data1: lastNote[ch]})

		case EventEffect:
			if ch < 0 || ch > 15 {
				continue
			}
			if ev.PitchBend != nil {
				raw := int(math.Round(*ev.PitchBend*8192)) + 8192
				if raw < 0 {
					raw = 0
				}
				if raw > 16383 {
					raw = 16383
				}
				midi = append(midi, MidiEvent{
					Kind: MidiPitchbend, DeltaTicks: pending, Channel: ch,
					Data1: byte(raw & 0x7F), Data2: byte((raw >> 7) & 0x7F),
				})
				pending = 0
			}
			if ev.EffectVol != nil {
				vol := byte(math.Round(*ev.EffectVol * 127))
				midi = append(midi, MidiEvent{Kind: MidiController, DeltaTicks: pending, Channel: ch, Data1: 7, Data2: vol})
				pending = 0
			}
			continue

		case EventConfiguration:
			// OPL-only; has no MIDI representation.
			continue
		}
		pending = 0
	}

	midi = append(midi, MidiEvent{Kind: MidiMeta, DeltaTicks: pending, MetaType: 0x2F})
	return midi, nil
}
