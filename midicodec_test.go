package oplsong

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	clone "github.com/huandu/go-clone/generic"
)

func TestDecodeSMFTrackRunningStatus(t *testing.T) {
	// delta0 NoteOn ch0 60 100; delta5 (running status) NoteOn ch0 60 0 (note-off-as-on)
	data := []byte{
		0x00, 0x90, 60, 100,
		0x05, 60, 0,
	}
	events, err := DecodeSMFTrack(data)
	if err != nil {
		t.Fatalf("DecodeSMFTrack: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Kind != MidiNoteOn || events[0].Data1 != 60 || events[0].Data2 != 100 {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Kind != MidiNoteOn || events[1].DeltaTicks != 5 || events[1].Data2 != 0 {
		t.Errorf("event 1 = %+v, want running-status NoteOn with delta 5 and velocity 0", events[1])
	}
}

func TestDecodeSMFTrackStopsAtEndOfTrack(t *testing.T) {
	data := []byte{
		0x00, 0x90, 60, 100,
		0x00, 0xFF, 0x2F, 0x00,
		0x00, 0x90, 61, 100, // must never be reached
	}
	events, err := DecodeSMFTrack(data)
	if err != nil {
		t.Fatalf("DecodeSMFTrack: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (stop at end-of-track): %+v", len(events), events)
	}
	if events[1].Kind != MidiMeta || events[1].MetaType != 0x2F {
		t.Errorf("event 1 = %+v, want end-of-track meta", events[1])
	}
}

func TestDecodeSMFTrackMetaAndSysex(t *testing.T) {
	data := []byte{
		0x00, 0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20, // tempo meta, 500000 us/qn
		0x00, 0xF0, 0x02, 0xAB, 0xCD,
		0x00, 0xFF, 0x2F, 0x00,
	}
	events, err := DecodeSMFTrack(data)
	if err != nil {
		t.Fatalf("DecodeSMFTrack: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].MetaType != 0x51 || len(events[0].Payload) != 3 {
		t.Errorf("tempo meta = %+v", events[0])
	}
	if events[1].Kind != MidiSysex || !bytes.Equal(events[1].Payload, []byte{0xAB, 0xCD}) {
		t.Errorf("sysex event = %+v", events[1])
	}
}

func TestEncodeDecodeSMFTrackRoundTrip(t *testing.T) {
	events := []MidiEvent{
		{Kind: MidiPatch, DeltaTicks: 0, Channel: 2, Data1: 5},
		{Kind: MidiNoteOn, DeltaTicks: 0, Channel: 2, Data1: 60, Data2: 100},
		{Kind: MidiNoteOn, DeltaTicks: 10, Channel: 2, Data1: 64, Data2: 90},
		{Kind: MidiNoteOff, DeltaTicks: 20, Channel: 2, Data1: 60, Data2: 0},
		{Kind: MidiMeta, DeltaTicks: 0, MetaType: 0x2F},
	}
	encoded := EncodeSMFTrack(events)
	decoded, err := DecodeSMFTrack(encoded)
	if err != nil {
		t.Fatalf("DecodeSMFTrack(EncodeSMFTrack(...)): %v", err)
	}
	if len(decoded) != len(events) {
		t.Fatalf("got %d events, want %d: %+v", len(decoded), len(events), decoded)
	}
	for i := range events {
		if decoded[i].Kind != events[i].Kind || decoded[i].DeltaTicks != events[i].DeltaTicks ||
			decoded[i].Channel != events[i].Channel || decoded[i].Data1 != events[i].Data1 {
			t.Errorf("event %d = %+v, want %+v", i, decoded[i], events[i])
		}
	}
}

func TestMidiToEventsNoteOnZeroVelocityIsNoteOff(t *testing.T) {
	midi := []MidiEvent{
		{Kind: MidiPatch, Channel: 0, Data1: 5},
		{Kind: MidiNoteOn, Channel: 0, Data1: 60, Data2: 100},
		{Kind: MidiNoteOn, DeltaTicks: 10, Channel: 0, Data1: 60, Data2: 0},
		{Kind: MidiMeta, MetaType: 0x2F},
	}
	events, metas, patches, err := MidiToEvents(midi, DefaultTempo())
	if err != nil {
		t.Fatalf("MidiToEvents: %v", err)
	}
	want := []EventKind{EventTempo, EventNoteOn, EventDelay, EventNoteOff}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i := range want {
		if events[i].Kind != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i].Kind, want[i])
		}
	}
	if len(patches) != 1 || patches[0].Program != 5 {
		t.Errorf("patches = %+v, want one patch with Program 5", patches)
	}
	if metas[1].OriginChannel != 0 {
		t.Errorf("NoteOn origin channel = %d, want 0", metas[1].OriginChannel)
	}
}

func TestMidiToEventsTempoMetaUpdatesInPlace(t *testing.T) {
	midi := []MidiEvent{
		{Kind: MidiMeta, MetaType: 0x51, Payload: []byte{0x07, 0xA1, 0x20}}, // 500000us/qn = 120bpm
		{Kind: MidiMeta, MetaType: 0x2F},
	}
	events, _, _, err := MidiToEvents(midi, Tempo{TicksPerQuarterNote: 48})
	if err != nil {
		t.Fatalf("MidiToEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventTempo {
		t.Fatalf("events = %+v, want a single merged Tempo event", events)
	}
	if got := events[0].Tempo.BPM(); got != 120 {
		t.Errorf("BPM() = %d, want 120", got)
	}
}

func TestEventsToMidiNoteRequiresValidChannel(t *testing.T) {
	events := []Event{{Kind: EventNoteOn, FrequencyHz: 440, InstrumentIndex: 0}}
	metas := []EventMeta{{OriginChannel: -1}}
	patches := []Patch{{Kind: PatchMIDI}}
	_, err := EventsToMidi(events, metas, patches)
	if err == nil {
		t.Fatal("expected an error for a note on with no valid MIDI channel")
	}
	var ce *CodecError
	if !errors.As(err, &ce) || ce.Kind != ErrFormatConflict {
		t.Fatalf("err = %v, want a CodecError with Kind ErrFormatConflict", err)
	}
}

// EventsToMidi must never mutate its input slices - verify by
// deep-copying them beforehand and comparing against the post-call
// originals.
func TestEventsToMidiInputNotMutated(t *testing.T) {
	initial := Tempo{TicksPerQuarterNote: 48}
	initial.SetBPM(120)
	events := []Event{
		{Kind: EventTempo, Tempo: initial},
		{Kind: EventNoteOn, FrequencyHz: midiNoteToFreq(60), Velocity: 100.0 / 127.0, InstrumentIndex: 0},
		{Kind: EventDelay, Ticks: 10},
		{Kind: EventNoteOff},
	}
	metas := []EventMeta{
		{OriginChannel: -1},
		{OriginChannel: 3},
		{OriginChannel: -1},
		{OriginChannel: 3},
	}
	patches := []Patch{{Kind: PatchMIDI, Program: 12}}
	wantEvents := clone.Clone(events)
	wantMetas := clone.Clone(metas)
	wantPatches := clone.Clone(patches)

	if _, err := EventsToMidi(events, metas, patches); err != nil {
		t.Fatalf("EventsToMidi: %v", err)
	}

	if !reflect.DeepEqual(events, wantEvents) {
		t.Errorf("events mutated by EventsToMidi: got %+v, want %+v", events, wantEvents)
	}
	if !reflect.DeepEqual(metas, wantMetas) {
		t.Errorf("metas mutated by EventsToMidi: got %+v, want %+v", metas, wantMetas)
	}
	if !reflect.DeepEqual(patches, wantPatches) {
		t.Errorf("patches mutated by EventsToMidi: got %+v, want %+v", patches, wantPatches)
	}
}

func TestEventsToMidiRoundTripsThroughMidiToEvents(t *testing.T) {
	initial := Tempo{TicksPerQuarterNote: 48}
	initial.SetBPM(120)
	events := []Event{
		{Kind: EventTempo, Tempo: initial},
		{Kind: EventNoteOn, FrequencyHz: midiNoteToFreq(60), Velocity: 100.0 / 127.0, InstrumentIndex: 0},
		{Kind: EventDelay, Ticks: 10},
		{Kind: EventNoteOff},
		{Kind: EventDelay, Ticks: 5},
	}
	metas := []EventMeta{
		{OriginChannel: -1},
		{OriginChannel: 3},
		{OriginChannel: -1},
		{OriginChannel: 3},
		{OriginChannel: -1},
	}
	patches := []Patch{{Kind: PatchMIDI, Program: 12}}

	midi, err := EventsToMidi(events, metas, patches)
	if err != nil {
		t.Fatalf("EventsToMidi: %v", err)
	}

	back, _, _, err := MidiToEvents(midi, initial)
	if err != nil {
		t.Fatalf("MidiToEvents(EventsToMidi(...)): %v", err)
	}

	var kinds []EventKind
	for _, ev := range back {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventTempo, EventNoteOn, EventDelay, EventNoteOff, EventDelay}
	if len(kinds) != len(want) {
		t.Fatalf("round-tripped kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("round-tripped event %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}
