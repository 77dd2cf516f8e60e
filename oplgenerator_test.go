package oplsong

import (
	"reflect"
	"testing"

	clone "github.com/huandu/go-clone/generic"
)

func meltdCfg(ch int) []TrackConfig {
	return []TrackConfig{{Type: ChannelOPLT, Index: ch}}
}

// Scenario 5: a redundant Config write is omitted and the two Delay
// events either side of it merge into one.
func TestGenerateOPLScenario5ConfigAndDelayMerging(t *testing.T) {
	events := []Event{
		{Kind: EventConfiguration, Option: ConfigWaveSel, Value: true},
		{Kind: EventDelay, Ticks: 10},
		{Kind: EventConfiguration, Option: ConfigWaveSel, Value: false},
		{Kind: EventDelay, Ticks: 20},
		{Kind: EventConfiguration, Option: ConfigWaveSel, Value: false},
		{Kind: EventDelay, Ticks: 30},
	}
	metas := make([]EventMeta, len(events))
	for i := range metas {
		metas[i] = EventMeta{OriginChannel: -1, TrackIndex: -1}
	}

	warn := &WarningCollector{}
	items, err := GenerateOPL(events, metas, nil, warn)
	if err != nil {
		t.Fatalf("GenerateOPL: %v", err)
	}

	want := []OplInput{
		RegWrite(0x01, 0x20),
		DelayItem(10),
		RegWrite(0x01, 0x00),
		DelayItem(50),
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(items), len(want), items)
	}
	for i := range want {
		if items[i].Kind != want[i].Kind {
			t.Fatalf("item %d kind = %v, want %v", i, items[i].Kind, want[i].Kind)
		}
		switch want[i].Kind {
		case OplInputReg:
			if items[i].Reg != want[i].Reg || items[i].Val != want[i].Val {
				t.Errorf("item %d = %+v, want %+v", i, items[i], want[i])
			}
		case OplInputDelay:
			if items[i].Delay != want[i].Delay {
				t.Errorf("item %d delay = %d, want %d", i, items[i].Delay, want[i].Delay)
			}
		}
	}
}

func TestGenerateOPLNoteOnNoteOffRoundTripsThroughParse(t *testing.T) {
	events := []Event{
		{Kind: EventNoteOn, FrequencyHz: 440, Velocity: 1, InstrumentIndex: 0},
		{Kind: EventDelay, Ticks: 10},
		{Kind: EventNoteOff},
		{Kind: EventDelay, Ticks: 5},
	}
	metas := []EventMeta{
		{OriginChannel: 0, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
		{OriginChannel: 0, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
	}

	warn := &WarningCollector{}
	items, err := GenerateOPL(events, metas, meltdCfg(0), warn)
	if err != nil {
		t.Fatalf("GenerateOPL: %v", err)
	}

	parsed, _, _, err := ParseOPL(items, DefaultTempo())
	if err != nil {
		t.Fatalf("ParseOPL(generated): %v", err)
	}

	var kinds []EventKind
	for _, ev := range parsed {
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

func TestGenerateOPLChannelOffsetUsesBankArithmetic(t *testing.T) {
	// REDESIGN FLAG (c): NoteOff on channel 9 (bank 1) must clear bit 0x20
	// of register 0x1B0, not 0xB9 - the naive `0xB0 | channelIndex` bug.
	events := []Event{
		{Kind: EventNoteOn, FrequencyHz: 440, InstrumentIndex: 0},
		{Kind: EventDelay, Ticks: 1},
		{Kind: EventNoteOff},
		{Kind: EventDelay, Ticks: 1},
	}
	metas := []EventMeta{
		{OriginChannel: 9, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
		{OriginChannel: 9, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
	}
	warn := &WarningCollector{}
	items, err := GenerateOPL(events, metas, meltdCfg(9), warn)
	if err != nil {
		t.Fatalf("GenerateOPL: %v", err)
	}

	var sawBank1KeyOff bool
	for _, it := range items {
		if it.Kind == OplInputReg && it.Reg == 0x1B0 && it.Val&0x20 == 0 {
			sawBank1KeyOff = true
		}
		if it.Kind == OplInputReg && it.Reg == 0xB9 {
			t.Fatalf("NoteOff wrote to 0xB9 (channel-index-only bug), want bank-aware 0x1B0")
		}
	}
	if !sawBank1KeyOff {
		t.Fatal("expected a keyoff write to register 0x1B0 for channel 9")
	}
}

// GenerateOPL must never mutate its input slices - verify by deep-copying
// them beforehand and comparing against the post-call originals.
func TestGenerateOPLInputNotMutated(t *testing.T) {
	events := []Event{
		{Kind: EventConfiguration, Option: ConfigWaveSel, Value: true},
		{Kind: EventDelay, Ticks: 10},
		{Kind: EventNoteOn, FrequencyHz: 440, Velocity: 1, InstrumentIndex: 0},
		{Kind: EventDelay, Ticks: 5},
		{Kind: EventNoteOff},
	}
	metas := []EventMeta{
		{OriginChannel: -1, TrackIndex: -1},
		{OriginChannel: -1, TrackIndex: -1},
		{OriginChannel: 0, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
		{OriginChannel: 0, TrackIndex: 0},
	}
	wantEvents := clone.Clone(events)
	wantMetas := clone.Clone(metas)

	warn := &WarningCollector{}
	if _, err := GenerateOPL(events, metas, meltdCfg(0), warn); err != nil {
		t.Fatalf("GenerateOPL: %v", err)
	}

	if !reflect.DeepEqual(events, wantEvents) {
		t.Errorf("events mutated by GenerateOPL: got %+v, want %+v", events, wantEvents)
	}
	if !reflect.DeepEqual(metas, wantMetas) {
		t.Errorf("metas mutated by GenerateOPL: got %+v, want %+v", metas, wantMetas)
	}
}

func TestGenerateOPLDropsEffectEventsWithWarning(t *testing.T) {
	bend := 0.5
	events := []Event{
		{Kind: EventEffect, PitchBend: &bend},
		{Kind: EventDelay, Ticks: 1},
	}
	metas := []EventMeta{
		{OriginChannel: 0, TrackIndex: 0},
		{OriginChannel: -1, TrackIndex: -1},
	}
	warn := &WarningCollector{}
	items, err := GenerateOPL(events, metas, meltdCfg(0), warn)
	if err != nil {
		t.Fatalf("GenerateOPL: %v", err)
	}
	for _, it := range items {
		if it.Kind == OplInputReg {
			t.Fatalf("effect event produced a register write: %+v", it)
		}
	}
	if len(warn.Warnings()) == 0 {
		t.Fatal("expected a warning for the unrepresentable effect event")
	}
}
