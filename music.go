package oplsong

import (
	"fmt"
	"sort"

	clone "github.com/huandu/go-clone/generic"
)

// Track is one channel's worth of events within a Pattern: a self-contained
// Delay-separated timeline, just like the flat stream OplParser produces,
// restricted to the events routed to this track.
type Track struct {
	Events []Event
	Metas  []EventMeta
}

func appendTrackDelay(t *Track, ticks uint32) {
	if ticks == 0 {
		return
	}
	if n := len(t.Events); n > 0 && t.Events[n-1].Kind == EventDelay {
		t.Events[n-1].Ticks += ticks
		return
	}
	t.Events = append(t.Events, Event{Kind: EventDelay, Ticks: ticks})
	t.Metas = append(t.Metas, EventMeta{OriginChannel: -1})
}

// Pattern is one reusable block of music: one Track per configured
// channel, plus a Global track carrying the Tempo/Configuration events
// that apply across all of them.
type Pattern struct {
	Tracks []Track
	Global Track
}

// Music is the format-agnostic song container the OPL/MIDI codecs feed
// into and read back out of. It owns every Patch and Event the codecs
// produce for the lifetime of the song.
type Music struct {
	InitialTempo    Tempo
	Patches         []Patch
	TrackConfigs    []TrackConfig
	Patterns        []Pattern
	PatternSequence []int
	LoopDest        *int
	Tags            map[string]string
}

// Validate checks the structural invariants every Music value must
// satisfy: every pattern has one track per configured channel, every
// pattern-sequence entry names an existing pattern, and every NoteOn
// references a patch that actually exists.
func (m *Music) Validate() error {
	for pi, pat := range m.Patterns {
		if len(pat.Tracks) != len(m.TrackConfigs) {
			return newErr(ErrFormatConflict, fmt.Sprintf("pattern %d has %d tracks, want %d", pi, len(pat.Tracks), len(m.TrackConfigs)))
		}
		for ti, track := range pat.Tracks {
			if err := validateTrackInstruments(track, len(m.Patches)); err != nil {
				return wrapErr(ErrMissingInstrument, fmt.Sprintf("pattern %d track %d", pi, ti), err)
			}
		}
		if err := validateTrackInstruments(pat.Global, len(m.Patches)); err != nil {
			return wrapErr(ErrMissingInstrument, fmt.Sprintf("pattern %d global track", pi), err)
		}
	}
	for i, idx := range m.PatternSequence {
		if idx < 0 || idx >= len(m.Patterns) {
			return newErr(ErrFormatConflict, fmt.Sprintf("pattern_sequence[%d]=%d out of range", i, idx))
		}
	}
	if m.LoopDest != nil && (*m.LoopDest < 0 || *m.LoopDest >= len(m.PatternSequence)) {
		return newErr(ErrFormatConflict, "loop_dest out of range")
	}
	return nil
}

func validateTrackInstruments(t Track, patchCount int) error {
	for _, ev := range t.Events {
		if ev.Kind == EventNoteOn && int(ev.InstrumentIndex) >= patchCount {
			return newErr(ErrMissingInstrument, fmt.Sprintf("instrument_index %d >= %d patches", ev.InstrumentIndex, patchCount))
		}
	}
	return nil
}

// Clone returns a deep copy of m, safe to mutate independently: the copy
// shares no slices or maps with m.
func (m *Music) Clone() *Music {
	return clone.Clone(m)
}

// AssignTracks splits a flat, OplParser/MidiToEvents-shaped event stream
// into a Pattern: NoteOn/NoteOff/Effect events route to the track whose
// TrackConfig matches their origin channel or rhythm voice; Tempo and
// Configuration events go to the pattern's Global track; Delay events are
// replicated onto every track (and Global) so each keeps an internally
// consistent timeline. Events whose origin matches no configured track
// are dropped.
func AssignTracks(events []Event, metas []EventMeta, trackConfigs []TrackConfig) (Pattern, error) {
	if len(events) != len(metas) {
		return Pattern{}, newErr(ErrFormatConflict, "events and metas length mismatch")
	}

	channelTrack := make(map[int]int)
	rhythmTrack := make(map[RhythmVoice]int)
	for i, cfg := range trackConfigs {
		switch cfg.Type {
		case ChannelOPLT, ChannelOPLF:
			channelTrack[cfg.Index] = i
		case ChannelOPLR:
			rhythmTrack[cfg.Rhythm] = i
		}
	}

	pat := Pattern{Tracks: make([]Track, len(trackConfigs))}

	for i, ev := range events {
		meta := metas[i]
		switch ev.Kind {
		case EventDelay:
			for t := range pat.Tracks {
				appendTrackDelay(&pat.Tracks[t], ev.Ticks)
			}
			appendTrackDelay(&pat.Global, ev.Ticks)

		case EventTempo, EventConfiguration:
			pat.Global.Events = append(pat.Global.Events, ev)
			pat.Global.Metas = append(pat.Global.Metas, meta)

		case EventNoteOn, EventNoteOff, EventEffect:
			idx, ok := -1, false
			if meta.OriginRhythm != RhythmNone {
				idx, ok = lookup(rhythmTrack, meta.OriginRhythm)
			} else {
				idx, ok = lookup(channelTrack, meta.OriginChannel)
			}
			if !ok {
				continue
			}
			meta.TrackIndex = idx
			pat.Tracks[idx].Events = append(pat.Tracks[idx].Events, ev)
			pat.Tracks[idx].Metas = append(pat.Tracks[idx].Metas, meta)
		}
	}

	return pat, nil
}

func lookup[K comparable](m map[K]int, key K) (int, bool) {
	v, ok := m[key]
	return v, ok
}

// FlattenPattern merges a pattern's per-track timelines (plus its Global
// track) back into the single interleaved stream OplGenerator and
// EventsToMidi expect, reconstructing Delay events to fill the gaps
// between events that land on different absolute ticks. Ties at the same
// tick keep Global events ahead of track events, then track order.
func (m *Music) FlattenPattern(idx int) ([]Event, []EventMeta, error) {
	if idx < 0 || idx >= len(m.Patterns) {
		return nil, nil, newErr(ErrFormatConflict, fmt.Sprintf("pattern index %d out of range", idx))
	}
	pat := m.Patterns[idx]

	type timed struct {
		at   uint64
		lane int
		ev   Event
		meta EventMeta
	}
	var all []timed

	collect := func(t Track, lane int) {
		var at uint64
		for i, ev := range t.Events {
			if ev.Kind == EventDelay {
				at += uint64(ev.Ticks)
				continue
			}
			all = append(all, timed{at: at, lane: lane, ev: ev, meta: t.Metas[i]})
		}
	}

	collect(pat.Global, -1)
	for i, track := range pat.Tracks {
		collect(track, i)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].at != all[j].at {
			return all[i].at < all[j].at
		}
		return all[i].lane < all[j].lane
	})

	var events []Event
	var metas []EventMeta
	var cur uint64
	for _, te := range all {
		if te.at > cur {
			events = append(events, Event{Kind: EventDelay, Ticks: uint32(te.at - cur)})
			metas = append(metas, EventMeta{OriginChannel: -1})
			cur = te.at
		}
		events = append(events, te.ev)
		metas = append(metas, te.meta)
	}
	return events, metas, nil
}
