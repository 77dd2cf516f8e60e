package formats

import (
	"bytes"
	"encoding/binary"

	"github.com/retrofm/oplsong"
)

const midSignature = "MThd"

// midiChannelCount is the fixed track layout Parse builds: one Track per
// MIDI channel, regardless of how many the source file actually used.
const midiChannelCount = 16

// midHandler implements Standard MIDI File type 1: a multi-track chunked
// container around the same running-status/VLQ event stream MidiCodec
// already speaks. Each SMF track is merged by absolute tick into one flat
// event stream on Parse, and split back into a tempo track plus one track
// per configured channel on Generate.
type midHandler struct{}

// NewMID returns the SMF type-1 handler.
func NewMID() Handler {
	return &midHandler{}
}

func (h *midHandler) Metadata() Metadata {
	return Metadata{
		ID: "mid-type1", Title: "MID (Standard MIDI File, type 1)",
		Glob: []string{"*.mid", "*.midi"},
		Caps: Capabilities{
			SupportedEvents: []oplsong.EventKind{
				oplsong.EventNoteOn, oplsong.EventNoteOff, oplsong.EventEffect,
				oplsong.EventTempo, oplsong.EventDelay,
			},
		},
	}
}

func (h *midHandler) Identify(data []byte, filename string) IdentifyResult {
	if len(data) < 14 {
		return IdentifyResult{No, "too short for an MThd header"}
	}
	if string(data[:4]) != midSignature {
		return IdentifyResult{No, "missing MThd signature"}
	}
	if binary.BigEndian.Uint32(data[4:8]) != 6 {
		return IdentifyResult{No, "MThd header length is not 6"}
	}
	return IdentifyResult{Yes, "MThd signature matched"}
}

func chunk(data []byte) (id string, body []byte, rest []byte, ok bool) {
	if len(data) < 8 {
		return "", nil, nil, false
	}
	id = string(data[:4])
	length := binary.BigEndian.Uint32(data[4:8])
	if uint32(len(data)-8) < length {
		return "", nil, nil, false
	}
	body = data[8 : 8+length]
	rest = data[8+length:]
	return id, body, rest, true
}

func (h *midHandler) Parse(content Content) (*oplsong.Music, error) {
	data := content.Main
	id, header, rest, ok := chunk(data)
	if !ok || id != midSignature {
		return nil, oplsong.NewError(oplsong.ErrBadSignature, "missing MThd chunk")
	}
	if len(header) < 6 {
		return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "MThd header truncated")
	}
	trackCount := int(binary.BigEndian.Uint16(header[2:4]))
	ticksPerQN := int(binary.BigEndian.Uint16(header[4:6]))
	if ticksPerQN&0x8000 != 0 {
		return nil, oplsong.NewError(oplsong.ErrUnsupportedVersion, "SMPTE division is not supported")
	}
	if ticksPerQN <= 0 {
		ticksPerQN = 48
	}

	var all []midAbsEvent

	for t := 0; t < trackCount; t++ {
		var id2 string
		var body []byte
		id2, body, rest, ok = chunk(rest)
		if !ok {
			return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "MTrk chunk truncated")
		}
		if id2 != "MTrk" {
			continue
		}
		events, err := oplsong.DecodeSMFTrack(body)
		if err != nil {
			return nil, err
		}
		var at uint64
		for _, ev := range events {
			at += uint64(ev.DeltaTicks)
			if ev.Kind == oplsong.MidiMeta && ev.MetaType == 0x2F {
				continue
			}
			all = append(all, midAbsEvent{at: at, track: t, ev: ev})
		}
	}

	stableSortAbsEvents(all)

	merged := make([]oplsong.MidiEvent, 0, len(all)+1)
	var cur uint64
	for _, ae := range all {
		ev := ae.ev
		ev.DeltaTicks = uint32(ae.at - cur)
		cur = ae.at
		merged = append(merged, ev)
	}
	merged = append(merged, oplsong.MidiEvent{Kind: oplsong.MidiMeta, MetaType: 0x2F})

	initial := oplsong.DefaultTempo()
	initial.TicksPerQuarterNote = ticksPerQN
	initial.SetBPM(120)

	events, metas, patches, err := oplsong.MidiToEvents(merged, initial)
	if err != nil {
		return nil, err
	}

	trackConfigs := make([]oplsong.TrackConfig, midiChannelCount)
	for i := range trackConfigs {
		trackConfigs[i] = oplsong.TrackConfig{Type: oplsong.ChannelOPLT, Index: i}
	}
	pat, err := oplsong.AssignTracks(events, metas, trackConfigs)
	if err != nil {
		return nil, err
	}

	music := &oplsong.Music{
		InitialTempo:    initial,
		Patches:         patches,
		TrackConfigs:    trackConfigs,
		Patterns:        []oplsong.Pattern{pat},
		PatternSequence: []int{0},
	}
	return music, music.Validate()
}

type midAbsEvent struct {
	at    uint64
	track int
	ev    oplsong.MidiEvent
}

// stableSortAbsEvents orders merged multi-track events by absolute tick,
// breaking ties by track index so each track's own internal order survives
// the merge.
func stableSortAbsEvents(all []midAbsEvent) {
	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			a, b := all[j-1], all[j]
			if a.at < b.at || (a.at == b.at && a.track <= b.track) {
				break
			}
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
}

func midiChannelFor(cfg oplsong.TrackConfig) int {
	if cfg.Type == oplsong.ChannelOPLR {
		return 9
	}
	return cfg.Index % midiChannelCount
}

func (h *midHandler) Generate(music *oplsong.Music) (GenerateResult, error) {
	if len(music.Patterns) == 0 {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrMissingInstrument, "music has no patterns to emit")
	}
	patIdx := 0
	if len(music.PatternSequence) > 0 {
		patIdx = music.PatternSequence[0]
	}
	if patIdx < 0 || patIdx >= len(music.Patterns) {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrFormatConflict, "pattern_sequence[0] out of range")
	}
	pat := music.Patterns[patIdx]
	if len(pat.Tracks) != len(music.TrackConfigs) {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrFormatConflict, "pattern track count does not match track configs")
	}

	warn := &oplsong.WarningCollector{}
	var trackBytes [][]byte

	globalMetas := make([]oplsong.EventMeta, len(pat.Global.Metas))
	for i := range globalMetas {
		globalMetas[i] = oplsong.EventMeta{OriginChannel: -1}
	}
	tempoMidi, err := oplsong.EventsToMidi(pat.Global.Events, globalMetas, music.Patches)
	if err != nil {
		return GenerateResult{}, err
	}
	trackBytes = append(trackBytes, oplsong.EncodeSMFTrack(tempoMidi))

	for i, track := range pat.Tracks {
		if len(track.Events) == 0 {
			continue
		}
		ch := midiChannelFor(music.TrackConfigs[i])
		metas := make([]oplsong.EventMeta, len(track.Metas))
		for j, m := range track.Metas {
			m.OriginChannel = ch
			metas[j] = m
		}
		midiEvents, err := oplsong.EventsToMidi(track.Events, metas, music.Patches)
		if err != nil {
			return GenerateResult{}, err
		}
		trackBytes = append(trackBytes, oplsong.EncodeSMFTrack(midiEvents))
	}

	var buf bytes.Buffer
	buf.WriteString(midSignature)
	writeU32BE(&buf, 6)
	writeU16BE(&buf, 1)
	writeU16BE(&buf, uint16(len(trackBytes)))
	ticksPerQN := music.InitialTempo.TicksPerQuarterNote
	if ticksPerQN <= 0 || ticksPerQN > 0x7FFF {
		ticksPerQN = 48
	}
	writeU16BE(&buf, uint16(ticksPerQN))
	for _, tb := range trackBytes {
		buf.WriteString("MTrk")
		writeU32BE(&buf, uint32(len(tb)))
		buf.Write(tb)
	}

	return GenerateResult{Content: Content{Main: buf.Bytes()}, Warnings: warn.Warnings()}, nil
}

func writeU32BE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16BE(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func (h *midHandler) CheckLimits(music *oplsong.Music) []string {
	var issues []string
	for _, p := range music.Patches {
		if p.Kind != oplsong.PatchMIDI {
			issues = append(issues, "patch table contains a non-MIDI patch; Program Change output will be approximate")
			break
		}
	}
	return issues
}
