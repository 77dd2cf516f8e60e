// Package formats holds the thin, per-file-format wrappers around the
// core OPL/MIDI codecs: header/tag parsing, autodetection, and the
// Music container glue. None of it models chip or MIDI semantics
// itself - that lives in the oplsong package.
package formats

import "github.com/retrofm/oplsong"

// Validity is the three-way answer Identify gives for a candidate file.
type Validity int

const (
	No Validity = iota
	Maybe
	Yes
)

// IdentifyResult is Identify's structured, non-throwing verdict.
type IdentifyResult struct {
	Valid  Validity
	Reason string
}

// Capabilities describes what a format can carry.
type Capabilities struct {
	ChannelMap      []oplsong.TrackConfig
	Tags            []string
	SupportedEvents []oplsong.EventKind
	PatchNames      bool
}

// Metadata is a format handler's static self-description.
type Metadata struct {
	ID    string
	Title string
	Games []string
	Glob  []string
	Caps  Capabilities
}

// Content bundles the main file payload with any named supplementary
// files a format needs (e.g. an SBI side-car next to a pattern file).
type Content struct {
	Main        []byte
	Supplements map[string][]byte
}

// GenerateResult is what Generate hands back: the bytes to write, plus
// any non-fatal issues encountered producing them.
type GenerateResult struct {
	Content  Content
	Warnings []string
}

// Handler is the contract every concrete file format implements.
type Handler interface {
	Metadata() Metadata
	Identify(data []byte, filename string) IdentifyResult
	Parse(content Content) (*oplsong.Music, error)
	Generate(music *oplsong.Music) (GenerateResult, error)
	CheckLimits(music *oplsong.Music) []string
}

// defaultChannelMap is the fixed 23-voice OPL3 layout (18 melodic + 5
// rhythm) every raw-register format handler routes Music tracks through.
func defaultChannelMap() []oplsong.TrackConfig {
	cfgs := make([]oplsong.TrackConfig, 0, 23)
	for c := 0; c < 18; c++ {
		cfgs = append(cfgs, oplsong.TrackConfig{Type: oplsong.ChannelOPLT, Index: c})
	}
	for _, rv := range []oplsong.RhythmVoice{oplsong.RhythmBD, oplsong.RhythmSD, oplsong.RhythmTT, oplsong.RhythmCY, oplsong.RhythmHH} {
		cfgs = append(cfgs, oplsong.TrackConfig{Type: oplsong.ChannelOPLR, Rhythm: rv})
	}
	return cfgs
}
