// opldump prints a parsed Music's patches and event streams in a
// colorized, human-readable form.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/retrofm/oplsong"
	"github.com/retrofm/oplsong/formats"
)

var (
	cyan    = color.New(color.FgCyan).SprintfFunc()
	yellow  = color.New(color.FgYellow).SprintfFunc()
	green   = color.New(color.FgGreen).SprintfFunc()
	magenta = color.New(color.FgMagenta).SprintfFunc()
	white   = color.New(color.FgWhite).SprintfFunc()
)

func allHandlers() []formats.Handler {
	return []formats.Handler{
		formats.NewDRO(),
		formats.NewSBI(),
		formats.NewMID(),
		formats.NewIMFType1(560),
		formats.NewWLF(),
		formats.NewNukem2(),
		formats.NewIMFType0(560),
	}
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("opldump: ")

	if len(os.Args) <= 1 {
		log.Fatal("missing song filename")
	}

	path := os.Args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	registry := formats.NewRegistry(allHandlers()...)
	candidates := registry.Identify(data, path)
	if len(candidates) == 0 {
		log.Fatal("could not identify song format")
	}
	h := candidates[0].Handler

	music, err := h.Parse(formats.Content{Main: data})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s %s\n", cyan("format"), h.Metadata().Title)
	dumpPatches(music)
	for pi, pat := range music.Patterns {
		fmt.Printf("%s %d\n", cyan("pattern"), pi)
		dumpTrack(-1, pat.Global)
		for ti, tr := range pat.Tracks {
			dumpTrack(ti, tr)
		}
	}
}

func dumpPatches(music *oplsong.Music) {
	for i, p := range music.Patches {
		fmt.Printf("%s %2d %s\n", yellow("patch"), i, white("%s", patchKindName(p.Kind)))
	}
}

func patchKindName(k oplsong.PatchKind) string {
	switch k {
	case oplsong.PatchOPL:
		return "OPL"
	case oplsong.PatchMIDI:
		return "MIDI"
	case oplsong.PatchPCM:
		return "PCM"
	}
	return "unknown"
}

func dumpTrack(idx int, tr oplsong.Track) {
	if len(tr.Events) == 0 {
		return
	}
	label := "global"
	if idx >= 0 {
		label = fmt.Sprintf("track %d", idx)
	}
	fmt.Printf("  %s\n", green(label))
	for _, ev := range tr.Events {
		fmt.Printf("    %-6s %s\n", magenta(ev.Kind.String()), formatEvent(ev))
	}
}

func formatEvent(ev oplsong.Event) string {
	switch ev.Kind {
	case oplsong.EventTempo:
		return fmt.Sprintf("bpm=%.2f", ev.Tempo.BPM())
	case oplsong.EventDelay:
		return fmt.Sprintf("ticks=%d", ev.Ticks)
	case oplsong.EventNoteOn:
		return fmt.Sprintf("freq=%.2fHz vel=%.2f instr=%d", ev.FrequencyHz, ev.Velocity, ev.InstrumentIndex)
	case oplsong.EventNoteOff:
		return ""
	case oplsong.EventConfiguration:
		return fmt.Sprintf("option=%d value=%v", ev.Option, ev.Value)
	case oplsong.EventEffect:
		s := ""
		if ev.PitchBend != nil {
			s += fmt.Sprintf("bend=%.2f ", *ev.PitchBend)
		}
		if ev.EffectVol != nil {
			s += fmt.Sprintf("vol=%.2f", *ev.EffectVol)
		}
		return s
	}
	return ""
}
