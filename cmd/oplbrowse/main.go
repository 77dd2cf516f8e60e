// oplbrowse is an interactive, terminal-driven browser over a parsed
// Music's patterns and tracks: arrow keys move the selection, space
// steps through a track's events one at a time.
package main

import (
	"fmt"
	"log"
	"os"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/retrofm/oplsong"
	"github.com/retrofm/oplsong/formats"
)

const (
	escape     = "\x1b["
	hideCursor = escape + "?25l"
	showCursor = escape + "?25h"
	clearLine  = escape + "2K"
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

// browser holds the current selection into a Music value.
type browser struct {
	music      *oplsong.Music
	patternIdx int
	trackIdx   int // -1 means the pattern's Global track
	eventIdx   int
}

func (b *browser) pattern() oplsong.Pattern {
	return b.music.Patterns[b.patternIdx]
}

func (b *browser) track() oplsong.Track {
	pat := b.pattern()
	if b.trackIdx < 0 {
		return pat.Global
	}
	return pat.Tracks[b.trackIdx]
}

func (b *browser) trackLabel() string {
	if b.trackIdx < 0 {
		return "global"
	}
	cfg := b.music.TrackConfigs[b.trackIdx]
	if cfg.Type == oplsong.ChannelOPLR {
		return fmt.Sprintf("track %d (%s %s)", b.trackIdx, cfg.Type, cfg.Rhythm)
	}
	return fmt.Sprintf("track %d (%s ch%d)", b.trackIdx, cfg.Type, cfg.Index)
}

func (b *browser) movePattern(delta int) {
	n := len(b.music.Patterns)
	b.patternIdx = ((b.patternIdx+delta)%n + n) % n
	b.eventIdx = 0
}

func (b *browser) moveTrack(delta int) {
	n := len(b.pattern().Tracks)
	next := b.trackIdx + delta
	if next < -1 {
		next = n - 1
	} else if next >= n {
		next = -1
	}
	b.trackIdx = next
	b.eventIdx = 0
}

func (b *browser) stepEvent() {
	events := b.track().Events
	if len(events) == 0 {
		return
	}
	b.eventIdx = (b.eventIdx + 1) % len(events)
}

func (b *browser) render() {
	fmt.Print(escape + "H" + escape + "J")
	fmt.Printf("pattern %d/%d  %s\n\n", b.patternIdx, len(b.music.Patterns)-1, b.trackLabel())

	events := b.track().Events
	if len(events) == 0 {
		fmt.Println("(no events)")
		return
	}
	for i, ev := range events {
		prefix := "   "
		if i == b.eventIdx {
			prefix = ">> "
		}
		fmt.Printf("%s%3d %-13s %s\n", prefix, i, ev.Kind, describe(ev))
	}
	fmt.Println()
	fmt.Println("left/right: track   up/down: pattern   space: step event   q: quit")
}

func describe(ev oplsong.Event) string {
	switch ev.Kind {
	case oplsong.EventTempo:
		return fmt.Sprintf("%.2f bpm", ev.Tempo.BPM())
	case oplsong.EventDelay:
		return fmt.Sprintf("%d ticks", ev.Ticks)
	case oplsong.EventNoteOn:
		return fmt.Sprintf("%.2f Hz, vel %.2f, instrument %d", ev.FrequencyHz, ev.Velocity, ev.InstrumentIndex)
	default:
		return ""
	}
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("oplbrowse: ")

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

	music, err := candidates[0].Handler.Parse(formats.Content{Main: data})
	if err != nil {
		log.Fatal(err)
	}
	if len(music.Patterns) == 0 {
		log.Fatal("song has no patterns")
	}

	b := &browser{music: music, trackIdx: -1}

	fmt.Print(hideCursor)
	defer fmt.Print(showCursor)

	b.render()
	keyboard.Listen(func(key keys.Key) (stop bool, err error) {
		switch key.Code {
		case keys.CtrlC, keys.Escape:
			return true, nil
		case keys.Up:
			b.movePattern(-1)
		case keys.Down:
			b.movePattern(1)
		case keys.Left:
			b.moveTrack(-1)
		case keys.Right:
			b.moveTrack(1)
		case keys.Space:
			b.stepEvent()
		case keys.RuneKey:
			if len(key.Runes) > 0 && key.Runes[0] == 'q' {
				return true, nil
			}
		}
		b.render()
		return false, nil
	})
}
