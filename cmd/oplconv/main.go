// oplconv converts an OPL/MIDI music file between the formats this
// module understands: DRO, IMF (type 0/1), WLF, SBI and Standard MIDI.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/retrofm/oplsong/formats"
)

var (
	flagFrom = flag.String("from", "", "input format id, e.g. dro-v1 (autodetected if omitted)")
	flagTo   = flag.String("to", "", "output format id, e.g. mid-type1 (required)")
)

// allHandlers lists every format in detection priority order: strong,
// self-describing signatures first, the header-free IMF/WLF shapes last
// since they can only ever answer Maybe.
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

func handlerByID(id string) formats.Handler {
	for _, h := range allHandlers() {
		if h.Metadata().ID == id {
			return h
		}
	}
	return nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("oplconv: ")
	flag.Parse()

	if flag.NArg() != 2 {
		log.Fatal("usage: oplconv [-from id] -to id <input> <output>")
	}
	if *flagTo == "" {
		log.Fatal("-to is required")
	}

	inPath, outPath := flag.Arg(0), flag.Arg(1)

	data, err := os.ReadFile(inPath)
	if err != nil {
		log.Fatal(err)
	}

	var in formats.Handler
	if *flagFrom != "" {
		in = handlerByID(*flagFrom)
		if in == nil {
			log.Fatalf("unknown -from format id %q", *flagFrom)
		}
	} else {
		registry := formats.NewRegistry(allHandlers()...)
		candidates := registry.Identify(data, inPath)
		if len(candidates) == 0 {
			log.Fatal("could not identify input format, pass -from explicitly")
		}
		if len(candidates) > 1 {
			log.Printf("ambiguous input format, guessing %s (also possible:", candidates[0].Handler.Metadata().ID)
			for _, c := range candidates[1:] {
				log.Printf("  %s (%s)", c.Handler.Metadata().ID, c.Result.Reason)
			}
		}
		in = candidates[0].Handler
	}

	out := handlerByID(*flagTo)
	if out == nil {
		log.Fatalf("unknown -to format id %q", *flagTo)
	}

	music, err := in.Parse(formats.Content{Main: data})
	if err != nil {
		log.Fatalf("parsing %s: %v", in.Metadata().ID, err)
	}

	for _, issue := range out.CheckLimits(music) {
		log.Printf("warning: %s", issue)
	}

	result, err := out.Generate(music)
	if err != nil {
		log.Fatalf("generating %s: %v", out.Metadata().ID, err)
	}
	for _, w := range result.Warnings {
		log.Printf("warning: %s", w)
	}

	if err := os.WriteFile(outPath, result.Content.Main, 0o644); err != nil {
		log.Fatal(err)
	}
	for name, content := range result.Content.Supplements {
		if err := os.WriteFile(name, content, 0o644); err != nil {
			log.Fatal(err)
		}
	}
}
