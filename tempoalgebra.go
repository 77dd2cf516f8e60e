package oplsong

import "math"

// FixedTempo re-times a source event stream to a single fixed tick rate,
// removing every Tempo event and scaling Delay ticks so elapsed wall-clock
// time is preserved. The result never contains a Tempo event.
//
// events[0] must be the stream's initial Tempo, per the universal parse
// invariant; its us_per_tick seeds factor before any Delay is seen.
func FixedTempo(events []Event, metas []EventMeta, targetUsPerTick float64) ([]Event, []EventMeta, error) {
	if targetUsPerTick <= 0 {
		return nil, nil, newErr(ErrFormatConflict, "target us_per_tick must be positive")
	}
	if len(events) != len(metas) {
		return nil, nil, newErr(ErrFormatConflict, "events and metas length mismatch")
	}

	var factor float64
	seenTempo := false

	outEvents := make([]Event, 0, len(events))
	outMetas := make([]EventMeta, 0, len(metas))

	for i, ev := range events {
		switch ev.Kind {
		case EventTempo:
			factor = ev.Tempo.UsPerTick / targetUsPerTick
			seenTempo = true
		case EventDelay:
			if !seenTempo {
				return nil, nil, newErr(ErrFormatConflict, "delay encountered before any tempo was established")
			}
			scaled := Event{Kind: EventDelay, Ticks: uint32(math.Round(float64(ev.Ticks) * factor))}
			outEvents = append(outEvents, scaled)
			outMetas = append(outMetas, metas[i])
		default:
			outEvents = append(outEvents, ev)
			outMetas = append(outMetas, metas[i])
		}
	}

	return outEvents, outMetas, nil
}
