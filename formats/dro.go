package formats

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"

	"github.com/retrofm/oplsong"
)

const droSignature = "DBRAWOPL"
const droUsPerTick = 1000.0 // DOSBox captures raw OPL logs at 1000Hz

// droHandler implements DOSBox's DRO v1 capture format: an 8-byte
// signature, a short header carrying duration/size/hardware flags, and
// an opcode stream distinguishing delays and bank switches from plain
// register writes.
type droHandler struct{}

// NewDRO returns the DRO v1 handler.
func NewDRO() Handler {
	return &droHandler{}
}

func (h *droHandler) Metadata() Metadata {
	return Metadata{
		ID: "dro-v1", Title: "DRO v1 (DOSBox Raw OPL)",
		Glob: []string{"*.dro"},
		Caps: Capabilities{
			ChannelMap:      defaultChannelMap(),
			Tags:            []string{"title", "artist", "comment", "app"},
			SupportedEvents: []oplsong.EventKind{oplsong.EventNoteOn, oplsong.EventNoteOff, oplsong.EventConfiguration, oplsong.EventDelay},
		},
	}
}

func (h *droHandler) Identify(data []byte, filename string) IdentifyResult {
	if len(data) < 20 {
		return IdentifyResult{No, "too short for a DRO v1 header"}
	}
	if string(data[:8]) != droSignature {
		return IdentifyResult{No, "missing DBRAWOPL signature"}
	}
	if binary.LittleEndian.Uint16(data[8:10]) != 0 || binary.LittleEndian.Uint16(data[10:12]) != 1 {
		return IdentifyResult{No, "unsupported DRO version"}
	}
	return IdentifyResult{Yes, "DBRAWOPL v1 signature matched"}
}

// readFlagHW reads the hardware-type field. Newer DRO files encode it as
// a u32le; some early files instead wrote a single byte there (the three
// bytes that would hold its upper bits are actually the start of the
// opcode stream). If the naive u32 read has any of its upper three bytes
// set, that is implausible for a hardware-type value (0, 1 or 2), so
// rewind and treat it as the legacy u8 field.
func readFlagHW(r *bytes.Reader) (byte, error) {
	var buf [4]byte
	if _, err := r.Read(buf[:]); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf[:])
	if v>>8 != 0 {
		if _, err := r.Seek(-3, io.SeekCurrent); err != nil {
			return 0, err
		}
		return buf[0], nil
	}
	return byte(v), nil
}

func (h *droHandler) Parse(content Content) (*oplsong.Music, error) {
	data := content.Main
	if len(data) < 20 {
		return nil, oplsong.NewError(oplsong.ErrTruncatedInput, "dro header truncated")
	}
	r := bytes.NewReader(data[8:])

	var ver [4]byte
	if _, err := r.Read(ver[:]); err != nil {
		return nil, oplsong.WrapError(oplsong.ErrTruncatedInput, "dro version fields", err)
	}
	var lenMs, lenBytes [4]byte
	if _, err := r.Read(lenMs[:]); err != nil {
		return nil, oplsong.WrapError(oplsong.ErrTruncatedInput, "dro len_ms", err)
	}
	if _, err := r.Read(lenBytes[:]); err != nil {
		return nil, oplsong.WrapError(oplsong.ErrTruncatedInput, "dro len_bytes", err)
	}
	if _, err := readFlagHW(r); err != nil {
		return nil, oplsong.WrapError(oplsong.ErrTruncatedInput, "dro flagHW", err)
	}

	bodyStart := len(data) - r.Len()
	body := data[bodyStart:]

	tempo := oplsong.DefaultTempo()
	tempo.SetUsPerQuarterNote(droUsPerTick * float64(tempo.TicksPerQuarterNote))
	tempo.UsPerTick = droUsPerTick

	items, tagStart, err := decodeDROBody(body)
	if err != nil {
		return nil, err
	}

	events, metas, patches, err := oplsong.ParseOPL(items, tempo)
	if err != nil {
		return nil, err
	}
	pat, err := oplsong.AssignTracks(events, metas, defaultChannelMap())
	if err != nil {
		return nil, err
	}

	music := &oplsong.Music{
		InitialTempo:    tempo,
		Patches:         patches,
		TrackConfigs:    defaultChannelMap(),
		Patterns:        []oplsong.Pattern{pat},
		PatternSequence: []int{0},
	}

	if tagStart >= 0 {
		if tags, ok, err := ReadTagBlock(body[tagStart:]); err != nil {
			log.Printf("formats: dro tag block decode failed, continuing without tags: %v", err)
		} else if ok {
			music.Tags = tagsToMap(tags)
		}
	}

	return music, music.Validate()
}

func decodeDROBody(body []byte) ([]oplsong.OplInput, int, error) {
	var items []oplsong.OplInput
	bank := 0
	i := 0
	for i < len(body) {
		op := body[i]
		i++
		switch op {
		case 0x00:
			if i >= len(body) {
				return nil, -1, oplsong.NewError(oplsong.ErrTruncatedInput, "dro short delay truncated")
			}
			items = append(items, oplsong.DelayItem(uint32(body[i])+1))
			i++
		case 0x01:
			if i+2 > len(body) {
				return nil, -1, oplsong.NewError(oplsong.ErrTruncatedInput, "dro long delay truncated")
			}
			d := binary.LittleEndian.Uint16(body[i : i+2])
			items = append(items, oplsong.DelayItem(uint32(d)+1))
			i += 2
		case 0x02:
			bank = 0
		case 0x03:
			bank = 1
		case 0x04:
			if i+2 > len(body) {
				return nil, -1, oplsong.NewError(oplsong.ErrTruncatedInput, "dro escaped register write truncated")
			}
			reg, val := body[i], body[i+1]
			items = append(items, oplsong.RegWrite(uint16(bank)<<8|uint16(reg), val))
			i += 2
		case 0x1A:
			return items, i - 1, nil
		default:
			if i >= len(body) {
				return nil, -1, oplsong.NewError(oplsong.ErrTruncatedInput, "dro register write truncated")
			}
			val := body[i]
			items = append(items, oplsong.RegWrite(uint16(bank)<<8|uint16(op), val))
			i++
		}
	}
	return items, -1, nil
}

func (h *droHandler) Generate(music *oplsong.Music) (GenerateResult, error) {
	if len(music.Patterns) == 0 {
		return GenerateResult{}, oplsong.NewError(oplsong.ErrMissingInstrument, "music has no patterns to flatten")
	}
	events, metas, err := music.FlattenPattern(0)
	if err != nil {
		return GenerateResult{}, err
	}
	events, metas, err = oplsong.FixedTempo(events, metas, droUsPerTick)
	if err != nil {
		return GenerateResult{}, err
	}

	warn := &oplsong.WarningCollector{}
	items, err := oplsong.GenerateOPL(events, metas, music.TrackConfigs, warn)
	if err != nil {
		return GenerateResult{}, err
	}

	var body bytes.Buffer
	bank := 0
	var totalMs uint32
	for _, it := range items {
		switch it.Kind {
		case oplsong.OplInputReg:
			targetBank := int(it.Reg >> 8)
			if targetBank != bank {
				if targetBank == 0 {
					body.WriteByte(0x02)
				} else {
					body.WriteByte(0x03)
				}
				bank = targetBank
			}
			reg := byte(it.Reg & 0xFF)
			if reg <= 0x04 {
				body.WriteByte(0x04)
			}
			body.WriteByte(reg)
			body.WriteByte(it.Val)
		case oplsong.OplInputDelay:
			remaining := it.Delay
			for remaining > 0 {
				if remaining <= 256 {
					body.WriteByte(0x00)
					body.WriteByte(byte(remaining - 1))
					totalMs += remaining
					remaining = 0
				} else {
					chunk := remaining
					if chunk > 0x10000 {
						chunk = 0x10000
					}
					body.WriteByte(0x01)
					var d [2]byte
					binary.LittleEndian.PutUint16(d[:], uint16(chunk-1))
					body.Write(d[:])
					totalMs += chunk
					remaining -= chunk
				}
			}
		case oplsong.OplInputTempo:
			warn.Add("dropped mid-stream tempo change: DRO has no fixed-tempo escape")
		}
	}

	var header bytes.Buffer
	header.WriteString(droSignature)
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], 0)
	header.Write(u16[:])
	binary.LittleEndian.PutUint16(u16[:], 1)
	header.Write(u16[:])
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], totalMs)
	header.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], uint32(body.Len()))
	header.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], 1) // flagHW: OPL3
	header.Write(u32[:])

	main := append(header.Bytes(), body.Bytes()...)
	if music.Tags != nil {
		var buf bytes.Buffer
		buf.Write(main)
		if err := WriteTagBlock(&buf, tagsFromMap(music.Tags)); err != nil {
			return GenerateResult{}, err
		}
		main = buf.Bytes()
	}

	return GenerateResult{Content: Content{Main: main}, Warnings: warn.Warnings()}, nil
}

func (h *droHandler) CheckLimits(music *oplsong.Music) []string {
	var issues []string
	if len(music.Patches) == 0 {
		issues = append(issues, "no patches defined")
	}
	return issues
}
