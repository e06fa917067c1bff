// Package midi parses Standard MIDI Files and groups channel activity into
// display segments.
//
// Tick to millisecond conversion uses the tempo most recently seen while
// parsing, not a tempo map: a tempo change only affects events parsed after
// it, and is never applied back to earlier ticks. Files whose tempo changes
// mid-song therefore produce approximate timings. This is sufficient for
// activity visualization, which is the only consumer.
package midi

import (
	"encoding/binary"
	"fmt"

	"github.com/herrbasan/SoundApp-sub001/internal/errors"
)

// DefaultTempo is 120 BPM in microseconds per quarter note.
const DefaultTempo = 500000

const (
	metaEndOfTrack = 0x2F
	metaTempo      = 0x51
	maxVLQBytes    = 4
)

// Kind classifies a channel event.
type Kind uint8

// Channel event kinds, named after their status nibble.
const (
	NoteOff Kind = iota
	NoteOn
	PolyPressure
	ControlChange
	ProgramChange
	ChannelPressure
	PitchBend
)

var kindNames = [...]string{"note_off", "note_on", "poly_pressure", "control_change", "program_change", "channel_pressure", "pitch_bend"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Event is a channel voice message with its absolute position.
type Event struct {
	Track   int
	Tick    int64
	Ms      float64
	Channel int
	Kind    Kind
	Data1   int
	Data2   int
}

// File is a parsed Standard MIDI File.
type File struct {
	Format   int
	Tracks   int
	Division int // ticks per quarter note; 0 when SMPTE timing is used
	// TicksPerSecond is set for SMPTE division
	TicksPerSecond float64
	// Tempo is the last tempo seen, in microseconds per quarter note
	Tempo      float64
	TempoCount int
	Events     []Event
}

// DurationMs returns the time of the last channel event.
func (f *File) DurationMs() float64 {
	var d float64
	for i := range f.Events {
		d = max(d, f.Events[i].Ms)
	}
	return d
}

func malformed(msg string, args ...any) error {
	return errors.Newf("malformed midi: "+msg, args...).
		Component("midi").
		Category(errors.CategoryFileParsing).
		Build()
}

// Parse decodes a complete MIDI file.
func Parse(data []byte) (*File, error) {
	if len(data) < 14 || string(data[0:4]) != "MThd" {
		return nil, malformed("missing MThd header")
	}
	hdrLen := int(binary.BigEndian.Uint32(data[4:8]))
	if hdrLen < 6 || 8+hdrLen > len(data) {
		return nil, malformed("invalid header length %d", hdrLen)
	}

	f := &File{
		Format: int(binary.BigEndian.Uint16(data[8:10])),
		Tracks: int(binary.BigEndian.Uint16(data[10:12])),
		Tempo:  DefaultTempo,
	}
	div := binary.BigEndian.Uint16(data[12:14])
	if div&0x8000 != 0 {
		fps := -int(int8(div >> 8))
		tpf := int(div & 0xFF)
		if fps <= 0 || tpf == 0 {
			return nil, malformed("invalid SMPTE division 0x%04x", div)
		}
		f.TicksPerSecond = float64(fps * tpf)
	} else {
		f.Division = int(div)
		if f.Division == 0 {
			return nil, malformed("zero ticks per quarter note")
		}
	}

	p := &parser{file: f}
	off := 8 + hdrLen
	track := 0
	for track < f.Tracks {
		if off+8 > len(data) {
			return nil, malformed("expected %d tracks, found %d", f.Tracks, track)
		}
		id := string(data[off : off+4])
		size := int(binary.BigEndian.Uint32(data[off+4 : off+8]))
		start := off + 8
		if size < 0 || start+size > len(data) {
			return nil, malformed("chunk %q truncated", id)
		}
		off = start + size
		if id != "MTrk" {
			continue
		}
		if err := p.track(track, data[start:off]); err != nil {
			return nil, err
		}
		track++
	}
	return f, nil
}

type parser struct {
	file *File
}

func (p *parser) toMs(tick int64) float64 {
	f := p.file
	if f.TicksPerSecond > 0 {
		return float64(tick) * 1000 / f.TicksPerSecond
	}
	return float64(tick) * f.Tempo / float64(f.Division) / 1000
}

func (p *parser) track(index int, b []byte) error {
	var (
		pos     int
		tick    int64
		running byte
	)
	for pos < len(b) {
		delta, n, err := readVLQ(b[pos:])
		if err != nil {
			return err
		}
		pos += n
		tick += int64(delta)

		if pos >= len(b) {
			return malformed("track %d: event truncated at tick %d", index, tick)
		}

		status := b[pos]
		if status < 0x80 {
			if running == 0 {
				return malformed("track %d: data byte without running status", index)
			}
			status = running
		} else {
			pos++
		}

		switch {
		case status == 0xFF:
			running = 0
			if pos >= len(b) {
				return malformed("track %d: meta event truncated", index)
			}
			typ := b[pos]
			pos++
			length, n, err := readVLQ(b[pos:])
			if err != nil {
				return err
			}
			pos += n
			if pos+int(length) > len(b) {
				return malformed("track %d: meta 0x%02x truncated", index, typ)
			}
			payload := b[pos : pos+int(length)]
			pos += int(length)

			switch typ {
			case metaTempo:
				if len(payload) == 3 {
					us := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
					if us > 0 {
						p.file.Tempo = float64(us)
						p.file.TempoCount++
					}
				}
			case metaEndOfTrack:
				return nil
			}

		case status == 0xF0 || status == 0xF7:
			running = 0
			length, n, err := readVLQ(b[pos:])
			if err != nil {
				return err
			}
			pos += n + int(length)
			if pos > len(b) {
				return malformed("track %d: sysex truncated", index)
			}

		case status >= 0xF0:
			return malformed("track %d: unexpected status 0x%02x", index, status)

		default:
			running = status
			kind := Kind((status >> 4) - 8)
			need := 2
			if kind == ProgramChange || kind == ChannelPressure {
				need = 1
			}
			if pos+need > len(b) {
				return malformed("track %d: channel message truncated", index)
			}
			ev := Event{
				Track:   index,
				Tick:    tick,
				Ms:      p.toMs(tick),
				Channel: int(status & 0x0F),
				Kind:    kind,
				Data1:   int(b[pos]),
			}
			if need == 2 {
				ev.Data2 = int(b[pos+1])
			}
			pos += need
			if ev.Kind == NoteOn && ev.Data2 == 0 {
				ev.Kind = NoteOff
			}
			p.file.Events = append(p.file.Events, ev)
		}
	}
	return nil
}

// readVLQ reads a variable-length quantity of at most four bytes.
func readVLQ(b []byte) (value uint32, n int, err error) {
	for n < len(b) && n < maxVLQBytes {
		c := b[n]
		n++
		value = value<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			return value, n, nil
		}
	}
	if n == maxVLQBytes {
		return 0, n, malformed("variable-length quantity longer than %d bytes", maxVLQBytes)
	}
	return 0, n, malformed("variable-length quantity truncated")
}
