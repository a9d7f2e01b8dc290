package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 message type (e.g. "ADT^A01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12 (e.g. "2.5.1")
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds a raw field value with its components and repetitions.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// segmentLines normalizes \r\n, \n and \r separators and drops blank lines.
func segmentLines(raw []byte) []string {
	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Parse parses a single HL7v2 message. Segments may be separated by \r, \n
// or \r\n.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}
	lines := segmentLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	return parseLines(lines)
}

// ParseBatch parses a payload holding one or more messages. Every MSH segment
// starts a new message. Batch envelope segments (FHS, BHS, BTS, FTS) are
// skipped.
func ParseBatch(raw []byte) ([]*Message, error) {
	lines := segmentLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}

	var (
		msgs    []*Message
		current []string
	)
	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		msg, err := parseLines(current)
		if err != nil {
			return fmt.Errorf("message %d: %w", len(msgs)+1, err)
		}
		msgs = append(msgs, msg)
		current = nil
		return nil
	}

	for _, line := range lines {
		switch segmentName(line) {
		case "FHS", "BHS", "BTS", "FTS":
			continue
		case "MSH":
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("hl7v2: no messages found")
	}
	return msgs, nil
}

func segmentName(line string) string {
	if len(line) < 3 {
		return line
	}
	return line[:3]
}

func parseLines(lines []string) (*Message, error) {
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", segmentName(lines[0]))
	}

	msg := &Message{Segments: make([]Segment, 0, len(lines))}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}
	msg.extractHeader()
	return msg, nil
}

// parseSegment splits a segment line into fields. For MSH the field
// separator itself is stored as MSH-1, so Fields[i] is always field i+1.
func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	if !strings.HasPrefix(line, "MSH") {
		parts := strings.Split(line, "|")
		seg := Segment{Name: parts[0]}
		for _, p := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(p))
		}
		return seg, nil
	}

	seg := Segment{Name: "MSH"}
	if len(line) < 4 {
		return seg, nil
	}
	sep := string(line[3])
	seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
	for _, p := range strings.Split(line[4:], sep) {
		seg.Fields = append(seg.Fields, parseField(p))
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

func (m *Message) extractHeader() {
	msh := m.GetSegment("MSH")
	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetComponent(4, 1)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	if t, err := ParseTimestamp(msh.GetField(7)); err == nil {
		m.Timestamp = t
	}
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)
}

// ParseTimestamp parses an HL7v2 DTM value (YYYYMMDD[HHMM[SS[.S+]]][+/-ZZZZ]).
// Values without an offset are returned in UTC. Fractional seconds are kept
// when the value carries seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	var zone, frac string
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		s, zone = s[:i], s[i:]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s, frac = s[:i], s[i:]
	}

	var layout string
	switch {
	case len(s) >= 14:
		s, layout = s[:14], "20060102150405"
		if len(frac) > 1 {
			// time.Parse accepts a fraction directly after the seconds field.
			s += frac
		}
	case len(s) >= 12:
		s, layout = s[:12], "200601021504"
	case len(s) >= 8:
		s, layout = s[:8], "20060102"
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}

	if zone == "" {
		return time.Parse(layout, s)
	}
	return time.Parse(layout+"-0700", s+zone)
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// Trigger returns the trigger event of MSH-9 (e.g. "A01" for "ADT^A01").
func (m *Message) Trigger() string {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return ""
	}
	return msh.GetComponent(9, 2)
}

// GetField returns field index (1-based). A nil segment yields "".
func (s *Segment) GetField(index int) string {
	if s == nil || index < 1 || index > len(s.Fields) {
		return ""
	}
	return s.Fields[index-1].Value
}

// GetComponent returns component compIdx of field fieldIdx, both 1-based.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	if s == nil || fieldIdx < 1 || fieldIdx > len(s.Fields) {
		return ""
	}
	comps := s.Fields[fieldIdx-1].Components
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	return comps[compIdx-1]
}
