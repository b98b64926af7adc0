package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is the exchange segment an instrument trades on. The numeric values
// are the segment codes carried in every binary frame header.
type Segment uint8

const (
	SegmentUnrecognized Segment = 0
	SegmentNSEEquity    Segment = 1
	SegmentNSEFNO       Segment = 2
	SegmentNSECurrency  Segment = 3
	SegmentBSEEquity    Segment = 4
	SegmentBSEFNO       Segment = 5
	SegmentBSECurrency  Segment = 6
	SegmentMCXComm      Segment = 7
	SegmentIndex        Segment = 8
)

var segmentNames = [...]string{
	SegmentUnrecognized: "UNKNOWN",
	SegmentNSEEquity:    "NSE_EQ",
	SegmentNSEFNO:       "NSE_FNO",
	SegmentNSECurrency:  "NSE_CURRENCY",
	SegmentBSEEquity:    "BSE_EQ",
	SegmentBSEFNO:       "BSE_FNO",
	SegmentBSECurrency:  "BSE_CURRENCY",
	SegmentMCXComm:      "MCX_COMM",
	SegmentIndex:        "IDX_I",
}

// SegmentFromCode maps a wire segment code to a Segment. Codes outside the
// table map to SegmentUnrecognized.
func SegmentFromCode(code byte) Segment {
	if int(code) < len(segmentNames) {
		return Segment(code)
	}
	return SegmentUnrecognized
}

// Known reports whether s is one of the mapped exchange segments.
func (s Segment) Known() bool {
	return s != SegmentUnrecognized && int(s) < len(segmentNames)
}

func (s Segment) String() string {
	if int(s) < len(segmentNames) {
		return segmentNames[s]
	}
	return segmentNames[SegmentUnrecognized]
}

// ParseSegment accepts either the segment name ("NSE_EQ") or its numeric
// wire code ("1").
func ParseSegment(v string) (Segment, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, name := range segmentNames {
		if i == int(SegmentUnrecognized) {
			continue
		}
		if name == v {
			return Segment(i), nil
		}
	}
	// Accept the short currency aliases used by some exchange references.
	switch v {
	case "NSE_CURR":
		return SegmentNSECurrency, nil
	case "BSE_CURR":
		return SegmentBSECurrency, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(segmentNames) {
		return Segment(n), nil
	}
	return SegmentUnrecognized, fmt.Errorf("unknown segment %q: %w", v, ErrUnsupportedSegment)
}

// MarshalText encodes the segment by name.
func (s Segment) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a segment name or code.
func (s *Segment) UnmarshalText(text []byte) error {
	seg, err := ParseSegment(string(text))
	if err != nil {
		return err
	}
	*s = seg
	return nil
}

// InstrumentKey identifies an instrument on a segment. It is comparable and
// used as the map key for subscriptions, buffers and caches.
type InstrumentKey struct {
	Segment Segment
	ID      uint32
}

// Key builds an InstrumentKey.
func Key(seg Segment, id uint32) InstrumentKey {
	return InstrumentKey{Segment: seg, ID: id}
}

func (k InstrumentKey) String() string {
	return k.Segment.String() + ":" + strconv.FormatUint(uint64(k.ID), 10)
}
