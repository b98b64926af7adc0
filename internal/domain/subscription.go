package domain

import (
	"fmt"
	"strings"
)

// Mode is the feed mode an instrument is subscribed in.
type Mode uint8

const (
	ModeTicker Mode = iota + 1
	ModeQuote
	ModeFull
	ModeDepth
)

func (m Mode) String() string {
	switch m {
	case ModeTicker:
		return "ticker"
	case ModeQuote:
		return "quote"
	case ModeFull:
		return "full"
	case ModeDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as used in configuration files.
func ParseMode(v string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ticker", "":
		return ModeTicker, nil
	case "quote":
		return ModeQuote, nil
	case "full":
		return ModeFull, nil
	case "depth", "depth20":
		return ModeDepth, nil
	default:
		return 0, fmt.Errorf("unknown feed mode %q", v)
	}
}

// Instrument is an exchange instrument identified by segment and security id.
type Instrument struct {
	ID      uint32  `json:"security_id"`
	Segment Segment `json:"segment"`
}

// Key returns the instrument key.
func (i Instrument) Key() InstrumentKey {
	return Key(i.Segment, i.ID)
}

// Subscription is an instrument recorded against a feed in a given mode.
type Subscription struct {
	Instrument
	Mode Mode `json:"mode"`
}
