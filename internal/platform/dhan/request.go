package dhan

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// SubscribeRequest is the JSON message sent to (un)subscribe instruments.
type SubscribeRequest struct {
	RequestCode     int              `json:"RequestCode"`
	InstrumentCount int              `json:"InstrumentCount,omitempty"`
	InstrumentList  []InstrumentSpec `json:"InstrumentList,omitempty"`
}

// InstrumentSpec is one entry of a subscription request.
type InstrumentSpec struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// FeedKind selects which of the two feeds a Protocol speaks.
type FeedKind uint8

const (
	// FeedMarket is the ticker/quote/full feed.
	FeedMarket FeedKind = iota + 1
	// FeedDepth is the 20-level depth feed.
	FeedDepth
)

func (k FeedKind) String() string {
	if k == FeedDepth {
		return "depth"
	}
	return "market"
}

// Credentials are the opaque access token and client id handed over by the
// REST layer.
type Credentials struct {
	ClientID    string
	AccessToken string
}

// Protocol binds the wire format of one feed: its URL, decoder, supported
// segments and request builders.
type Protocol struct {
	kind    FeedKind
	baseURL string
	creds   Credentials
}

// NewMarketProtocol returns the protocol for the ticker/quote feed.
func NewMarketProtocol(baseURL string, creds Credentials) *Protocol {
	if baseURL == "" {
		baseURL = DefaultFeedURL
	}
	return &Protocol{kind: FeedMarket, baseURL: baseURL, creds: creds}
}

// NewDepthProtocol returns the protocol for the 20-level depth feed.
func NewDepthProtocol(baseURL string, creds Credentials) *Protocol {
	if baseURL == "" {
		baseURL = DefaultDepthURL
	}
	return &Protocol{kind: FeedDepth, baseURL: baseURL, creds: creds}
}

// Name returns the feed name used in logs and metrics.
func (p *Protocol) Name() string { return p.kind.String() }

// Kind returns which feed the protocol speaks.
func (p *Protocol) Kind() FeedKind { return p.kind }

// URL returns the authenticated WebSocket URL.
func (p *Protocol) URL() string {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return p.baseURL
	}
	q := u.Query()
	if p.kind == FeedMarket {
		q.Set("version", "2")
	}
	q.Set("token", p.creds.AccessToken)
	q.Set("clientId", p.creds.ClientID)
	q.Set("authType", "2")
	u.RawQuery = q.Encode()
	return u.String()
}

// Decode decodes one binary frame of this feed.
func (p *Protocol) Decode(frame []byte, receivedAt time.Time) (domain.Message, error) {
	if p.kind == FeedDepth {
		return DecodeDepthFrame(frame, receivedAt)
	}
	return DecodeFeedFrame(frame, receivedAt)
}

// Supports reports whether instruments on seg may be subscribed on this feed.
func (p *Protocol) Supports(seg domain.Segment) bool {
	if !seg.Known() {
		return false
	}
	if p.kind == FeedMarket {
		return true
	}
	for _, s := range DepthSegments {
		if s == seg {
			return true
		}
	}
	return false
}

// SupportsMode reports whether the feed serves the given mode.
func (p *Protocol) SupportsMode(m domain.Mode) bool {
	if p.kind == FeedDepth {
		return m == domain.ModeDepth
	}
	return m == domain.ModeTicker || m == domain.ModeQuote || m == domain.ModeFull
}

// SubscribeRequests builds the encoded subscription messages for subs,
// grouped by mode and chunked to the feed's request limit.
func (p *Protocol) SubscribeRequests(subs []domain.Subscription) ([][]byte, error) {
	return p.build(subs, true)
}

// UnsubscribeRequests builds the encoded unsubscription messages for subs.
func (p *Protocol) UnsubscribeRequests(subs []domain.Subscription) ([][]byte, error) {
	return p.build(subs, false)
}

// DisconnectRequest is sent before a client-initiated close.
func (p *Protocol) DisconnectRequest() []byte {
	data, _ := json.Marshal(SubscribeRequest{RequestCode: RequestDisconnect})
	return data
}

func (p *Protocol) build(subs []domain.Subscription, subscribe bool) ([][]byte, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	byMode := make(map[domain.Mode][]domain.Subscription)
	for _, s := range subs {
		if !p.SupportsMode(s.Mode) {
			return nil, fmt.Errorf("dhan: %s feed does not serve mode %s", p.kind, s.Mode)
		}
		byMode[s.Mode] = append(byMode[s.Mode], s)
	}

	modes := make([]domain.Mode, 0, len(byMode))
	for m := range byMode {
		modes = append(modes, m)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	chunk := FeedChunkSize
	if p.kind == FeedDepth {
		chunk = MaxDepthInstruments
		if len(subs) > MaxDepthInstruments {
			return nil, fmt.Errorf("dhan: %d depth instruments exceeds %d: %w",
				len(subs), MaxDepthInstruments, domain.ErrCapacityExceeded)
		}
	}

	var out [][]byte
	for _, m := range modes {
		code := requestCode(m, subscribe)
		group := byMode[m]
		for start := 0; start < len(group); start += chunk {
			end := min(start+chunk, len(group))
			req := SubscribeRequest{
				RequestCode:     code,
				InstrumentCount: end - start,
				InstrumentList:  make([]InstrumentSpec, 0, end-start),
			}
			for _, s := range group[start:end] {
				req.InstrumentList = append(req.InstrumentList, InstrumentSpec{
					ExchangeSegment: s.Segment.String(),
					SecurityID:      strconv.FormatUint(uint64(s.ID), 10),
				})
			}
			data, err := json.Marshal(req)
			if err != nil {
				return nil, fmt.Errorf("dhan: marshal request: %w", err)
			}
			out = append(out, data)
		}
	}
	return out, nil
}

func requestCode(m domain.Mode, subscribe bool) int {
	switch m {
	case domain.ModeQuote:
		if subscribe {
			return RequestSubscribeQuote
		}
		return RequestUnsubQuote
	case domain.ModeFull:
		if subscribe {
			return RequestSubscribeFull
		}
		return RequestUnsubFull
	case domain.ModeDepth:
		if subscribe {
			return RequestSubscribeDepth
		}
		return RequestUnsubscribeDepth
	default:
		if subscribe {
			return RequestSubscribeTicker
		}
		return RequestUnsubTicker
	}
}
