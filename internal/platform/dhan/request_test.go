package dhan

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

func subs(n int, seg domain.Segment, mode domain.Mode) []domain.Subscription {
	out := make([]domain.Subscription, n)
	for i := range out {
		out[i] = domain.Subscription{Instrument: domain.Instrument{ID: uint32(1000 + i), Segment: seg}, Mode: mode}
	}
	return out
}

func decodeRequests(t *testing.T, frames [][]byte) []SubscribeRequest {
	t.Helper()
	out := make([]SubscribeRequest, len(frames))
	for i, f := range frames {
		if err := json.Unmarshal(f, &out[i]); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	return out
}

func TestSubscribeRequestsChunking(t *testing.T) {
	p := NewMarketProtocol("", Credentials{ClientID: "1000000001", AccessToken: "tok"})

	all := append(subs(250, domain.SegmentNSEEquity, domain.ModeTicker), subs(3, domain.SegmentNSEFNO, domain.ModeQuote)...)
	frames, err := p.SubscribeRequests(all)
	if err != nil {
		t.Fatal(err)
	}
	reqs := decodeRequests(t, frames)

	want := []struct {
		code  int
		count int
	}{
		{RequestSubscribeTicker, 100},
		{RequestSubscribeTicker, 100},
		{RequestSubscribeTicker, 50},
		{RequestSubscribeQuote, 3},
	}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d", len(reqs), len(want))
	}
	for i, w := range want {
		if reqs[i].RequestCode != w.code || reqs[i].InstrumentCount != w.count || len(reqs[i].InstrumentList) != w.count {
			t.Errorf("request %d = code %d count %d, want code %d count %d",
				i, reqs[i].RequestCode, reqs[i].InstrumentCount, w.code, w.count)
		}
	}
	first := reqs[0].InstrumentList[0]
	if first.ExchangeSegment != "NSE_EQ" || first.SecurityID != "1000" {
		t.Errorf("first instrument = %+v", first)
	}
}

func TestDepthRequests(t *testing.T) {
	p := NewDepthProtocol("", Credentials{ClientID: "c", AccessToken: "t"})

	frames, err := p.SubscribeRequests(subs(50, domain.SegmentNSEFNO, domain.ModeDepth))
	if err != nil {
		t.Fatal(err)
	}
	reqs := decodeRequests(t, frames)
	if len(reqs) != 1 || reqs[0].RequestCode != RequestSubscribeDepth || reqs[0].InstrumentCount != 50 {
		t.Errorf("depth requests = %d, first %+v", len(reqs), reqs[0])
	}

	if _, err := p.SubscribeRequests(subs(51, domain.SegmentNSEFNO, domain.ModeDepth)); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("51 instruments: err = %v, want ErrCapacityExceeded", err)
	}
	if _, err := p.SubscribeRequests(subs(1, domain.SegmentNSEFNO, domain.ModeQuote)); err == nil {
		t.Error("quote mode on depth feed should fail")
	}

	frames, err = p.UnsubscribeRequests(subs(2, domain.SegmentNSEEquity, domain.ModeDepth))
	if err != nil {
		t.Fatal(err)
	}
	if reqs := decodeRequests(t, frames); reqs[0].RequestCode != RequestUnsubscribeDepth {
		t.Errorf("unsubscribe code = %d", reqs[0].RequestCode)
	}

	var disc SubscribeRequest
	if err := json.Unmarshal(p.DisconnectRequest(), &disc); err != nil || disc.RequestCode != RequestDisconnect {
		t.Errorf("disconnect request = %+v, %v", disc, err)
	}
}

func TestProtocolSupports(t *testing.T) {
	market := NewMarketProtocol("", Credentials{})
	depth := NewDepthProtocol("", Credentials{})

	tests := []struct {
		seg        domain.Segment
		wantMarket bool
		wantDepth  bool
	}{
		{domain.SegmentNSEEquity, true, true},
		{domain.SegmentNSEFNO, true, true},
		{domain.SegmentBSEEquity, true, false},
		{domain.SegmentMCXComm, true, false},
		{domain.SegmentIndex, true, false},
		{domain.SegmentUnrecognized, false, false},
	}
	for _, tt := range tests {
		if got := market.Supports(tt.seg); got != tt.wantMarket {
			t.Errorf("market supports %s = %v", tt.seg, got)
		}
		if got := depth.Supports(tt.seg); got != tt.wantDepth {
			t.Errorf("depth supports %s = %v", tt.seg, got)
		}
	}
}

func TestProtocolURL(t *testing.T) {
	creds := Credentials{ClientID: "1000000001", AccessToken: "abc.def"}

	tests := []struct {
		name        string
		p           *Protocol
		wantHost    string
		wantPath    string
		wantVersion string
	}{
		{"market", NewMarketProtocol("", creds), "api-feed.dhan.co", "", "2"},
		{"depth", NewDepthProtocol("", creds), "depth-api-feed.dhan.co", "/twentydepth", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.p.URL())
			if err != nil {
				t.Fatal(err)
			}
			q := u.Query()
			if u.Scheme != "wss" || u.Host != tt.wantHost || u.Path != tt.wantPath {
				t.Errorf("url = %s", u.Redacted())
			}
			if q.Get("token") != "abc.def" || q.Get("clientId") != "1000000001" || q.Get("authType") != "2" {
				t.Errorf("query = %v", q)
			}
			if q.Get("version") != tt.wantVersion {
				t.Errorf("version = %q, want %q", q.Get("version"), tt.wantVersion)
			}
		})
	}
}
