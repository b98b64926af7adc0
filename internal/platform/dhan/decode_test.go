package dhan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

var received = time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

func TestDepthLevelRoundTrip(t *testing.T) {
	records := [][]byte{
		make([]byte, DepthRecordSize),
		record(1523.45, 250, 7),
		record(0.05, math.MaxUint32, math.MaxUint32),
		record(-1, 1, 0),
	}
	for _, rec := range records {
		got := EncodeDepthLevel(DecodeDepthLevel(rec))
		if !bytes.Equal(got, rec) {
			t.Errorf("round trip of %x produced %x", rec, got)
		}
	}
}

func record(price float64, qty, orders uint32) []byte {
	b := binary.BigEndian.AppendUint64(nil, math.Float64bits(price))
	b = binary.BigEndian.AppendUint32(b, qty)
	return binary.BigEndian.AppendUint32(b, orders)
}

func TestDecodeDepthFrameOrdersLevels(t *testing.T) {
	levels := []domain.DepthLevel{
		{Price: 101, Quantity: 5, Orders: 1},
		{Price: 103, Quantity: 7, Orders: 2},
		{Price: 102, Quantity: 9, Orders: 3},
	}
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		frame := EncodeDepthFrame(domain.SideSnapshot{
			Side:         side,
			InstrumentID: 1333,
			Segment:      domain.SegmentNSEFNO,
			Sequence:     42,
			Levels:       levels,
		})
		if len(frame) != DepthHeaderSize+DepthPayloadSize {
			t.Fatalf("frame length = %d", len(frame))
		}

		msg, err := DecodeDepthFrame(frame, received)
		if err != nil {
			t.Fatalf("%s: %v", side, err)
		}
		m, ok := msg.(domain.DepthSideMessage)
		if !ok {
			t.Fatalf("%s: got %T", side, msg)
		}
		if m.Side != side || m.InstrumentID != 1333 || m.Segment != domain.SegmentNSEFNO || m.Sequence != 42 {
			t.Errorf("%s: header fields = %+v", side, m.SideSnapshot)
		}
		if len(m.Levels) != domain.DepthLevels {
			t.Fatalf("%s: %d levels, want %d", side, len(m.Levels), domain.DepthLevels)
		}

		want := []float64{103, 102, 101}
		if side == domain.SideAsk {
			want = []float64{101, 102, 103}
		}
		for i, p := range want {
			if m.Levels[i].Price != p {
				t.Errorf("%s level %d price = %v, want %v", side, i, m.Levels[i].Price, p)
			}
		}
		for i := len(want); i < domain.DepthLevels; i++ {
			if !m.Levels[i].Empty() {
				t.Errorf("%s level %d = %+v, want empty padding", side, i, m.Levels[i])
			}
		}
		if !m.CapturedAt.Equal(received) {
			t.Errorf("captured at %v, want %v", m.CapturedAt, received)
		}
	}
}

func TestDecodeFeedFrames(t *testing.T) {
	ltt := time.Date(2025, 3, 14, 9, 20, 5, 0, time.UTC)
	quote := domain.QuoteMessage{
		InstrumentID:      2885,
		Segment:           domain.SegmentNSEEquity,
		LastPrice:         2950.25,
		LastQuantity:      12,
		LastTradeTime:     ltt,
		AverageTradePrice: 2948.5,
		Volume:            1200000,
		TotalSellQuantity: 5000,
		TotalBuyQuantity:  7000,
		Open:              2930,
		Close:             2925.5,
		High:              2960,
		Low:               2921.75,
		ReceivedAt:        received,
	}

	t.Run("ticker", func(t *testing.T) {
		want := domain.TickerMessage{InstrumentID: 13, Segment: domain.SegmentIndex, LastPrice: 22150.5, LastTradeTime: ltt, ReceivedAt: received}
		msg, err := DecodeFeedFrame(EncodeTicker(want), received)
		if err != nil {
			t.Fatal(err)
		}
		if msg != want {
			t.Errorf("got %+v, want %+v", msg, want)
		}
	})

	t.Run("quote", func(t *testing.T) {
		msg, err := DecodeFeedFrame(EncodeQuote(quote), received)
		if err != nil {
			t.Fatal(err)
		}
		if msg != quote {
			t.Errorf("got %+v, want %+v", msg, quote)
		}
	})

	t.Run("full", func(t *testing.T) {
		full := domain.FullMessage{
			QuoteMessage: quote,
			OpenInterest: 900,
			HighestOI:    1200,
			LowestOI:     400,
			Depth: []domain.MarketByPrice{
				{BidQuantity: 10, AskQuantity: 20, BidOrders: 1, AskOrders: 2, BidPrice: 2950, AskPrice: 2950.5},
				{BidQuantity: 30, AskQuantity: 40, BidOrders: 3, AskOrders: 4, BidPrice: 2949.75, AskPrice: 2951},
			},
		}
		frame := EncodeFull(full)
		if len(frame) != FeedHeaderSize+FullPayloadSize {
			t.Fatalf("frame length = %d", len(frame))
		}
		msg, err := DecodeFeedFrame(frame, received)
		if err != nil {
			t.Fatal(err)
		}
		got, ok := msg.(domain.FullMessage)
		if !ok {
			t.Fatalf("got %T", msg)
		}
		if got.QuoteMessage != quote {
			t.Errorf("quote part = %+v", got.QuoteMessage)
		}
		if got.OpenInterest != 900 || got.HighestOI != 1200 || got.LowestOI != 400 {
			t.Errorf("open interest = %d/%d/%d", got.OpenInterest, got.HighestOI, got.LowestOI)
		}
		if len(got.Depth) != 5 || got.Depth[1] != full.Depth[1] || got.Depth[4] != (domain.MarketByPrice{}) {
			t.Errorf("depth = %+v", got.Depth)
		}
	})
}

func TestDecodeErrors(t *testing.T) {
	ticker := EncodeTicker(domain.TickerMessage{InstrumentID: 1, Segment: domain.SegmentNSEEquity, LastPrice: 1})
	depth := EncodeDepthFrame(domain.SideSnapshot{Side: domain.SideBid, InstrumentID: 1, Segment: domain.SegmentNSEEquity})

	unknownFeed := append([]byte(nil), ticker...)
	unknownFeed[0] = 99
	unknownDepth := append([]byte(nil), depth...)
	unknownDepth[2] = 99

	tests := []struct {
		name   string
		decode func([]byte, time.Time) (domain.Message, error)
		frame  []byte
		want   error
	}{
		{"empty feed frame", DecodeFeedFrame, nil, domain.ErrIncomplete},
		{"short feed header", DecodeFeedFrame, ticker[:5], domain.ErrIncomplete},
		{"short ticker payload", DecodeFeedFrame, ticker[:10], domain.ErrIncomplete},
		{"unknown feed code", DecodeFeedFrame, unknownFeed, domain.ErrUnknownCode},
		{"short depth header", DecodeDepthFrame, depth[:11], domain.ErrIncomplete},
		{"short depth payload", DecodeDepthFrame, depth[:DepthHeaderSize+100], domain.ErrIncomplete},
		{"unknown depth code", DecodeDepthFrame, unknownDepth, domain.ErrUnknownCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.decode(tt.frame, received)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if msg != nil {
				t.Errorf("msg = %+v, want nil", msg)
			}
		})
	}

	_, err := DecodeDepthFrame(depth[:DepthHeaderSize+100], received)
	var de *domain.DecodeError
	if !errors.As(err, &de) || de.Need != DepthPayloadSize || de.Have != 100 || de.Code != CodeDepthBid {
		t.Errorf("decode error = %+v", err)
	}
}

func TestDecodeDisconnect(t *testing.T) {
	frame := EncodeFeedHeader(CodeDisconnect, domain.SegmentNSEEquity, 0, DisconnectPayloadSize)
	frame = binary.BigEndian.AppendUint16(frame, 805)

	msg, err := DecodeFeedFrame(frame, received)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := msg.(domain.DisconnectMessage)
	if !ok || d.Reason != 805 {
		t.Errorf("got %+v, want disconnect with reason 805", msg)
	}
}
