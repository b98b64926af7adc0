package dhan

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// The encoders produce the exact layouts the decoders read. They back the
// feed simulator used in tests and local replay.

// EncodeDepthLevel encodes one 16-byte depth record.
func EncodeDepthLevel(l domain.DepthLevel) []byte {
	b := make([]byte, 0, DepthRecordSize)
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(l.Price))
	b = binary.BigEndian.AppendUint32(b, l.Quantity)
	b = binary.BigEndian.AppendUint32(b, l.Orders)
	return b
}

// EncodeDepthFrame encodes a full depth side frame: header plus exactly 20
// records. Missing levels are written as zero records.
func EncodeDepthFrame(s domain.SideSnapshot) []byte {
	code := CodeDepthBid
	if s.Side == domain.SideAsk {
		code = CodeDepthAsk
	}
	total := DepthHeaderSize + DepthPayloadSize

	b := make([]byte, 0, total)
	b = binary.BigEndian.AppendUint16(b, uint16(total))
	b = append(b, code, byte(s.Segment))
	b = binary.BigEndian.AppendUint32(b, s.InstrumentID)
	b = binary.BigEndian.AppendUint32(b, s.Sequence)
	for i := 0; i < domain.DepthLevels; i++ {
		var l domain.DepthLevel
		if i < len(s.Levels) {
			l = s.Levels[i]
		}
		b = append(b, EncodeDepthLevel(l)...)
	}
	return b
}

// EncodeFeedHeader encodes the 8-byte ticker/quote header for a payload of
// payloadLen bytes.
func EncodeFeedHeader(code byte, seg domain.Segment, id uint32, payloadLen int) []byte {
	b := make([]byte, 0, FeedHeaderSize+payloadLen)
	b = append(b, code)
	b = binary.BigEndian.AppendUint16(b, uint16(FeedHeaderSize+payloadLen))
	b = append(b, byte(seg))
	b = binary.BigEndian.AppendUint32(b, id)
	return b
}

// EncodeTicker encodes a ticker packet.
func EncodeTicker(m domain.TickerMessage) []byte {
	b := EncodeFeedHeader(CodeTicker, m.Segment, m.InstrumentID, TickerPayloadSize)
	b = appendF32(b, m.LastPrice)
	b = appendEpoch(b, m.LastTradeTime)
	return b
}

// EncodeQuote encodes a quote packet.
func EncodeQuote(m domain.QuoteMessage) []byte {
	b := EncodeFeedHeader(CodeQuote, m.Segment, m.InstrumentID, QuotePayloadSize)
	b = appendQuotePrefix(b, m)
	b = appendF32(b, m.Open)
	b = appendF32(b, m.Close)
	b = appendF32(b, m.High)
	b = appendF32(b, m.Low)
	return b
}

// EncodeFull encodes a full packet with up to five market-by-price rows.
func EncodeFull(m domain.FullMessage) []byte {
	b := EncodeFeedHeader(CodeFull, m.Segment, m.InstrumentID, FullPayloadSize)
	b = appendQuotePrefix(b, m.QuoteMessage)
	b = binary.BigEndian.AppendUint32(b, m.OpenInterest)
	b = binary.BigEndian.AppendUint32(b, m.HighestOI)
	b = binary.BigEndian.AppendUint32(b, m.LowestOI)
	b = appendF32(b, m.Open)
	b = appendF32(b, m.Close)
	b = appendF32(b, m.High)
	b = appendF32(b, m.Low)
	for i := 0; i < fullDepthRows; i++ {
		var r domain.MarketByPrice
		if i < len(m.Depth) {
			r = m.Depth[i]
		}
		b = binary.BigEndian.AppendUint32(b, r.BidQuantity)
		b = binary.BigEndian.AppendUint32(b, r.AskQuantity)
		b = binary.BigEndian.AppendUint16(b, r.BidOrders)
		b = binary.BigEndian.AppendUint16(b, r.AskOrders)
		b = appendF32(b, r.BidPrice)
		b = appendF32(b, r.AskPrice)
	}
	return b
}

func appendQuotePrefix(b []byte, m domain.QuoteMessage) []byte {
	b = appendF32(b, m.LastPrice)
	b = binary.BigEndian.AppendUint16(b, m.LastQuantity)
	b = appendEpoch(b, m.LastTradeTime)
	b = appendF32(b, m.AverageTradePrice)
	b = binary.BigEndian.AppendUint32(b, m.Volume)
	b = binary.BigEndian.AppendUint32(b, m.TotalSellQuantity)
	b = binary.BigEndian.AppendUint32(b, m.TotalBuyQuantity)
	return b
}

func appendF32(b []byte, v float64) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

func appendEpoch(b []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(t.Unix()))
}
