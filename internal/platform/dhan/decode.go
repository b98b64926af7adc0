package dhan

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// FeedHeader is the 8-byte header shared by ticker, quote and full packets.
type FeedHeader struct {
	Code         byte
	Length       uint16
	Segment      domain.Segment
	InstrumentID uint32
}

// DepthHeader is the 12-byte header of 20-level depth packets.
type DepthHeader struct {
	Length       uint16
	Code         byte
	Segment      domain.Segment
	InstrumentID uint32
	Sequence     uint32
}

// ParseFeedHeader reads the ticker/quote feed header.
func ParseFeedHeader(buf []byte) (FeedHeader, error) {
	if len(buf) < FeedHeaderSize {
		return FeedHeader{}, incomplete(0, FeedHeaderSize, len(buf))
	}
	return FeedHeader{
		Code:         buf[0],
		Length:       binary.BigEndian.Uint16(buf[1:3]),
		Segment:      domain.SegmentFromCode(buf[3]),
		InstrumentID: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// ParseDepthHeader reads the depth feed header.
func ParseDepthHeader(buf []byte) (DepthHeader, error) {
	if len(buf) < DepthHeaderSize {
		return DepthHeader{}, incomplete(0, DepthHeaderSize, len(buf))
	}
	return DepthHeader{
		Length:       binary.BigEndian.Uint16(buf[0:2]),
		Code:         buf[2],
		Segment:      domain.SegmentFromCode(buf[3]),
		InstrumentID: binary.BigEndian.Uint32(buf[4:8]),
		Sequence:     binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// DecodeFeedFrame decodes one ticker/quote feed frame. A payload shorter than
// its code requires yields a *domain.DecodeError wrapping domain.ErrIncomplete;
// an unmapped code yields domain.ErrUnknownCode. Neither is fatal to the
// stream.
func DecodeFeedFrame(buf []byte, receivedAt time.Time) (domain.Message, error) {
	h, err := ParseFeedHeader(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[FeedHeaderSize:]

	switch h.Code {
	case CodeTicker:
		if len(payload) < TickerPayloadSize {
			return nil, incomplete(h.Code, TickerPayloadSize, len(payload))
		}
		return domain.TickerMessage{
			InstrumentID:  h.InstrumentID,
			Segment:       h.Segment,
			LastPrice:     f32(payload[0:4]),
			LastTradeTime: epoch(payload[4:8]),
			ReceivedAt:    receivedAt,
		}, nil

	case CodeQuote:
		if len(payload) < QuotePayloadSize {
			return nil, incomplete(h.Code, QuotePayloadSize, len(payload))
		}
		return decodeQuote(h, payload, receivedAt), nil

	case CodeFull:
		if len(payload) < FullPayloadSize {
			return nil, incomplete(h.Code, FullPayloadSize, len(payload))
		}
		return decodeFull(h, payload, receivedAt), nil

	case CodeOI:
		if len(payload) < OIPayloadSize {
			return nil, incomplete(h.Code, OIPayloadSize, len(payload))
		}
		return domain.OIMessage{
			InstrumentID: h.InstrumentID,
			Segment:      h.Segment,
			OpenInterest: binary.BigEndian.Uint32(payload[0:4]),
			ReceivedAt:   receivedAt,
		}, nil

	case CodePrevClose:
		if len(payload) < PrevClosePayloadSize {
			return nil, incomplete(h.Code, PrevClosePayloadSize, len(payload))
		}
		return domain.PrevCloseMessage{
			InstrumentID: h.InstrumentID,
			Segment:      h.Segment,
			PrevClose:    f32(payload[0:4]),
			PrevOI:       binary.BigEndian.Uint32(payload[4:8]),
			ReceivedAt:   receivedAt,
		}, nil

	case CodeDisconnect:
		return decodeDisconnect(h.Code, h.Segment, h.InstrumentID, payload, receivedAt)

	default:
		return nil, domain.ErrUnknownCode
	}
}

// DecodeDepthFrame decodes one 20-level depth frame into a side snapshot or
// a server disconnect notice.
func DecodeDepthFrame(buf []byte, receivedAt time.Time) (domain.Message, error) {
	h, err := ParseDepthHeader(buf)
	if err != nil {
		return nil, err
	}
	payload := buf[DepthHeaderSize:]

	var side domain.Side
	switch h.Code {
	case CodeDepthBid:
		side = domain.SideBid
	case CodeDepthAsk:
		side = domain.SideAsk
	case CodeDepthDisconnect:
		return decodeDisconnect(h.Code, h.Segment, h.InstrumentID, payload, receivedAt)
	default:
		return nil, domain.ErrUnknownCode
	}

	if len(payload) < DepthPayloadSize {
		return nil, incomplete(h.Code, DepthPayloadSize, len(payload))
	}

	levels := make([]domain.DepthLevel, domain.DepthLevels)
	for i := range levels {
		off := i * DepthRecordSize
		levels[i] = DecodeDepthLevel(payload[off : off+DepthRecordSize])
	}

	return domain.DepthSideMessage{SideSnapshot: domain.SideSnapshot{
		Side:         side,
		InstrumentID: h.InstrumentID,
		Segment:      h.Segment,
		Sequence:     h.Sequence,
		Levels:       domain.NormalizeLevels(side, levels),
		CapturedAt:   receivedAt,
	}}, nil
}

// DecodeDepthLevel decodes one 16-byte depth record. rec must hold at least
// DepthRecordSize bytes.
func DecodeDepthLevel(rec []byte) domain.DepthLevel {
	return domain.DepthLevel{
		Price:    math.Float64frombits(binary.BigEndian.Uint64(rec[0:8])),
		Quantity: binary.BigEndian.Uint32(rec[8:12]),
		Orders:   binary.BigEndian.Uint32(rec[12:16]),
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func decodeQuote(h FeedHeader, p []byte, receivedAt time.Time) domain.QuoteMessage {
	return domain.QuoteMessage{
		InstrumentID:      h.InstrumentID,
		Segment:           h.Segment,
		LastPrice:         f32(p[0:4]),
		LastQuantity:      binary.BigEndian.Uint16(p[4:6]),
		LastTradeTime:     epoch(p[6:10]),
		AverageTradePrice: f32(p[10:14]),
		Volume:            binary.BigEndian.Uint32(p[14:18]),
		TotalSellQuantity: binary.BigEndian.Uint32(p[18:22]),
		TotalBuyQuantity:  binary.BigEndian.Uint32(p[22:26]),
		Open:              f32(p[26:30]),
		Close:             f32(p[30:34]),
		High:              f32(p[34:38]),
		Low:               f32(p[38:42]),
		ReceivedAt:        receivedAt,
	}
}

// decodeFull reads a full packet. It shares the quote prefix up to byte 26,
// then carries open interest before the OHLC block.
func decodeFull(h FeedHeader, p []byte, receivedAt time.Time) domain.FullMessage {
	q := domain.QuoteMessage{
		InstrumentID:      h.InstrumentID,
		Segment:           h.Segment,
		LastPrice:         f32(p[0:4]),
		LastQuantity:      binary.BigEndian.Uint16(p[4:6]),
		LastTradeTime:     epoch(p[6:10]),
		AverageTradePrice: f32(p[10:14]),
		Volume:            binary.BigEndian.Uint32(p[14:18]),
		TotalSellQuantity: binary.BigEndian.Uint32(p[18:22]),
		TotalBuyQuantity:  binary.BigEndian.Uint32(p[22:26]),
		Open:              f32(p[38:42]),
		Close:             f32(p[42:46]),
		High:              f32(p[46:50]),
		Low:               f32(p[50:54]),
		ReceivedAt:        receivedAt,
	}

	depth := make([]domain.MarketByPrice, fullDepthRows)
	for i := range depth {
		r := p[fullDepthOffset+i*fullDepthRowSize:]
		depth[i] = domain.MarketByPrice{
			BidQuantity: binary.BigEndian.Uint32(r[0:4]),
			AskQuantity: binary.BigEndian.Uint32(r[4:8]),
			BidOrders:   binary.BigEndian.Uint16(r[8:10]),
			AskOrders:   binary.BigEndian.Uint16(r[10:12]),
			BidPrice:    f32(r[12:16]),
			AskPrice:    f32(r[16:20]),
		}
	}

	return domain.FullMessage{
		QuoteMessage: q,
		OpenInterest: binary.BigEndian.Uint32(p[26:30]),
		HighestOI:    binary.BigEndian.Uint32(p[30:34]),
		LowestOI:     binary.BigEndian.Uint32(p[34:38]),
		Depth:        depth,
	}
}

func decodeDisconnect(code byte, seg domain.Segment, id uint32, p []byte, receivedAt time.Time) (domain.Message, error) {
	if len(p) < DisconnectPayloadSize {
		return nil, incomplete(code, DisconnectPayloadSize, len(p))
	}
	return domain.DisconnectMessage{
		InstrumentID: id,
		Segment:      seg,
		Reason:       binary.BigEndian.Uint16(p[0:2]),
		ReceivedAt:   receivedAt,
	}, nil
}

func incomplete(code byte, need, have int) error {
	return &domain.DecodeError{Code: code, Need: need, Have: have, Err: domain.ErrIncomplete}
}

func f32(b []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}

func epoch(b []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(b)), 0).UTC()
}
