package domain

import "time"

// MessageKind identifies the shape of a decoded wire message.
type MessageKind uint8

const (
	KindTicker MessageKind = iota + 1
	KindQuote
	KindFull
	KindOpenInterest
	KindPrevClose
	KindDepthSide
	KindDisconnect
)

func (k MessageKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindQuote:
		return "quote"
	case KindFull:
		return "full"
	case KindOpenInterest:
		return "oi"
	case KindPrevClose:
		return "prev_close"
	case KindDepthSide:
		return "depth"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Message is any decoded feed frame.
type Message interface {
	Kind() MessageKind
	Key() InstrumentKey
}

// TickerMessage carries the last traded price and time.
type TickerMessage struct {
	InstrumentID  uint32    `json:"instrument_id"`
	Segment       Segment   `json:"segment"`
	LastPrice     float64   `json:"last_price"`
	LastTradeTime time.Time `json:"last_trade_time"`
	ReceivedAt    time.Time `json:"received_at"`
}

func (m TickerMessage) Kind() MessageKind   { return KindTicker }
func (m TickerMessage) Key() InstrumentKey { return Key(m.Segment, m.InstrumentID) }

// QuoteMessage is the quote-mode packet: last trade, session aggregates and
// OHLC.
type QuoteMessage struct {
	InstrumentID      uint32    `json:"instrument_id"`
	Segment           Segment   `json:"segment"`
	LastPrice         float64   `json:"last_price"`
	LastQuantity      uint16    `json:"last_quantity"`
	LastTradeTime     time.Time `json:"last_trade_time"`
	AverageTradePrice float64   `json:"average_trade_price"`
	Volume            uint32    `json:"volume"`
	TotalSellQuantity uint32    `json:"total_sell_quantity"`
	TotalBuyQuantity  uint32    `json:"total_buy_quantity"`
	Open              float64   `json:"open"`
	Close             float64   `json:"close"`
	High              float64   `json:"high"`
	Low               float64   `json:"low"`
	ReceivedAt        time.Time `json:"received_at"`
}

func (m QuoteMessage) Kind() MessageKind   { return KindQuote }
func (m QuoteMessage) Key() InstrumentKey { return Key(m.Segment, m.InstrumentID) }

// MarketByPrice is one row of the five-level depth carried in full packets.
type MarketByPrice struct {
	BidQuantity uint32  `json:"bid_quantity"`
	AskQuantity uint32  `json:"ask_quantity"`
	BidOrders   uint16  `json:"bid_orders"`
	AskOrders   uint16  `json:"ask_orders"`
	BidPrice    float64 `json:"bid_price"`
	AskPrice    float64 `json:"ask_price"`
}

// FullMessage is the full-mode packet: quote fields plus open interest and a
// five-level market-by-price book.
type FullMessage struct {
	QuoteMessage
	OpenInterest uint32          `json:"open_interest"`
	HighestOI    uint32          `json:"highest_oi"`
	LowestOI     uint32          `json:"lowest_oi"`
	Depth        []MarketByPrice `json:"depth"`
}

func (m FullMessage) Kind() MessageKind { return KindFull }

// OIMessage carries an open-interest update.
type OIMessage struct {
	InstrumentID uint32    `json:"instrument_id"`
	Segment      Segment   `json:"segment"`
	OpenInterest uint32    `json:"open_interest"`
	ReceivedAt   time.Time `json:"received_at"`
}

func (m OIMessage) Kind() MessageKind   { return KindOpenInterest }
func (m OIMessage) Key() InstrumentKey { return Key(m.Segment, m.InstrumentID) }

// PrevCloseMessage carries the previous session close and open interest.
type PrevCloseMessage struct {
	InstrumentID uint32    `json:"instrument_id"`
	Segment      Segment   `json:"segment"`
	PrevClose    float64   `json:"prev_close"`
	PrevOI       uint32    `json:"prev_oi"`
	ReceivedAt   time.Time `json:"received_at"`
}

func (m PrevCloseMessage) Kind() MessageKind   { return KindPrevClose }
func (m PrevCloseMessage) Key() InstrumentKey { return Key(m.Segment, m.InstrumentID) }

// DepthSideMessage wraps one decoded side of the 20-level book.
type DepthSideMessage struct {
	SideSnapshot
}

func (m DepthSideMessage) Kind() MessageKind { return KindDepthSide }

// DisconnectMessage is sent by the server before it drops the connection.
type DisconnectMessage struct {
	InstrumentID uint32    `json:"instrument_id"`
	Segment      Segment   `json:"segment"`
	Reason       uint16    `json:"reason"`
	ReceivedAt   time.Time `json:"received_at"`
}

func (m DisconnectMessage) Kind() MessageKind   { return KindDisconnect }
func (m DisconnectMessage) Key() InstrumentKey { return Key(m.Segment, m.InstrumentID) }
