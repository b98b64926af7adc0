// Package dhan implements the binary market-feed wire protocol: frame
// decoding and encoding, subscription requests, feed URLs and the WebSocket
// transport used by the feed connections.
package dhan

import "github.com/alanyoungcy/depthfeed/internal/domain"

// Response codes carried in the first byte of a ticker/quote feed header.
const (
	CodeTicker     byte = 2
	CodeQuote      byte = 4
	CodeOI         byte = 5
	CodePrevClose  byte = 6
	CodeFull       byte = 8
	CodeDisconnect byte = 50
)

// Response codes carried in the third byte of a depth feed header.
const (
	CodeDepthBid        byte = 41
	CodeDepthAsk        byte = 51
	CodeDepthDisconnect byte = 50
)

// Header and payload sizes.
const (
	FeedHeaderSize  = 8
	DepthHeaderSize = 12

	TickerPayloadSize     = 8
	QuotePayloadSize      = 42
	OIPayloadSize         = 4
	PrevClosePayloadSize  = 8
	DisconnectPayloadSize = 2

	fullDepthOffset  = 54
	fullDepthRows    = 5
	fullDepthRowSize = 20
	FullPayloadSize  = fullDepthOffset + fullDepthRows*fullDepthRowSize

	DepthRecordSize  = 16
	DepthPayloadSize = domain.DepthLevels * DepthRecordSize
)

// Request codes sent in subscription messages.
const (
	RequestDisconnect       = 12
	RequestSubscribeTicker  = 15
	RequestUnsubTicker      = 16
	RequestSubscribeQuote   = 17
	RequestUnsubQuote       = 18
	RequestSubscribeFull    = 19
	RequestUnsubFull        = 20
	RequestSubscribeDepth   = 23
	RequestUnsubscribeDepth = 25
)

// Request limits.
const (
	// FeedChunkSize is the maximum number of instruments per ticker/quote
	// subscription request.
	FeedChunkSize = 100

	// MaxDepthInstruments caps the instruments on one depth connection. They
	// are sent in a single request.
	MaxDepthInstruments = 50
)

// Default endpoints.
const (
	DefaultFeedURL  = "wss://api-feed.dhan.co"
	DefaultDepthURL = "wss://depth-api-feed.dhan.co/twentydepth"
)

// DepthSegments are the only segments served by the 20-level depth feed.
var DepthSegments = []domain.Segment{domain.SegmentNSEEquity, domain.SegmentNSEFNO}
