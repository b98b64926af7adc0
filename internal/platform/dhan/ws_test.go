package dhan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/feed"
)

// depthServer accepts one connection, waits for the depth subscription and
// replies with a bid and an ask frame for every subscribed instrument.
func depthServer(t *testing.T, levels []domain.DepthLevel) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req SubscribeRequest
			if err := json.Unmarshal(msg, &req); err != nil || req.RequestCode != RequestSubscribeDepth {
				continue
			}
			for _, in := range req.InstrumentList {
				seg, _ := domain.ParseSegment(in.ExchangeSegment)
				var id uint32
				for _, c := range in.SecurityID {
					id = id*10 + uint32(c-'0')
				}
				for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
					lv := make([]domain.DepthLevel, len(levels))
					for i, l := range levels {
						lv[i] = l
						if side == domain.SideAsk {
							lv[i].Price += 1
						}
					}
					frame := EncodeDepthFrame(domain.SideSnapshot{Side: side, InstrumentID: id, Segment: seg, Levels: lv})
					if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				}
			}
		}
	}))
}

func TestDepthFeedOverWebSocket(t *testing.T) {
	srv := depthServer(t, []domain.DepthLevel{
		{Price: 250, Quantity: 400, Orders: 4},
		{Price: 249.95, Quantity: 380, Orders: 3},
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	proto := NewDepthProtocol(wsURL, Credentials{ClientID: "c", AccessToken: "t"})
	f := feed.NewDepthFeed(proto, WSDialer{}, feed.DefaultConfig(), feed.DefaultDepthConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer f.Disconnect()

	updates := make(chan domain.DepthUpdate, 1)
	in := []domain.Instrument{{ID: 1333, Segment: domain.SegmentNSEEquity}}
	if err := f.Subscribe(ctx, in, func(u domain.DepthUpdate) {
		select {
		case updates <- u:
		default:
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case u := <-updates:
		if u.Key() != domain.Key(domain.SegmentNSEEquity, 1333) {
			t.Errorf("update for %s", u.Key())
		}
		if u.Snapshot.BestBid() != 250 || u.Snapshot.BestAsk() != 250.95 {
			t.Errorf("best bid/ask = %v/%v", u.Snapshot.BestBid(), u.Snapshot.BestAsk())
		}
	case <-ctx.Done():
		t.Fatal("no update received over websocket")
	}
}

func TestWSDialTimeout(t *testing.T) {
	// A server that accepts TCP but never completes the handshake.
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := WSDialer{}.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if !errors.Is(err, domain.ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
}
