package market

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream maintains the latest top-of-book per pair over a websocket
// connection to the market-data provider. The engine tolerates the
// stream being down; Snapshot falls back to the REST book.
type Stream struct {
	mu sync.RWMutex

	url      string
	pairs    []Pair
	conn     *websocket.Conn
	latest   map[Pair]BookTop
	stopChan chan struct{}
	running  bool

	reconnects int
}

type quoteMessage struct {
	Pair Pair    `json:"pair"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	TS   int64   `json:"ts"` // unix milliseconds
}

// NewStream creates a stream subscriber for the given pairs.
func NewStream(url string, pairs []Pair) *Stream {
	return &Stream{
		url:      url,
		pairs:    pairs,
		latest:   make(map[Pair]BookTop, len(pairs)),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins consuming quotes. Reconnects with backoff
// until Stop is called.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
}

// Stop closes the connection and halts reconnects.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// Latest returns the most recent quote for a pair, if any.
func (s *Stream) Latest(pair Pair) (BookTop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	top, ok := s.latest[pair]
	return top, ok
}

func (s *Stream) run() {
	backoff := time.Second
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			log.Printf("[STREAM] dial failed: %v, retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-s.stopChan:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.reconnects++
		s.mu.Unlock()

		if err := s.subscribe(conn); err != nil {
			log.Printf("[STREAM] subscribe failed: %v", err)
			_ = conn.Close()
			continue
		}

		s.readLoop(conn)
	}
}

func (s *Stream) subscribe(conn *websocket.Conn) error {
	symbols := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		symbols[i] = string(p)
	}
	return conn.WriteJSON(map[string]interface{}{
		"op":    "subscribe",
		"pairs": symbols,
	})
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[STREAM] connection closed: %v", err)
			} else {
				log.Printf("[STREAM] read error: %v", err)
			}
			return
		}

		var q quoteMessage
		if err := json.Unmarshal(data, &q); err != nil {
			continue // non-quote frame
		}
		if !q.Pair.Valid() || q.Bid <= 0 || q.Ask <= 0 {
			continue
		}

		s.mu.Lock()
		s.latest[q.Pair] = BookTop{
			Bid:  q.Bid,
			Ask:  q.Ask,
			Time: time.UnixMilli(q.TS).UTC(),
		}
		s.mu.Unlock()
	}
}
