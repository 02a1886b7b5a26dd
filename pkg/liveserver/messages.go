package liveserver

// Message is the JSON envelope broadcast to websocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeOrder  = "order"  // order lifecycle transition
	TypeTicker = "ticker" // admin price write
)

// NewMessage builds an envelope.
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data}
}

// NewOrderMessage wraps an order lifecycle event.
func NewOrderMessage(data interface{}) Message {
	return NewMessage(TypeOrder, data)
}

// NewTickerMessage wraps a ticker update event.
func NewTickerMessage(data interface{}) Message {
	return NewMessage(TypeTicker, data)
}
