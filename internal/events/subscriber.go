package events

// Message is a raw event payload and the subject it arrived on. ID is set
// only by the server's SSE stream, where it can resume a dropped connection.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
