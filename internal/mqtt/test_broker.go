package mqtt

import (
	"strings"
	"sync"
	"time"
)

type PublishedMessage struct {
	Topic   string
	Payload string
	Retain  bool
}

// TestBroker records publications in memory. Commands can be injected with Deliver.
type TestBroker struct {
	mu            sync.Mutex
	messages      []PublishedMessage
	subscriptions map[string]MessageHandler
	connectErr    error
	connected     bool
}

func NewTestBroker() *TestBroker {
	return &TestBroker{
		subscriptions: make(map[string]MessageHandler),
	}
}

func (b *TestBroker) FailConnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

func (b *TestBroker) Connect(continuation func(error), timeout time.Duration) {
	b.mu.Lock()
	err := b.connectErr
	b.connected = err == nil
	b.mu.Unlock()
	go continuation(err)
}

func (b *TestBroker) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	var text string
	switch p := payload.(type) {
	case string:
		text = p
	case []byte:
		text = string(p)
	}
	b.mu.Lock()
	b.messages = append(b.messages, PublishedMessage{Topic: topic, Payload: text, Retain: retain})
	b.mu.Unlock()
	if continuation != nil {
		go continuation(nil)
	}
}

func (b *TestBroker) Subscribe(topic string, qos byte, handler MessageHandler, continuation func(error), timeout time.Duration) {
	b.mu.Lock()
	b.subscriptions[topic] = handler
	b.mu.Unlock()
	if continuation != nil {
		go continuation(nil)
	}
}

func (b *TestBroker) Disconnect(timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *TestBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Deliver hands a message to every subscription whose filter matches topic.
func (b *TestBroker) Deliver(topic string, payload string) {
	b.mu.Lock()
	var handlers []MessageHandler
	for filter, handler := range b.subscriptions {
		if topicMatches(filter, topic) {
			handlers = append(handlers, handler)
		}
	}
	b.mu.Unlock()
	for _, handler := range handlers {
		handler(topic, []byte(payload))
	}
}

func (b *TestBroker) Messages() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

// Last returns the latest payload published on topic.
func (b *TestBroker) Last(topic string) (PublishedMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.messages) - 1; i >= 0; i-- {
		if b.messages[i].Topic == topic {
			return b.messages[i], true
		}
	}
	return PublishedMessage{}, false
}

func (b *TestBroker) Count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.messages {
		if m.Topic == topic {
			n++
		}
	}
	return n
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// ensure interface compliance
var _ Broker = &TestBroker{}
