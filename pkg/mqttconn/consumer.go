package mqttconn

import (
	"context"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IConsumer is the subscription surface the services program against.
type IConsumer interface {
	ConsumeMessage(ctx context.Context, client mqtt.Client)
	SetHandler(handler func(topic string, message mqtt.Message) error)
}

// Consumer subscribes a fixed topic set on a shared MQTT client and routes
// every inbound message to a single handler. Subscribe is safe to use as the
// client's OnConnect hook so the topic set survives reconnects.
type Consumer struct {
	mu      sync.RWMutex
	topics  []string
	qos     byte
	handler func(topic string, message mqtt.Message) error
}

// NewConsumer creates a Consumer for the given topics at the given QoS.
// The handler may be nil and injected later with SetHandler.
func NewConsumer(topics []string, qos byte, handler func(topic string, message mqtt.Message) error) *Consumer {
	return &Consumer{topics: topics, qos: qos, handler: handler}
}

func (c *Consumer) SetHandler(handler func(topic string, message mqtt.Message) error) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Subscribe registers every topic on the client. Called on each (re)connect.
func (c *Consumer) Subscribe(client mqtt.Client) {
	for _, topic := range c.topics {
		topic := topic
		token := client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
			c.mu.RLock()
			h := c.handler
			c.mu.RUnlock()
			if h == nil {
				log.Printf("mqtt: no handler set for topic %s", topic)
				return
			}
			if err := h(msg.Topic(), msg); err != nil {
				log.Printf("mqtt: error handling message on %s: %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			log.Printf("mqtt: subscribe error on %s: %v", topic, token.Error())
		} else {
			log.Printf("mqtt: subscribed to %s (qos %d)", topic, c.qos)
		}
	}
}

// ConsumeMessage subscribes and blocks until the context is cancelled,
// then unsubscribes from all topics.
func (c *Consumer) ConsumeMessage(ctx context.Context, client mqtt.Client) {
	c.Subscribe(client)

	<-ctx.Done()

	if client.IsConnected() {
		client.Unsubscribe(c.topics...).Wait()
	}
}
