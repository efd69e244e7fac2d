package mqtt

import (
	"context"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message. Returning an error only produces a
// log line; the transport never retries on our behalf.
type Handler func(topic string, msg paho.Message) error

// IConsumer is the inbound half of the transport adapter.
type IConsumer interface {
	Consume(ctx context.Context)
	SetHandler(h Handler)
}

// Consumer subscribes to a single topic filter on a shared client and feeds
// every delivery to the handler.
type Consumer struct {
	client paho.Client
	filter string
	qos    byte
	h      Handler
}

func NewConsumer(client paho.Client, filter string, qos byte, h Handler) *Consumer {
	return &Consumer{client: client, filter: filter, qos: qos, h: h}
}

func (c *Consumer) SetHandler(h Handler) { c.h = h }

// Consume subscribes and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) {
	token := c.client.Subscribe(c.filter, c.qos, func(_ paho.Client, msg paho.Message) {
		if c.h == nil {
			log.Printf("mqtt: no handler for %s, dropping message", msg.Topic())
			return
		}
		if err := c.h(msg.Topic(), msg); err != nil {
			log.Printf("mqtt: handler error on %s: %v", msg.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Printf("mqtt: subscribe error on %s: %v", c.filter, token.Error())
		return
	}
	log.Printf("mqtt: subscribed to %s", c.filter)

	<-ctx.Done()

	unsub := c.client.Unsubscribe(c.filter)
	unsub.Wait()
}
