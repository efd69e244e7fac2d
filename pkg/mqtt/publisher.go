package mqtt

import (
	"fmt"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the outbound half of the transport adapter: a fire-and-forget
// byte publisher bound to a single topic.
type IPublisher interface {
	Publish(payload []byte) error
	Close()
}

// Publisher publishes payloads to one fixed topic on a shared client.
type Publisher struct {
	client paho.Client
	topic  string
	qos    byte
}

func NewPublisher(client paho.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos}
}

// Publish hands the payload to the broker. No retain flag: a peer that joins
// late catches up through a full sync, not through stale retained messages.
func (p *Publisher) Publish(payload []byte) error {
	token := p.client.Publish(p.topic, p.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish to %q: %w", p.topic, token.Error())
	}
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("mqtt: publisher client disconnected")
	}
}
