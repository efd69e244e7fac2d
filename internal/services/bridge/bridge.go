// Package bridge binds the sync engine to its two event sources: inbound
// transport messages and local object-store change notifications. Both are
// funneled into one loop so every handler runs to completion before the next
// event is looked at, which is the concurrency model the whole protocol
// assumes.
package bridge

import (
	"context"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/varbridge/varbridge/internal/store"
	"github.com/varbridge/varbridge/internal/sync"
	"github.com/varbridge/varbridge/pkg/dedup"
	"github.com/varbridge/varbridge/pkg/mqtt"
)

const defaultDebounce = 2 * time.Second

type eventKind int

const (
	evInbound eventKind = iota
	evChange
)

type event struct {
	kind    eventKind
	topic   string
	payload []byte
	change  store.ChangeEvent
}

// Bridge owns the event loop around one Engine.
type Bridge struct {
	engine   *sync.Engine
	consumer mqtt.IConsumer
	deduper  *dedup.Deduper
	debounce time.Duration

	events  chan event
	syncReq chan struct{}
}

func New(engine *sync.Engine, consumer mqtt.IConsumer, deduper *dedup.Deduper, debounce time.Duration) *Bridge {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Bridge{
		engine:   engine,
		consumer: consumer,
		deduper:  deduper,
		debounce: debounce,
		events:   make(chan event, 1024),
		syncReq:  make(chan struct{}, 1),
	}
}

// NotifyChange is the store change listener. It must not block: when the
// queue is full the change is dropped and the next full sync repairs it.
func (b *Bridge) NotifyChange(ev store.ChangeEvent) {
	select {
	case b.events <- event{kind: evChange, change: ev}:
	default:
		log.Printf("bridge: event queue full, dropping change for handle %d", ev.Handle)
	}
}

// TriggerFullSync requests a debounced full sync, as after a configuration
// change or a manual trigger.
func (b *Bridge) TriggerFullSync() {
	select {
	case b.syncReq <- struct{}{}:
	default: // one is already queued, debounce collapses them anyway
	}
}

func (b *Bridge) inboundHandler(topic string, msg paho.Message) error {
	payload := msg.Payload()
	if b.deduper != nil && !b.deduper.First(dedup.Key(payload)) {
		return nil
	}
	select {
	case b.events <- event{kind: evInbound, topic: topic, payload: payload}:
	default:
		log.Printf("bridge: event queue full, dropping message on %s", topic)
	}
	return nil
}

// Start runs the loop until ctx is cancelled. A full sync is scheduled at
// startup: loading the configuration counts as a configuration change.
func (b *Bridge) Start(ctx context.Context) {
	if b.consumer != nil {
		b.consumer.SetHandler(b.inboundHandler)
		go b.consumer.Consume(ctx)
	}

	debounce := time.NewTimer(b.debounce)
	defer debounce.Stop()

	// Pending-action expiry is a no-op unless a TTL is configured.
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("bridge: stopping")
			return

		case ev := <-b.events:
			switch ev.kind {
			case evInbound:
				if err := b.engine.HandleMessage(ctx, ev.topic, ev.payload); err != nil {
					log.Printf("bridge: handle message: %v", err)
				}
			case evChange:
				b.engine.OnLocalChange(ctx, ev.change)
			}

		case <-b.syncReq:
			// Collapse bursts of reconfiguration into one walk.
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(b.debounce)

		case <-debounce.C:
			b.engine.ResetGuards()
			if err := b.engine.FullSync(ctx); err != nil {
				log.Printf("bridge: full sync: %v", err)
			}

		case <-sweep.C:
			if n, err := b.engine.ExpirePending(ctx); err != nil {
				log.Printf("bridge: expire pending: %v", err)
			} else if n > 0 {
				log.Printf("bridge: expired %d pending actions without acknowledgement", n)
			}
		}
	}
}
