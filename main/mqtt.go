/*
	mqtt.go: Bridge between the internal bus and an external MQTT broker.
	Outbound: every published reading and announcement. Inbound: only the
	command topics (.../get, .../set), so a remote broker can operate the
	sensors but cannot inject fake readings.
*/

package main

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/muwerk/sensord/muwerk"
)

const mqttPublishTimeout = 5 * time.Second

type mqttBridge struct {
	cm     *autopaho.ConnectionManager
	bus    *muwerk.Bus
	prefix string
	out    chan muwerk.Message
	ctx    context.Context
	cancel context.CancelFunc
}

func isCommandTopic(topic string) bool {
	return strings.HasSuffix(topic, "/get") || strings.HasSuffix(topic, "/set")
}

// initMQTT connects the bridge. Reconnects are handled by autopaho; while
// disconnected, outbound messages are dropped (readings are periodic, the
// next cycle repeats them).
func initMQTT(bus *muwerk.Bus) (*mqttBridge, error) {
	cfg := globalSettings.MQTT
	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, err
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sensord"
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &mqttBridge{
		bus:    bus,
		prefix: prefix,
		out:    make(chan muwerk.Message, 256),
		ctx:    ctx,
		cancel: cancel,
	}

	ccfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{broker},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			log.Printf("mqtt connected to %s\n", cfg.Broker)
			_, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: prefix + "+/sensor/#", QoS: 0},
				},
			})
			if err != nil {
				log.Printf("mqtt subscribe: %v\n", err)
			}
		},
		OnConnectError: func(err error) {
			log.Printf("mqtt connect: %v\n", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.inbound(pr.Packet)
					return true, nil
				},
			},
		},
	}
	if cfg.Username != "" {
		ccfg.ConnectUsername = cfg.Username
		ccfg.ConnectPassword = []byte(cfg.Password)
	}

	cm, err := autopaho.NewConnection(ctx, ccfg)
	if err != nil {
		cancel()
		return nil, err
	}
	b.cm = cm

	go b.pump()
	bus.Subscribe("#", b.outbound)
	return b, nil
}

// outbound queues bus traffic for the broker. Command topics stay local:
// they would echo straight back through the inbound subscription. The queue
// keeps broker stalls out of the scheduler loop; when it overflows the
// oldest unsent reading is simply superseded by the next cycle.
func (b *mqttBridge) outbound(topic, msg string) {
	if isCommandTopic(topic) {
		return
	}
	select {
	case b.out <- muwerk.Message{Topic: topic, Msg: msg}:
	default:
	}
}

func (b *mqttBridge) pump() {
	for m := range b.out {
		pubCtx, done := context.WithTimeout(b.ctx, mqttPublishTimeout)
		_, err := b.cm.Publish(pubCtx, &paho.Publish{
			Topic:   b.prefix + m.Topic,
			Payload: []byte(m.Msg),
			QoS:     0,
		})
		done()
		if err != nil && b.ctx.Err() == nil {
			log.Printf("mqtt publish %s: %v\n", m.Topic, err)
		}
	}
}

// inbound relays remote command topics onto the internal bus.
func (b *mqttBridge) inbound(p *paho.Publish) {
	topic := strings.TrimPrefix(p.Topic, b.prefix)
	if !isCommandTopic(topic) {
		return
	}
	b.bus.Publish(topic, string(p.Payload))
}

func (b *mqttBridge) Close() {
	if b.cm != nil {
		_ = b.cm.Disconnect(b.ctx)
	}
	b.cancel()
}
