// Package mqtt fans workload log entries out to an MQTT broker so dashboard
// subscribers can follow streams without holding a gateway connection.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"aimx.console/internal/core/logger"
	"aimx.console/internal/core/ports"
)

const topicPrefix = "console/workloads"

type Publisher struct {
	client mqtt.Client
	pubsub ports.LogPubSub
}

func NewPublisher(pubsub ports.LogPubSub, brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("console-gateway-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("connected to MQTT broker", "broker", brokerURL)
	return &Publisher{client: client, pubsub: pubsub}, nil
}

// Start launches the fanout consumer.
func (p *Publisher) Start(ctx context.Context) {
	go p.consume(ctx)
}

func (p *Publisher) consume(ctx context.Context) {
	ch, err := p.pubsub.SubscribeAll(ctx)
	if err != nil {
		logger.Error("mqtt fanout failed to subscribe", "error", err)
		return
	}

	logger.Info("mqtt fanout started")

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			if item.Done {
				topic := fmt.Sprintf("%s/%s/done", topicPrefix, item.WorkloadID)
				p.client.Publish(topic, 0, false, []byte("{}"))
				continue
			}

			payload, err := json.Marshal(item.Entry)
			if err != nil {
				continue
			}
			topic := fmt.Sprintf("%s/%s/logs", topicPrefix, item.WorkloadID)
			p.client.Publish(topic, 0, false, payload)
		}
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
