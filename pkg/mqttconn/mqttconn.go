package mqttconn

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config describes the broker connection. ClientID is suffixed with a short
// random id so multiple instances never steal each other's session.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	ClientID      string
	RetryInterval time.Duration // fixed reconnect delay, default 2s
}

// NewConn establishes the single long-lived broker connection. The initial
// connect is retried with exponential backoff; after that paho's auto
// reconnect takes over with a fixed retry interval, and onConnect runs on
// every (re)connection so subscriptions can be re-established.
// CleanSession is off so the broker can hold QoS1 state across reconnects.
// The connection is closed when ctx is cancelled.
func NewConn(cfg *Config, ctx context.Context, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 2 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(retry)
	opts.SetConnectRetryInterval(retry)
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v (reconnecting every %s)", err, retry)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("mqtt: connect failed: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(maxRetries-1)))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Printf("mqtt: connected to broker at %s", connAddr)

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Println("mqtt: connection closed")
	}()

	return client, nil
}

// Close disconnects the client if still connected.
func Close(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("mqtt: connection closed")
	}
}
