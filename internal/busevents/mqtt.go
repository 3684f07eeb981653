package busevents

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/thermal"
)

// TopicProfileSet is the retained-message topic a desktop session publishes
// the active power profile to. Being retained, a fresh subscriber always
// receives the current value immediately on connect, which is what makes
// it double as the startup query (spec §6).
const TopicProfileSet = "thermal-governor/profile/set"

// MQTTWatcher implements Source over an MQTT broker using the paho
// client's connect/subscribe/auto-reconnect support.
type MQTTWatcher struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string

	Log *govlog.Logger

	mu      sync.Mutex
	client  mqtt.Client
	events  chan thermal.Profile
	ready   chan struct{}
	readied bool
	first   thermal.Profile
}

func (w *MQTTWatcher) topic() string {
	if w.Topic == "" {
		return TopicProfileSet
	}
	return w.Topic
}

func (w *MQTTWatcher) connect(ctx context.Context) error {
	w.mu.Lock()
	if w.client != nil {
		w.mu.Unlock()
		return nil
	}
	w.events = make(chan thermal.Profile, 8)
	w.ready = make(chan struct{})
	w.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", w.Broker))
	opts.SetClientID(w.ClientID)
	opts.SetUsername(w.Username)
	opts.SetPassword(w.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		w.Log.Printf("bus connection lost: %v, retrying every 5s", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		w.Log.Printf("connected to bus at %s", w.Broker)
		token := client.Subscribe(w.topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
			w.deliver(string(msg.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			w.Log.Printf("failed to subscribe to %s: %v", w.topic(), token.Error())
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("busevents: connect to %s: %w", w.Broker, token.Error())
	}

	w.mu.Lock()
	w.client = client
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		c := w.client
		w.mu.Unlock()
		if c != nil && c.IsConnected() {
			c.Disconnect(250)
		}
	}()

	return nil
}

func (w *MQTTWatcher) deliver(payload string) {
	profile, err := thermal.ParseProfile(payload)
	if err != nil {
		w.Log.Printf("bus: ignoring unrecognized profile %q: %v", payload, err)
		return
	}

	w.mu.Lock()
	if !w.readied {
		w.readied = true
		w.first = profile
		close(w.ready)
	}
	ch := w.events
	w.mu.Unlock()

	select {
	case ch <- profile:
	default:
		w.Log.Printf("bus: event channel full, dropping profile change to %s", profile)
	}
}

// QueryInitial implements Source. It returns the first retained value
// published on the topic, without consuming it from the Events channel.
func (w *MQTTWatcher) QueryInitial(ctx context.Context) (thermal.Profile, error) {
	if err := w.connect(ctx); err != nil {
		return 0, err
	}

	w.mu.Lock()
	ready := w.ready
	w.mu.Unlock()

	select {
	case <-ready:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.first, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Events implements Source. The returned channel is not closed when ctx is
// canceled; cancellation only disconnects the client.
func (w *MQTTWatcher) Events(ctx context.Context) (<-chan thermal.Profile, error) {
	if err := w.connect(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	ch := w.events
	w.mu.Unlock()
	return ch, nil
}
