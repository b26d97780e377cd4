package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sourcegraph/conc"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

type client struct {
	cfg    *ClientConfig
	cm     *autopaho.ConnectionManager
	logger log.Logger

	connected atomic.Bool
	handlers  conc.WaitGroup

	mu     sync.RWMutex
	routes map[string]route
}

type route struct {
	match   string
	qos     byte
	handler Handler
}

// NewClient validates cfg and returns a Client that is not yet connected.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}
	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &client{
		cfg:    cfg,
		logger: log.WithName("mqtt").WithValues("broker", cfg.BrokerURL, "clientID", cfg.ClientID),
		routes: make(map[string]route),
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	server, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{server},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectBackoff),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify},
		WillMessage:                   c.cfg.Will.will(),
		OnConnectionUp:                c.connectionUp,
		OnConnectError:                c.connectError,
		OnConnectionDown:              c.connectionDown,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
			OnClientError:      func(err error) { c.logger.Error(err, "MQTT client error") },
			OnServerDisconnect: c.serverDisconnect,
		},
	})
	if err != nil {
		return err
	}
	c.cm = cm
	c.logger.Info("MQTT client started")
	return nil
}

func (c *client) Disconnect(ctx context.Context) {
	if c.cm == nil {
		return
	}
	if err := c.cm.Disconnect(ctx); err != nil {
		c.logger.Debug("MQTT disconnect did not complete cleanly", "error", err.Error())
	}
	c.connected.Store(false)

	done := make(chan struct{})
	go func() {
		c.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("MQTT handlers still running after disconnect")
	}
	c.logger.Info("MQTT client disconnected")
}

func (c *client) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *client) Subscribe(ctx context.Context, filter string, qos int, handler Handler) error {
	if c.cm == nil {
		return ErrNotStarted
	}

	// Registered before the packet goes out so a reconnect in between
	// still re-subscribes it.
	c.mu.Lock()
	c.routes[filter] = route{match: plainFilter(filter), qos: byte(qos), handler: handler}
	c.mu.Unlock()

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	c.logger.Info("Subscribed", "filter", filter)
	return nil
}

func (c *client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

func (c *client) IsConnected() bool {
	return c.connected.Load()
}

func (c *client) subscriptions() []paho.SubscribeOptions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	opts := make([]paho.SubscribeOptions, 0, len(c.routes))
	for _, filter := range slices.Sorted(maps.Keys(c.routes)) {
		opts = append(opts, paho.SubscribeOptions{Topic: filter, QoS: c.routes[filter].qos})
	}
	return opts
}

func (c *client) connectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection up")

	ctx := context.Background()
	if subs := c.subscriptions(); len(subs) > 0 {
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
			c.logger.Error(err, "Failed to restore subscriptions", "count", len(subs))
		}
	}

	if b := c.cfg.Birth; b != nil {
		if _, err := cm.Publish(ctx, b.publish()); err != nil {
			c.logger.Error(err, "Failed to publish birth message", "topic", b.Topic)
		}
	}
}

func (c *client) connectionDown() bool {
	c.connected.Store(false)
	c.logger.Warn("MQTT connection down")
	return true
}

func (c *client) connectError(err error) {
	c.connected.Store(false)
	c.logger.Error(err, "MQTT connect failed, retrying", "backoff", c.cfg.ReconnectBackoff)
}

func (c *client) serverDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	var reason string
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT broker closed the session", "reasonCode", d.ReasonCode, "reason", reason)
}

// dispatch hands a publication to every matching handler on its own
// goroutine so the network reader never blocks on a handler.
func (c *client) dispatch(p paho.PublishReceived) (bool, error) {
	topic, payload := p.Packet.Topic, p.Packet.Payload

	c.mu.RLock()
	var matched []Handler
	for _, r := range c.routes {
		if matchFilter(r.match, topic) {
			matched = append(matched, r.handler)
		}
	}
	c.mu.RUnlock()

	if len(matched) == 0 {
		c.logger.Debug("Dropping message without a handler", "topic", topic)
		return true, nil
	}
	for _, h := range matched {
		c.handlers.Go(func() { h(context.Background(), topic, payload) })
	}
	return true, nil
}
