package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

const (
	defaultKeepAlive        = 60
	defaultConnectTimeout   = 5 * time.Second
	defaultReconnectBackoff = 3 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive is in seconds.
	KeepAlive uint16
	// SessionExpiry is in seconds; zero ends the session on disconnect.
	SessionExpiry uint32

	ConnectTimeout   time.Duration
	ReconnectBackoff time.Duration

	CleanStart         bool
	InsecureSkipVerify bool

	// Will is left with the broker for an unclean drop; Birth is published
	// after every successful connect.
	Will  *Message
	Birth *Message
}

// Message is a publication tied to the connection lifecycle.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

func (m *Message) will() *paho.WillMessage {
	if m == nil {
		return nil
	}
	return &paho.WillMessage{Topic: m.Topic, Payload: m.Payload, QoS: m.QoS, Retain: m.Retain}
}

func (m *Message) publish() *paho.Publish {
	return &paho.Publish{Topic: m.Topic, Payload: m.Payload, QoS: m.QoS, Retain: m.Retain}
}

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
}

func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("broker url %q has no host", c.BrokerURL)
	}
	for _, m := range []*Message{c.Will, c.Birth} {
		if m == nil {
			continue
		}
		if m.Topic == "" {
			return errors.New("lifecycle message requires a topic")
		}
		if m.QoS > 2 {
			return fmt.Errorf("invalid qos %d for %s", m.QoS, m.Topic)
		}
	}
	return nil
}
