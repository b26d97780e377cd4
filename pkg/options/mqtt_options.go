package options

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configure the broker connection used to publish vehicle state
// and to receive remote commands.
type MqttOptions struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	// ClientID is generated when empty.
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive        time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout   time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectBackoff time.Duration `json:"reconnect-backoff" mapstructure:"reconnect-backoff"`
	SessionExpiry    uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart       bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify disables broker certificate verification.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/{segment}/{vin}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	// QoS applies to state publications and the command subscription.
	QoS int `json:"qos" mapstructure:"qos"`

	// SharedGroup, when set, subscribes to commands through a shared
	// subscription so that several pollers split the command stream.
	SharedGroup string `json:"shared-group" mapstructure:"shared-group"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:           "tcp://localhost:1883",
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   5 * time.Second,
		ReconnectBackoff: 3 * time.Second,
		SessionExpiry:    60,
		CleanStart:       true,
		TopicRoot:        "byd/v1",
		QoS:              1,
	}
}

func (o *MqttOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	} else if u, err := url.Parse(o.Broker); err != nil {
		errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
	} else if u.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker %q has no host", o.Broker))
	}
	if o.TopicRoot == "" || strings.ContainsAny(o.TopicRoot, "+#") {
		errs = append(errs, fmt.Errorf("mqtt.topic-root %q must be non-empty and free of wildcards", o.TopicRoot))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", o.QoS))
	}
	if strings.ContainsAny(o.SharedGroup, "/+#") {
		errs = append(errs, fmt.Errorf("mqtt.shared-group %q must be a single topic level", o.SharedGroup))
	}
	if o.KeepAlive < time.Second || o.KeepAlive.Seconds() > float64(^uint16(0)) {
		errs = append(errs, fmt.Errorf("mqtt.keep-alive must be between 1s and %ds", ^uint16(0)))
	}
	return errs
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "mqtt.enabled", o.Enabled, "Publish vehicle updates and accept commands over MQTT.")
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "Broker URL, e.g. tcp://localhost:1883 or ssl://broker:8883.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "Broker username.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "Broker password.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Client ID; a random bydpoller-xxxxxxxx ID is used when empty.")
	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "Keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout of one connection attempt.")
	fs.DurationVar(&o.ReconnectBackoff, "mqtt.reconnect-backoff", o.ReconnectBackoff, "Delay between connection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "Session expiry interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip broker certificate verification.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Root namespace for all vehicle topics.")
	fs.IntVar(&o.QoS, "mqtt.qos", o.QoS, "QoS of state publications and the command subscription.")
	fs.StringVar(&o.SharedGroup, "mqtt.shared-group", o.SharedGroup, "Shared subscription group for command intake.")
}

// ToClientConfig maps the options onto a client configuration. Lifecycle
// messages are left to the caller.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		ClientID:           o.ClientID,
		Username:           o.Username,
		Password:           o.Password,
		KeepAlive:          uint16(o.KeepAlive / time.Second),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectBackoff:   o.ReconnectBackoff,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
