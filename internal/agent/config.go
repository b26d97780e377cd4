package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/jkaberg/hass-byd-vehicle/internal/agent/server"
	"github.com/jkaberg/hass-byd-vehicle/internal/debugdump"
	"github.com/jkaberg/hass-byd-vehicle/internal/notifier"
	"github.com/jkaberg/hass-byd-vehicle/internal/poller"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider/rest"
	"github.com/jkaberg/hass-byd-vehicle/internal/provider/sim"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
	pkgmqtt "github.com/jkaberg/hass-byd-vehicle/pkg/mqtt"
	"github.com/jkaberg/hass-byd-vehicle/pkg/mqtt/topic"
	"github.com/jkaberg/hass-byd-vehicle/pkg/options"
)

// setupTimeout bounds connecting to Redis and S3 while building the agent.
const setupTimeout = 10 * time.Second

type Config struct {
	PollOptions     *options.PollOptions
	ProviderOptions *options.ProviderOptions
	DebugOptions    *options.DebugOptions
	HttpOptions     *options.HttpOptions
	GrpcOptions     *options.GrpcOptions
	MqttOptions     *options.MqttOptions
	RedisOptions    *options.RedisOptions
	S3Options       *options.S3Options

	TelemetryFields poller.MaterialSet
	GPSFields       poller.MaterialSet
}

func (cfg *Config) NewAgent() (*Agent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	dump, err := debugdump.New(ctx, cfg.DebugOptions, cfg.S3Options)
	if err != nil {
		return nil, fmt.Errorf("failed to init debug dumps: %w", err)
	}

	src, err := cfg.newSource()
	if err != nil {
		return nil, err
	}
	session := provider.NewSession(src, provider.SessionOptions{
		Serialize: cfg.ProviderOptions.SerializeCalls,
		Limit:     rate.Limit(cfg.ProviderOptions.RateLimit),
		Burst:     cfg.ProviderOptions.RateBurst,
		Dump:      dump,
	})

	a := &Agent{
		cfg:    cfg,
		cache:  provider.NewCached(session, clock.RealClock{}),
		clock:  clock.RealClock{},
		logger: log.WithName("agent"),
	}
	a.closers = append(a.closers, session.Close)

	var sinks []notifier.Sink
	if cfg.MqttOptions.Enabled {
		client, topics, err := cfg.initMqttClientAndTopicBuilder()
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		a.mqtt, a.topics = client, topics
		sinks = append(sinks, notifier.NewMQTT(client, topics, cfg.MqttOptions.QoS))
	}
	if cfg.RedisOptions.Enabled {
		rs, err := notifier.NewRedis(ctx, cfg.RedisOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		sinks = append(sinks, rs)
		a.closers = append(a.closers, rs.Close)
	}
	a.fanout = notifier.NewFanout(notifier.DefaultBuffer, sinks...)

	a.http = server.NewHTTP(cfg.HttpOptions, a)
	a.servers = append(a.servers, a.http)
	if cfg.GrpcOptions.Enabled {
		a.grpc = server.NewGRPC(cfg.GrpcOptions)
		a.servers = append(a.servers, a.grpc)
	}

	return a, nil
}

func (cfg *Config) newSource() (provider.Source, error) {
	po := cfg.ProviderOptions
	switch po.Source {
	case options.SourceREST:
		client, err := rest.New(rest.Config{
			BaseURL:     po.BaseURL,
			Token:       po.Token,
			CountryCode: po.CountryCode,
			Language:    po.Language,
			Timeout:     po.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init rest provider: %w", err)
		}
		return client, nil
	case options.SourceSimulator:
		return sim.NewFleet(sim.Options{
			Vehicles:    po.SimVehicles,
			FailureRate: po.SimFailureRate,
			Seed:        uint64(time.Now().UnixNano()),
		}), nil
	}
	return nil, fmt.Errorf("unknown provider source %q", po.Source)
}

type bridgeState struct {
	State string `json:"state"`
}

func (cfg *Config) initMqttClientAndTopicBuilder() (pkgmqtt.Client, *topic.TopicBuilder, error) {
	topics := topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = "bydpoller-" + uuid.NewString()[:8]
	}

	// No timestamp in the will payload; it would be stale when delivered.
	online, _ := json.Marshal(bridgeState{State: "online"})
	offline, _ := json.Marshal(bridgeState{State: "offline"})
	bridge := topics.Bridge(mqttConfig.ClientID)
	qos := byte(cfg.MqttOptions.QoS)
	mqttConfig.Birth = &pkgmqtt.Message{Topic: bridge, Payload: online, QoS: qos, Retain: true}
	mqttConfig.Will = &pkgmqtt.Message{Topic: bridge, Payload: offline, QoS: qos, Retain: true}

	client, err := pkgmqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}
	return client, topics, nil
}

func (cfg *Config) coordinatorConfig(vin string, p provider.Provider, clk clock.WithTicker) poller.Config {
	po := cfg.PollOptions
	return poller.Config{
		VIN:                 vin,
		Provider:            p,
		Clock:               clk,
		TelemetryInterval:   po.Interval,
		GPSInterval:         po.GPSInterval,
		SmartGPS:            po.SmartGPS,
		GPSActiveInterval:   po.GPSActiveInterval,
		GPSInactiveInterval: po.GPSInactiveInterval,
		Tick:                po.Tick,
		FetchTimeout:        po.FetchTimeout,
		ClimateDuration:     cfg.ProviderOptions.ClimateDuration,
		TelemetryFields:     cfg.TelemetryFields,
		GPSFields:           cfg.GPSFields,
	}
}
