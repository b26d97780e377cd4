package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configure the optional Redis state store.
type RedisOptions struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Addr     string        `json:"addr" mapstructure:"addr"`
	Password string        `json:"password" mapstructure:"password"`
	Database int           `json:"database" mapstructure:"database"`
	TTL      time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix namespaces keys: {KeyPrefix}:{vin}:{stream}.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Channel receives a message for every published update. Empty disables PUBLISH.
	Channel string `json:"channel" mapstructure:"channel"`
}

func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Enabled:   false,
		Addr:      "localhost:6379",
		TTL:       24 * time.Hour,
		KeyPrefix: "byd",
		Channel:   "byd:updates",
	}
}

func (o *RedisOptions) Validate() []error {
	if !o.Enabled {
		return nil
	}

	errs := []error{}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Database < 0 {
		errs = append(errs, errors.New("redis.database must be >= 0"))
	}
	if o.KeyPrefix == "" {
		errs = append(errs, errors.New("redis.key-prefix must not be empty"))
	}
	return errs
}

func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "redis.enabled", o.Enabled, "Store the latest vehicle state in Redis.")
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Redis server address.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.Database, "redis.database", o.Database, "Redis database number.")
	fs.DurationVar(&o.TTL, "redis.ttl", o.TTL, "Expiry of stored vehicle state keys. Zero keeps them forever.")
	fs.StringVar(&o.KeyPrefix, "redis.key-prefix", o.KeyPrefix, "Prefix of stored vehicle state keys.")
	fs.StringVar(&o.Channel, "redis.channel", o.Channel, "Pub/sub channel for update notifications. Empty disables publishing.")
}
