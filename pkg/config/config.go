package config

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	mwreactor "github.com/markity/mw-reactor"
	"github.com/markity/mw-reactor/pkg/async_log"
	"github.com/markity/mw-reactor/pkg/buffer"
)

var (
	ErrDecodeConfigFile = errors.Normalize("decode config file failed",
		errors.RFCCodeText("MW:ErrDecodeConfigFile"))
	ErrConfigUnknownItem = errors.Normalize("unknown config item: %s",
		errors.RFCCodeText("MW:ErrConfigUnknownItem"))
	ErrInvalidConfig = errors.Normalize("invalid config: %s",
		errors.RFCCodeText("MW:ErrInvalidConfig"))
)

const (
	defaultListenAddr  = "0.0.0.0:8000"
	defaultIdleTimeout = "0s"
	defaultBacklog     = 1024
)

type Config struct {
	ListenAddr string `toml:"listen-addr" json:"listen-addr"`
	// WorkerCount of 0 means twice the number of cpus
	WorkerCount int `toml:"worker-count" json:"worker-count"`
	Backlog     int `toml:"backlog" json:"backlog"`
	BufferSize  int `toml:"buffer-size" json:"buffer-size"`
	// IdleTimeoutStr is a duration string, 0 disables the idle check
	IdleTimeoutStr string `toml:"idle-timeout" json:"idle-timeout"`
	NoDelay        bool   `toml:"no-delay" json:"no-delay"`
	KeepAlive      bool   `toml:"keep-alive" json:"keep-alive"`
	// StatusAddr serves /metrics, empty disables it
	StatusAddr string `toml:"status-addr" json:"status-addr"`

	Log async_log.Config `toml:"log" json:"log"`

	IdleTimeout time.Duration `toml:"-" json:"-"`
}

// NewDefaultConfig returns a config that serves on 0.0.0.0:8000
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:     defaultListenAddr,
		WorkerCount:    0,
		Backlog:        defaultBacklog,
		BufferSize:     buffer.DefaultCapacity,
		IdleTimeoutStr: defaultIdleTimeout,
		NoDelay:        true,
		Log: async_log.Config{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			Console:    true,
			Color:      true,
		},
	}
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}

// ConfigFromFile loads config from file and merges items into Config
func (c *Config) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Annotate(ErrDecodeConfigFile.GenWithStackByArgs(), err.Error())
	}
	return checkUndecodedItems(metaData)
}

// ConfigFromString is ConfigFromFile for in-memory data
func (c *Config) ConfigFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return errors.Annotate(ErrDecodeConfigFile.GenWithStackByArgs(), err.Error())
	}
	return checkUndecodedItems(metaData)
}

// Adjust parses derived fields and validates the config
func (c *Config) Adjust() error {
	if c.IdleTimeoutStr == "" {
		c.IdleTimeoutStr = defaultIdleTimeout
	}
	d, err := time.ParseDuration(c.IdleTimeoutStr)
	if err != nil {
		return ErrInvalidConfig.GenWithStackByArgs("idle-timeout " + err.Error())
	}
	c.IdleTimeout = d

	return c.Validate()
}

func (c *Config) Validate() error {
	if _, err := netip.ParseAddrPort(c.ListenAddr); err != nil {
		return ErrInvalidConfig.GenWithStackByArgs("listen-addr " + err.Error())
	}
	if c.WorkerCount < 0 {
		return ErrInvalidConfig.GenWithStackByArgs("worker-count must not be negative")
	}
	if c.Backlog <= 0 {
		return ErrInvalidConfig.GenWithStackByArgs("backlog must be positive")
	}
	if c.BufferSize <= 0 {
		return ErrInvalidConfig.GenWithStackByArgs("buffer-size must be positive")
	}
	if c.IdleTimeout < 0 {
		return ErrInvalidConfig.GenWithStackByArgs("idle-timeout must not be negative")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return ErrInvalidConfig.GenWithStackByArgs("log rotation settings must not be negative")
	}
	return nil
}

// Options maps the config onto server options, logger and metrics are left to the caller
func (c *Config) Options() []mwreactor.Option {
	opts := []mwreactor.Option{
		mwreactor.WithBacklog(c.Backlog),
		mwreactor.WithBufferSize(c.BufferSize),
		mwreactor.WithNoDelay(c.NoDelay),
		mwreactor.WithKeepAlive(c.KeepAlive),
	}
	if c.IdleTimeout > 0 {
		opts = append(opts, mwreactor.WithIdleTimeout(c.IdleTimeout))
	}
	return opts
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return ErrConfigUnknownItem.GenWithStackByArgs(strings.Join(undecodedItems, ","))
	}
	return nil
}
