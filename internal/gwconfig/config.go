// Package gwconfig loads the gateway's startup configuration from a YAML
// file.
package gwconfig

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's full set of startup inputs.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	BroadcastAddress string `yaml:"broadcastAddress"`
	DestPort         int    `yaml:"destPort"`

	AdvertiseInterval    time.Duration `yaml:"advertiseInterval"`
	OfflineStateInterval time.Duration `yaml:"offlineStateInterval"`
	// OnlineStateInterval, left at zero, keeps the gateway Online forever
	// once reached. A positive value makes it drop back Offline after that
	// long, tearing down every periodic event until the next Offline->Online
	// toggle.
	OnlineStateInterval time.Duration `yaml:"onlineStateInterval"`

	ActiveClientsCheckInterval    time.Duration `yaml:"activeClientsCheckInterval"`
	AsleepClientsCheckInterval    time.Duration `yaml:"asleepClientsCheckInterval"`
	PendingRetainCheckInterval    time.Duration `yaml:"pendingRetainCheckInterval"`
	RequestsCheckInterval         time.Duration `yaml:"requestsCheckInterval"`
	RegistrationsCheckInterval    time.Duration `yaml:"registrationsCheckInterval"`
	AwakenSubscriberCheckInterval time.Duration `yaml:"awakenSubscriberCheckInterval"`
	MessagesClearInterval         time.Duration `yaml:"messagesClearInterval"`

	RetransmissionInterval time.Duration `yaml:"retransmissionInterval"`
	RetransmissionLimit    int           `yaml:"retransmissionLimit"`

	MaximumClients int `yaml:"maximumClients"`

	PredefinedTopics map[string]uint16 `yaml:"predefinedTopics"`

	// PacketBER is accepted for configuration-surface completeness but is
	// not wired to any component: it models injected bit errors for
	// fault-injection studies, which has no analog in a real UDP gateway
	// and would fight the trap-on-violation error design.
	PacketBER float64 `yaml:"packetBER"`

	LogLevel string `yaml:"logLevel"`
}

// defaults mirrors the interval magnitudes implied by the original
// simulation's NED defaults: frequent liveness checks, slower advertise.
func defaults() Config {
	return Config{
		ListenAddr:           ":10000",
		BroadcastAddress:     "255.255.255.255",
		DestPort:             10000,
		AdvertiseInterval:    15 * time.Second,
		OfflineStateInterval: 2 * time.Second,
		OnlineStateInterval:  0,

		ActiveClientsCheckInterval:    5 * time.Second,
		AsleepClientsCheckInterval:    5 * time.Second,
		PendingRetainCheckInterval:    time.Second,
		RequestsCheckInterval:         time.Second,
		RegistrationsCheckInterval:    time.Second,
		AwakenSubscriberCheckInterval: time.Second,
		MessagesClearInterval:         30 * time.Second,

		RetransmissionInterval: 10 * time.Second,
		RetransmissionLimit:    3,

		MaximumClients: 0,

		LogLevel: "info",
	}
}

// Load reads and validates the YAML configuration file at path, applying
// defaults() for any field the file leaves unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "gwconfig: reading %s", path)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "gwconfig: parsing %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "gwconfig: validating %s", path)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RetransmissionLimit < 0 {
		return errors.New("retransmissionLimit must not be negative")
	}
	if c.DestPort <= 0 || c.DestPort > 65535 {
		return errors.Errorf("destPort %d out of range", c.DestPort)
	}
	for name, id := range c.PredefinedTopics {
		if id == 0 || id == 0xFFFF {
			return errors.Errorf("predefined topic %q uses reserved id %d", name, id)
		}
	}
	return nil
}
