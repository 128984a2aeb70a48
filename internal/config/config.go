package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models mootcourt.yml.
type Config struct {
	Courtroom struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"courtroom"`
	Roles struct {
		Catalog map[string]Role `yaml:"catalog"`
	} `yaml:"roles"`
	Events struct {
		// Keep is the per-session event retention cap; the oldest rows
		// past it are dropped.
		Keep int `yaml:"keep"`
		Stream struct {
			PollIntervalMs int `yaml:"poll_interval_ms"`
			MaxLifetimeSec int `yaml:"max_lifetime_sec"`
			MaxEvents      int `yaml:"max_events"`
		} `yaml:"stream"`
	} `yaml:"events"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Role struct {
	Description string `yaml:"description"`
	// Bench roles may pause, resume and manually advance a session.
	Bench bool `yaml:"bench"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run moot init to create one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Courtroom.ID == "" {
		return fmt.Errorf("config.courtroom.id is required")
	}
	if c.Courtroom.Kind != "trial-simulation" {
		return fmt.Errorf("config.courtroom.kind must be 'trial-simulation'")
	}
	if len(c.Roles.Catalog) == 0 {
		return fmt.Errorf("config.roles.catalog is required")
	}
	bench := 0
	for roleID, role := range c.Roles.Catalog {
		if roleID == "" {
			return fmt.Errorf("config.roles.catalog contains empty role id")
		}
		if role.Bench {
			bench++
		}
	}
	if bench == 0 {
		return fmt.Errorf("config.roles.catalog must include at least one bench role")
	}
	if c.Events.Keep < 0 {
		return fmt.Errorf("config.events.keep must not be negative")
	}
	if c.Events.Stream.PollIntervalMs < 0 || c.Events.Stream.MaxLifetimeSec < 0 || c.Events.Stream.MaxEvents < 0 {
		return fmt.Errorf("config.events.stream values must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// KnownRole reports whether the catalog defines the role.
func (c *Config) KnownRole(roleID string) bool {
	_, ok := c.Roles.Catalog[roleID]
	return ok
}

// BenchRole reports whether the role carries bench powers.
func (c *Config) BenchRole(roleID string) bool {
	r, ok := c.Roles.Catalog[roleID]
	return ok && r.Bench
}

// EventKeep returns the retention cap, defaulted when unset.
func (c *Config) EventKeep() int {
	if c == nil || c.Events.Keep == 0 {
		return 10000
	}
	return c.Events.Keep
}

// StreamPollIntervalMs returns the stream poll interval, defaulted when unset.
func (c *Config) StreamPollIntervalMs() int {
	if c == nil || c.Events.Stream.PollIntervalMs == 0 {
		return 1000
	}
	return c.Events.Stream.PollIntervalMs
}

// StreamMaxLifetimeSec returns the stream lifetime ceiling, defaulted when unset.
func (c *Config) StreamMaxLifetimeSec() int {
	if c == nil || c.Events.Stream.MaxLifetimeSec == 0 {
		return 300
	}
	return c.Events.Stream.MaxLifetimeSec
}

// StreamMaxEvents returns the per-stream event ceiling, defaulted when unset.
func (c *Config) StreamMaxEvents() int {
	if c == nil || c.Events.Stream.MaxEvents == 0 {
		return 5000
	}
	return c.Events.Stream.MaxEvents
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "mootcourt.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(courtroomID string) string {
	return fmt.Sprintf(defaultTemplate, courtroomID)
}

// Default returns the default Config struct for a courtroom.
func Default(courtroomID string) *Config {
	var cfg Config
	cfg.Courtroom.ID = courtroomID
	cfg.Courtroom.Kind = "trial-simulation"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, courtroomID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `courtroom:
  id: %s
  kind: trial-simulation

roles:
  catalog:
    judge:
      description: "Presides over the session"
      bench: true
    prosecutor:
      description: "Leads the case for the prosecution"
    defense:
      description: "Leads the case for the defense"
    witness:
      description: "Testifies when called"
    clerk:
      description: "Keeps the record"
      bench: true
    audience:
      description: "Observes the proceedings"

events:
  keep: 10000
  stream:
    poll_interval_ms: 1000
    max_lifetime_sec: 300
    max_events: 5000

webhooks: []
`
