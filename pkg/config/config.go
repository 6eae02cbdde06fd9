package config

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config represents the top-level configuration structure.
type Config struct {
	Global      GlobalConfig      `yaml:"global"      mapstructure:"global"`
	Dataplane   DataplaneConfig   `yaml:"dataplane"   mapstructure:"dataplane"`
	Translation TranslationConfig `yaml:"translation" mapstructure:"translation"`
	Trace       TraceConfig       `yaml:"trace"       mapstructure:"trace"`
	Interfaces  []InterfaceConfig `yaml:"interfaces"  mapstructure:"interfaces"`
	Mappings    []MappingConfig   `yaml:"mappings"    mapstructure:"mappings"`
}

// GlobalConfig holds global settings.
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"      mapstructure:"log_level"`
	LogFile       string `yaml:"log_file"       mapstructure:"log_file"`
	MetricsListen string `yaml:"metrics_listen" mapstructure:"metrics_listen"`
	MetricsPath   string `yaml:"metrics_path"   mapstructure:"metrics_path"`
}

// GetMetricsPath returns the HTTP path serving metrics.
// Defaults to "/metrics" if not set.
func (g GlobalConfig) GetMetricsPath() string {
	if g.MetricsPath == "" {
		return "/metrics"
	}
	return g.MetricsPath
}

// DataplaneConfig sizes the packet workers and their NFQUEUE queues.
type DataplaneConfig struct {
	Workers   int   `yaml:"workers"    mapstructure:"workers"`
	BatchSize int   `yaml:"batch_size" mapstructure:"batch_size"`
	QueueBase int   `yaml:"queue_base" mapstructure:"queue_base"`
	QueueLen  int   `yaml:"queue_len"  mapstructure:"queue_len"`
	FailOpen  *bool `yaml:"fail_open"  mapstructure:"fail_open"`
	Out2In    *bool `yaml:"out2in"     mapstructure:"out2in"`
}

// GetWorkers returns the number of workers per direction.
// Defaults to 1 if not set.
func (d DataplaneConfig) GetWorkers() int {
	if d.Workers <= 0 {
		return 1
	}
	return d.Workers
}

// GetBatchSize returns the maximum number of packets handled per batch.
// Defaults to 256 if not set.
func (d DataplaneConfig) GetBatchSize() int {
	if d.BatchSize <= 0 {
		return 256
	}
	return d.BatchSize
}

// GetQueueBase returns the first NFQUEUE number.
// Defaults to 6600 if not set.
func (d DataplaneConfig) GetQueueBase() uint16 {
	if d.QueueBase <= 0 {
		return 6600
	}
	return uint16(d.QueueBase)
}

// GetQueueLen returns the kernel queue length of each NFQUEUE.
// Defaults to 4096 if not set.
func (d DataplaneConfig) GetQueueLen() uint32 {
	if d.QueueLen <= 0 {
		return 4096
	}
	return uint32(d.QueueLen)
}

// IsFailOpen returns whether the kernel accepts packets when a queue is full.
// Defaults to true if not explicitly set.
func (d DataplaneConfig) IsFailOpen() bool {
	if d.FailOpen == nil {
		return true
	}
	return *d.FailOpen
}

// IsOut2InEnabled returns whether return traffic is translated back.
// Defaults to true if not explicitly set.
func (d DataplaneConfig) IsOut2InEnabled() bool {
	if d.Out2In == nil {
		return true
	}
	return *d.Out2In
}

// TranslationConfig holds routing scope and table sizing settings.
type TranslationConfig struct {
	DefaultScope *uint32 `yaml:"default_scope" mapstructure:"default_scope"`
	OutsideScope *uint32 `yaml:"outside_scope" mapstructure:"outside_scope"`
	MaxMappings  int     `yaml:"max_mappings"  mapstructure:"max_mappings"`
	RouteRefresh string  `yaml:"route_refresh" mapstructure:"route_refresh"`
}

// mainTable is the Linux main routing table id.
const mainTable uint32 = 254

// GetDefaultScope returns the routing scope of interfaces without an explicit scope.
// Defaults to the main routing table (254) if not set.
func (t TranslationConfig) GetDefaultScope() uint32 {
	if t.DefaultScope == nil {
		return mainTable
	}
	return *t.DefaultScope
}

// GetOutsideScope returns the routing scope retried when the ingress scope
// yields a route without an interface.
// Defaults to the default scope if not set.
func (t TranslationConfig) GetOutsideScope() uint32 {
	if t.OutsideScope == nil {
		return t.GetDefaultScope()
	}
	return *t.OutsideScope
}

// GetMaxMappings returns the number of counter slots.
// Defaults to 65536 if not set.
func (t TranslationConfig) GetMaxMappings() int {
	if t.MaxMappings <= 0 {
		return 65536
	}
	return t.MaxMappings
}

// GetRouteRefresh parses and returns the periodic route resync interval.
// Defaults to 30s if not set or invalid.
func (t TranslationConfig) GetRouteRefresh() time.Duration {
	if t.RouteRefresh == "" {
		return 30 * time.Second
	}
	duration, err := time.ParseDuration(t.RouteRefresh)
	if err != nil || duration <= 0 {
		return 30 * time.Second
	}
	return duration
}

// TraceConfig controls sampled packet tracing.
type TraceConfig struct {
	Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
	Rate    float64 `yaml:"rate"    mapstructure:"rate"`
	Burst   int     `yaml:"burst"   mapstructure:"burst"`
}

// GetRate returns the number of traced packets per second per worker.
// Defaults to 10 if not set.
func (t TraceConfig) GetRate() float64 {
	if t.Rate <= 0 {
		return 10
	}
	return t.Rate
}

// GetBurst returns the trace burst size.
// Defaults to 1 if not set.
func (t TraceConfig) GetBurst() int {
	if t.Burst <= 0 {
		return 1
	}
	return t.Burst
}

// InterfaceConfig registers an interface in the roster.
type InterfaceConfig struct {
	Name  string  `yaml:"name"  mapstructure:"name"`
	Role  string  `yaml:"role"  mapstructure:"role"`
	Scope *uint32 `yaml:"scope" mapstructure:"scope"`
}

// GetScope returns the interface routing scope, or def when unset.
func (i InterfaceConfig) GetScope(def uint32) uint32 {
	if i.Scope == nil {
		return def
	}
	return *i.Scope
}

// MappingConfig defines a static inside to outside address pair.
type MappingConfig struct {
	Inside  string  `yaml:"inside"  mapstructure:"inside"`
	Outside string  `yaml:"outside" mapstructure:"outside"`
	Scope   *uint32 `yaml:"scope"   mapstructure:"scope"`
}

// GetScope returns the mapping routing scope, or def when unset.
func (m MappingConfig) GetScope(def uint32) uint32 {
	if m.Scope == nil {
		return def
	}
	return *m.Scope
}

// validRoles is the set of supported interface roles.
var validRoles = map[string]bool{
	"inside":  true,
	"outside": true,
}

// Manager handles configuration loading, validation, and hot-reload.
type Manager struct {
	viper      *viper.Viper
	configPath string
	current    *Config
	mu         sync.RWMutex
	onChange   chan struct{}
	logger     *zap.Logger
}

// NewManager creates a config Manager, loads and validates the initial configuration.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(configPath)

	viperInstance.SetDefault("global.log_level", "info")
	viperInstance.SetDefault("global.metrics_listen", "[::]:9366")

	manager := &Manager{
		viper:      viperInstance,
		configPath: configPath,
		onChange:   make(chan struct{}, 1),
		logger:     logger,
	}

	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	manager.current = cfg

	return manager, nil
}

// Load reads the config file, unmarshals it, and validates.
func (m *Manager) Load() (*Config, error) {
	if err := m.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for correctness.
func Validate(cfg *Config) error {
	if cfg.Translation.RouteRefresh != "" {
		if _, err := time.ParseDuration(cfg.Translation.RouteRefresh); err != nil {
			return fmt.Errorf("invalid translation.route_refresh %q: %w", cfg.Translation.RouteRefresh, err)
		}
	}
	if cfg.Dataplane.QueueBase < 0 || cfg.Dataplane.QueueBase > 65535 {
		return fmt.Errorf("dataplane.queue_base must be between 0 and 65535")
	}
	queues := cfg.Dataplane.GetWorkers()
	if cfg.Dataplane.IsOut2InEnabled() {
		queues *= 2
	}
	if int(cfg.Dataplane.GetQueueBase())+queues-1 > 65535 {
		return fmt.Errorf("dataplane: %d queues starting at %d exceed the queue number range", queues, cfg.Dataplane.GetQueueBase())
	}

	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("at least one interface must be defined")
	}

	defaultScope := cfg.Translation.GetDefaultScope()
	nameSet := make(map[string]bool)
	hasOutside := false
	for i, ifc := range cfg.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface[%d]: name is required", i)
		}
		if nameSet[ifc.Name] {
			return fmt.Errorf("interface[%d]: duplicate interface name %q", i, ifc.Name)
		}
		nameSet[ifc.Name] = true

		if !validRoles[ifc.Role] {
			return fmt.Errorf("interface %q: unsupported role %q (supported: inside, outside)", ifc.Name, ifc.Role)
		}
		if ifc.Role == "outside" {
			hasOutside = true
		}
	}
	if !hasOutside {
		return fmt.Errorf("at least one outside interface must be defined")
	}

	if len(cfg.Mappings) > cfg.Translation.GetMaxMappings() {
		return fmt.Errorf("%d mappings exceed translation.max_mappings %d", len(cfg.Mappings), cfg.Translation.GetMaxMappings())
	}

	type scopedAddr struct {
		addr  netip.Addr
		scope uint32
	}
	insideSet := make(map[scopedAddr]bool)
	outsideSet := make(map[scopedAddr]bool)
	for i, mp := range cfg.Mappings {
		inside, err := parseIPv6(mp.Inside)
		if err != nil {
			return fmt.Errorf("mapping[%d]: invalid inside address: %w", i, err)
		}
		outside, err := parseIPv6(mp.Outside)
		if err != nil {
			return fmt.Errorf("mapping[%d]: invalid outside address: %w", i, err)
		}
		if inside == outside {
			return fmt.Errorf("mapping[%d]: inside and outside address are both %s", i, inside)
		}

		scope := mp.GetScope(defaultScope)
		if insideSet[scopedAddr{inside, scope}] {
			return fmt.Errorf("mapping[%d]: duplicate inside address %s in scope %d", i, inside, scope)
		}
		insideSet[scopedAddr{inside, scope}] = true
		if outsideSet[scopedAddr{outside, scope}] {
			return fmt.Errorf("mapping[%d]: duplicate outside address %s in scope %d", i, outside, scope)
		}
		outsideSet[scopedAddr{outside, scope}] = true
	}

	return nil
}

// parseIPv6 parses an IPv6 address, rejecting IPv4 and IPv4-mapped forms.
func parseIPv6(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv6 address", s)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%s must not carry a zone", s)
	}
	return addr, nil
}

// WatchConfig starts watching the config file for changes.
// On change, it reloads and validates; if valid, updates current config and notifies via onChange channel.
func (m *Manager) WatchConfig() {
	m.viper.OnConfigChange(func(event fsnotify.Event) {
		m.logger.Info("config file changed", zap.String("file", event.Name))

		cfg, err := m.Load()
		if err != nil {
			m.logger.Error("failed to reload config, keeping previous config", zap.Error(err))
			return
		}

		m.mu.Lock()
		m.current = cfg
		m.mu.Unlock()

		m.logger.Info("config reloaded successfully")

		select {
		case m.onChange <- struct{}{}:
		default:
		}
	})

	m.viper.WatchConfig()
}

// GetConfig returns a snapshot of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange returns a read-only channel that signals when config has changed.
func (m *Manager) OnChange() <-chan struct{} {
	return m.onChange
}
