// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/perfevent/internal/pmc"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	// Rapl configures the RAPL: event backend
	Rapl struct {
		Enabled *bool  `yaml:"enabled"`
		MSRPath string `yaml:"msrPath"` // printf template taking the cpu number
	}

	// Coordinator pauses the counters while another process holds LockFile
	Coordinator struct {
		Enabled  *bool         `yaml:"enabled"`
		LockFile string        `yaml:"lockFile"`
		Interval time.Duration `yaml:"interval"`
	}

	// Counters is the counter configuration tree, either inline or read from File
	Counters struct {
		File              string `yaml:"file"`
		pmc.Configuration `yaml:",inline"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
		MetricsLevel    Level    `yaml:"metricsLevel"`
	}

	// MCPExporter answers Model Context Protocol tool calls about the counters
	MCPExporter struct {
		Enabled   *bool  `yaml:"enabled"`
		Transport string `yaml:"transport"` // stdio, sse or streamable
		Path      string `yaml:"path"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
		MCP        MCPExporter        `yaml:"mcp"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		Rapl        Rapl        `yaml:"rapl"`
		Coordinator Coordinator `yaml:"coordinator"`
		Counters    Counters    `yaml:"counters"`
		Exporter    Exporter    `yaml:"exporter"`
		Web         Web         `yaml:"web"`
		Debug       Debug       `yaml:"debug"`
	}
)

// MetricsLevelValue is a custom kingpin.Value that parses metrics levels directly into metrics.Level
type MetricsLevelValue struct {
	level *Level
}

// NewMetricsLevelValue creates a new MetricsLevelValue with the given target
func NewMetricsLevelValue(target *Level) *MetricsLevelValue {
	return &MetricsLevelValue{level: target}
}

// Set implements kingpin.Value interface - parses and accumulates metrics levels
func (m *MetricsLevelValue) Set(value string) error {
	level, err := ParseLevel([]string{value})
	if err != nil {
		return err
	}

	// the first value replaces the default
	if *m.level == MetricsLevelAll {
		*m.level = 0
	}
	*m.level |= level
	return nil
}

// String implements kingpin.Value interface
func (m *MetricsLevelValue) String() string {
	return m.level.String()
}

// IsCumulative implements kingpin.Value interface to support multiple values
func (m *MetricsLevelValue) IsCumulative() bool {
	return true
}

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

// DefaultListenAddress is where the web server listens unless configured
const DefaultListenAddress = ":28283"

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	RaplEnabledFlag = "rapl.enabled"
	RaplMSRPathFlag = "rapl.msr-path"

	CoordinatorEnabledFlag  = "coordinator.enabled"
	CoordinatorLockFileFlag = "coordinator.lock-file"
	CoordinatorIntervalFlag = "coordinator.interval"

	CountersFileFlag = "counters.file"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag  = "exporter.stdout"
	ExporterStdoutIntervalFlag = "exporter.stdout.interval"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
	ExporterPrometheusMetricsFlag     = "metrics"

	ExporterMCPEnabledFlag   = "exporter.mcp"
	ExporterMCPTransportFlag = "exporter.mcp.transport"
)

// defaultCounters counts the generic events on every CPU and the package
// and DRAM energy once per node
func defaultCounters() pmc.Configuration {
	each := func(name string) pmc.Setting {
		return pmc.Setting{Name: name, CPU: pmc.EachCPU, Scale: 1}
	}
	perNode := func(name string) pmc.Setting {
		return pmc.Setting{Name: name, CPU: pmc.EachNUMANode, Scale: 1}
	}

	return pmc.Configuration{
		Entries: []pmc.Entry{{
			PMUTypes: []string{"perf"},
			Settings: []pmc.Setting{
				each("cpu-cycles"),
				each("instructions"),
				each("cache-references"),
				each("cache-misses"),
				each("branch-misses"),
				perNode("RAPL:PKG_ENERGY"),
				perNode("RAPL:DRAM_ENERGY"),
			},
		}},
		Derived: []pmc.Derived{{
			Name: "cache-hits",
			SettingLists: [][]pmc.Setting{{
				each("cache-references"),
				{Name: "cache-misses", CPU: pmc.EachCPU, Scale: -1},
			}},
		}},
	}
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Rapl: Rapl{
			Enabled: ptr.To(true),
			MSRPath: "/dev/cpu/%d/msr",
		},
		Coordinator: Coordinator{
			Enabled:  ptr.To(true),
			LockFile: "/var/run/perfevent/perflock",
			Interval: 100 * time.Millisecond,
		},
		Counters: Counters{
			Configuration: defaultCounters(),
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 5 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
				MetricsLevel:    MetricsLevelAll,
			},
			MCP: MCPExporter{
				Enabled:   ptr.To(false),
				Transport: "streamable",
				Path:      "/mcp",
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var errRet error
	defer func() {
		err = file.Close()
		if err != nil && errRet == nil {
			errRet = err
		}
	}()

	cfg, errRet := Load(file)

	return cfg, errRet
}

// CounterConfiguration returns the counter tree to program: the contents of
// counters.file when set, the inline tree otherwise
func (c *Config) CounterConfiguration() (*pmc.Configuration, error) {
	if c.Counters.File != "" {
		return pmc.FromFile(c.Counters.File)
	}
	tree := c.Counters.Configuration
	return &tree, nil
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	// rapl
	raplEnabled := app.Flag(RaplEnabledFlag, "Serve RAPL: events from the msr driver").Default("true").Bool()
	raplMSRPath := app.Flag(RaplMSRPathFlag, "msr device path, %d is replaced by the cpu number").Default("/dev/cpu/%d/msr").String()

	// coordinator
	coordinatorEnabled := app.Flag(CoordinatorEnabledFlag, "Pause counters while the lock file is held").Default("true").Bool()
	coordinatorLockFile := app.Flag(CoordinatorLockFileFlag, "Advisory lock file taken by exclusive counter users").Default("/var/run/perfevent/perflock").String()
	coordinatorInterval := app.Flag(CoordinatorIntervalFlag, "Lock polling interval").Default("100ms").Duration()

	countersFile := app.Flag(CountersFileFlag, "Counter configuration file; replaces the counters section of the config").Default("").String()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultListenAddress).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	stdoutExporterInterval := app.Flag(ExporterStdoutIntervalFlag, "Interval between stdout tables").Default("5s").Duration()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	metricsLevel := MetricsLevelAll
	app.Flag(ExporterPrometheusMetricsFlag, "Metric groups to export (counters,derived,duty-cycle)").SetValue(NewMetricsLevelValue(&metricsLevel))

	mcpExporterEnabled := app.Flag(ExporterMCPEnabledFlag, "Enable the MCP tool server").Default("false").Bool()
	mcpExporterTransport := app.Flag(ExporterMCPTransportFlag, "MCP transport: stdio, sse or streamable").Default("streamable").Enum("stdio", "sse", "streamable")

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[RaplEnabledFlag] {
			cfg.Rapl.Enabled = raplEnabled
		}
		if flagsSet[RaplMSRPathFlag] {
			cfg.Rapl.MSRPath = *raplMSRPath
		}

		if flagsSet[CoordinatorEnabledFlag] {
			cfg.Coordinator.Enabled = coordinatorEnabled
		}
		if flagsSet[CoordinatorLockFileFlag] {
			cfg.Coordinator.LockFile = *coordinatorLockFile
		}
		if flagsSet[CoordinatorIntervalFlag] {
			cfg.Coordinator.Interval = *coordinatorInterval
		}

		if flagsSet[CountersFileFlag] {
			cfg.Counters.File = *countersFile
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterStdoutIntervalFlag] {
			cfg.Exporter.Stdout.Interval = *stdoutExporterInterval
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		if flagsSet[ExporterPrometheusMetricsFlag] {
			cfg.Exporter.Prometheus.MetricsLevel = metricsLevel
		}

		if flagsSet[ExporterMCPEnabledFlag] {
			cfg.Exporter.MCP.Enabled = mcpExporterEnabled
		}
		if flagsSet[ExporterMCPTransportFlag] {
			cfg.Exporter.MCP.Transport = *mcpExporterTransport
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.Rapl.MSRPath = strings.TrimSpace(c.Rapl.MSRPath)
	c.Coordinator.LockFile = strings.TrimSpace(c.Coordinator.LockFile)
	c.Counters.File = strings.TrimSpace(c.Counters.File)
	c.Counters.Sanitize()
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	c.Exporter.MCP.Transport = strings.TrimSpace(c.Exporter.MCP.Transport)
	c.Exporter.MCP.Path = strings.TrimSpace(c.Exporter.MCP.Path)

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // RAPL
		if ptr.Deref(c.Rapl.Enabled, false) && !strings.Contains(c.Rapl.MSRPath, "%d") {
			errs = append(errs, fmt.Sprintf("invalid msr path %q: must contain %%d", c.Rapl.MSRPath))
		}
	}
	{ // Coordinator
		if ptr.Deref(c.Coordinator.Enabled, false) {
			if c.Coordinator.LockFile == "" {
				errs = append(errs, "coordinator lock file cannot be empty")
			}
			if c.Coordinator.Interval <= 0 {
				errs = append(errs, fmt.Sprintf("invalid coordinator interval: %s must be positive", c.Coordinator.Interval))
			}
		}
	}
	{ // Counters
		if c.Counters.File != "" {
			if err := canReadFile(c.Counters.File); err != nil {
				errs = append(errs, fmt.Sprintf("invalid counters file. path: %q: %s", c.Counters.File, err.Error()))
			}
		} else {
			if len(c.Counters.Entries) == 0 && c.Counters.Dynamic == nil {
				errs = append(errs, "no counters configured")
			}
			if err := c.Counters.Validate(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Exporters
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
		if ptr.Deref(c.Exporter.MCP.Enabled, false) {
			switch c.Exporter.MCP.Transport {
			case "stdio":
				if ptr.Deref(c.Exporter.Stdout.Enabled, false) {
					errs = append(errs, "mcp stdio transport cannot be used with the stdout exporter")
				}
			case "sse", "streamable":
				if !strings.HasPrefix(c.Exporter.MCP.Path, "/") {
					errs = append(errs, fmt.Sprintf("invalid mcp path %q: must start with /", c.Exporter.MCP.Path))
				}
			default:
				errs = append(errs, fmt.Sprintf("invalid mcp transport: %s", c.Exporter.MCP.Transport))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// host can be empty for listening on all interfaces
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{RaplEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Rapl.Enabled, false))},
		{RaplMSRPathFlag, c.Rapl.MSRPath},
		{CoordinatorEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Coordinator.Enabled, false))},
		{CoordinatorLockFileFlag, c.Coordinator.LockFile},
		{CoordinatorIntervalFlag, c.Coordinator.Interval.String()},
		{CountersFileFlag, c.Counters.File},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutIntervalFlag, c.Exporter.Stdout.Interval.String()},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterPrometheusMetricsFlag, c.Exporter.Prometheus.MetricsLevel.String()},
		{ExporterMCPEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.MCP.Enabled, false))},
		{ExporterMCPTransportFlag, c.Exporter.MCP.Transport},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
