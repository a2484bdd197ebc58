/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/vorteil/vmtoolsd"
	"github.com/vorteil/vmtoolsd/pkg/exporter"
)

// Config mirrors the command-line flags so a deployment can pin its agent
// settings in a file instead of a unit's ExecStart line.
type Config struct {
	InterfaceCount int    `yaml:"interfaceCount"`
	Hostname       string `yaml:"hostname"`
	MetricsAddr    string `yaml:"metricsAddr"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{InterfaceCount: 1, MetricsAddr: ":18080"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// osHooks implements vmtoolsd.Hooks against the real host OS. Reboot and
// shutdown shell out to the standard init-system entry points rather than
// calling syscall.Reboot directly, so the agent works the same whether PID 1
// is systemd, OpenRC or something else entirely.
type osHooks struct{}

func (osHooks) UptimeForTools() int {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	var seconds float64
	if _, err := fmt.Sscanf(string(data), "%f", &seconds); err != nil {
		return 0
	}
	return int(seconds)
}

func (osHooks) ShutdownForTools() {
	if err := exec.Command("poweroff").Run(); err != nil {
		logrus.Errorf("poweroff failed: %v", err)
	}
}

func (osHooks) RebootForTools() {
	if err := exec.Command("reboot").Run(); err != nil {
		logrus.Errorf("reboot failed: %v", err)
	}
}

func (osHooks) ErrPrint(msg string) {
	logrus.Error(msg)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	interfaceCount := flag.Int("interfaces", 0, "number of NICs to report (overrides config)")
	hostname := flag.String("hostname", "", "hostname to report to the host (overrides config, defaults to os.Hostname)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("loading config: %v", err)
	}
	if *interfaceCount > 0 {
		cfg.InterfaceCount = *interfaceCount
	}
	if *hostname != "" {
		cfg.Hostname = *hostname
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			logrus.Fatalf("determining hostname: %v", err)
		}
		cfg.Hostname = h
	}

	agent, err := vmtoolsd.New(cfg.InterfaceCount, cfg.Hostname, osHooks{})
	if err != nil {
		logrus.Fatalf("creating agent: %v", err)
	}
	agent.Run()

	exp := exporter.NewAgentCollector(
		agent,
		prometheus.Labels{
			"app":      "vmtoolsd",
			"hostname": cfg.Hostname,
		},
	)
	prometheus.MustRegister(exp)

	http.Handle("/metrics", promhttp.Handler())
	logrus.Infof("serving metrics on %s", cfg.MetricsAddr)
	logrus.Fatal(http.ListenAndServe(cfg.MetricsAddr, nil))
}
