package sshstats

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"kvmbridge/internal/core/domain"
)

// Config describes the SSH endpoint on the device.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Port:     22,
		Username: "root",
		Timeout:  10 * time.Second,
	}
}

// Collector gathers OS-level metrics from the device over SSH. The
// underlying connection is kept open between cycles and redialed lazily
// when it has gone away.
type Collector struct {
	cfg Config

	mu     sync.Mutex
	client *ssh.Client
}

func NewCollector(cfg Config) *Collector {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Username == "" {
		cfg.Username = "root"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Collector{cfg: cfg}
}

// Collect runs the metric commands over one SSH connection and parses
// the output. Any command or parse failure fails the whole collection;
// the caller decides whether stale values are acceptable.
func (c *Collector) Collect(ctx context.Context) (domain.OSMetrics, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return domain.OSMetrics{}, err
	}

	uptimeRaw, err := c.run(client, "cat /proc/uptime")
	if err != nil {
		c.dropConnection()
		return domain.OSMetrics{}, err
	}
	meminfoRaw, err := c.run(client, "cat /proc/meminfo")
	if err != nil {
		c.dropConnection()
		return domain.OSMetrics{}, err
	}
	dfRaw, err := c.run(client, "df -k /")
	if err != nil {
		c.dropConnection()
		return domain.OSMetrics{}, err
	}

	var metrics domain.OSMetrics
	bootTime, err := ParseUptime(uptimeRaw, time.Now())
	if err != nil {
		return domain.OSMetrics{}, err
	}
	metrics.BootTime = bootTime

	metrics.MemoryTotalMB, metrics.MemoryUsedPercent, err = ParseMeminfo(meminfoRaw)
	if err != nil {
		return domain.OSMetrics{}, err
	}

	metrics.StorageTotalMB, metrics.StorageUsedPercent, err = ParseDiskFree(dfRaw)
	if err != nil {
		return domain.OSMetrics{}, err
	}

	return metrics, nil
}

// Disconnect closes the cached SSH connection if one is open.
func (c *Collector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Collector) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	sshCfg := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return c.client, nil
}

func (c *Collector) run(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.Output(command)
	if err != nil {
		return "", fmt.Errorf("ssh command %q: %w", command, err)
	}
	return string(out), nil
}

func (c *Collector) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// ParseUptime converts /proc/uptime output into the boot time relative
// to now.
func ParseUptime(raw string, now time.Time) (time.Time, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("malformed uptime output: %q", raw)
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed uptime output: %q", raw)
	}
	return now.Add(-time.Duration(seconds * float64(time.Second))), nil
}

// ParseMeminfo extracts total memory in MB and the used percentage from
// /proc/meminfo output. Values are in kB on the wire.
func ParseMeminfo(raw string) (totalMB, usedPercent float64, err error) {
	values := map[string]int64{}
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, convErr := strconv.ParseInt(fields[1], 10, 64)
		if convErr != nil {
			continue
		}
		values[strings.TrimSuffix(fields[0], ":")] = kb
	}

	totalKB, ok := values["MemTotal"]
	if !ok || totalKB <= 0 {
		return 0, 0, fmt.Errorf("meminfo output missing MemTotal")
	}
	freeKB, ok := values["MemFree"]
	if !ok {
		return 0, 0, fmt.Errorf("meminfo output missing MemFree")
	}

	totalMB = round2(float64(totalKB) / 1024)
	freeMB := round2(float64(freeKB) / 1024)
	usedPercent = round2((totalMB - freeMB) / totalMB * 100)
	return totalMB, usedPercent, nil
}

// ParseDiskFree extracts root filesystem totals from `df -k /` output.
func ParseDiskFree(raw string) (totalMB, usedPercent float64, err error) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("malformed df output: %q", raw)
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return 0, 0, fmt.Errorf("malformed df output: %q", raw)
	}

	totalKB, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || totalKB <= 0 {
		return 0, 0, fmt.Errorf("malformed df output: %q", raw)
	}
	usedKB, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed df output: %q", raw)
	}

	totalMB = round2(float64(totalKB) / 1024)
	usedMB := round2(float64(usedKB) / 1024)
	usedPercent = round2(usedMB / totalMB * 100)
	return totalMB, usedPercent, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
