// Package config loads the process-wide settings listed in spec.md §6.5:
// the two IPC listen addresses, the platform-wide buffer admission cap,
// and the default shared-memory region/page sizes a newly connected
// producer is offered.
//
// Config is declarative, load-on-start state, not a traced component: it
// has no hot path. The one exception is MaxTotalBufferMB, which
// Watch can hot-reload from a bootstrap file into a Cap without a restart.
// cmd/tracesvc reads the Cap once, when it sizes the controller's budget,
// so a reloaded value does not change admission in a running process.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the process-wide settings loaded at startup.
type Config struct {
	ListenAddrProducer string
	ListenAddrConsumer string

	MaxTotalBufferMB int64

	DefaultShmemSizeKB     int64
	DefaultShmemPageSizeKB int64
}

const (
	envListenAddrProducer = "LISTEN_ADDR_PRODUCER"
	envListenAddrConsumer = "LISTEN_ADDR_CONSUMER"
	envMaxTotalBufferMB   = "MAX_TOTAL_BUFFER_MB"
	envDefaultShmemSizeKB = "DEFAULT_SHMEM_SIZE_KB"
	envDefaultShmemPageKB = "DEFAULT_SHMEM_PAGE_SIZE_KB"
)

const (
	defaultListenAddrProducer = "127.0.0.1:4771"
	defaultListenAddrConsumer = "127.0.0.1:4772"
	defaultMaxTotalBufferMB   = 512
	defaultShmemSizeKB        = 4096
	defaultShmemPageSizeKB    = 64
)

// Load builds a Config from the environment, then overlays any key=value
// pairs found in bootstrapPath (ignored if bootstrapPath is empty or the
// file does not exist — the bootstrap file is optional, "load if present").
func Load(bootstrapPath string) (Config, error) {
	cfg := Config{
		ListenAddrProducer:     defaultListenAddrProducer,
		ListenAddrConsumer:     defaultListenAddrConsumer,
		MaxTotalBufferMB:       defaultMaxTotalBufferMB,
		DefaultShmemSizeKB:     defaultShmemSizeKB,
		DefaultShmemPageSizeKB: defaultShmemPageSizeKB,
	}

	applyEnv(&cfg)

	if bootstrapPath != "" {
		kv, err := readBootstrapFile(bootstrapPath)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return Config{}, fmt.Errorf("config: read bootstrap file: %w", err)
		}
		if err := applyKV(&cfg, kv); err != nil {
			return Config{}, fmt.Errorf("config: bootstrap file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a config that would fail admission control or IPC bind
// by construction (spec.md §6.5's exit code 64, config error).
func (c Config) Validate() error {
	if c.ListenAddrProducer == "" || c.ListenAddrConsumer == "" {
		return fmt.Errorf("config: listen addresses must not be empty")
	}
	if c.MaxTotalBufferMB <= 0 {
		return fmt.Errorf("config: %s must be positive, got %d", envMaxTotalBufferMB, c.MaxTotalBufferMB)
	}
	if c.DefaultShmemSizeKB <= 0 || c.DefaultShmemPageSizeKB <= 0 {
		return fmt.Errorf("config: shared memory sizes must be positive")
	}
	if c.DefaultShmemSizeKB < c.DefaultShmemPageSizeKB {
		return fmt.Errorf("config: %s (%d) smaller than %s (%d)",
			envDefaultShmemSizeKB, c.DefaultShmemSizeKB, envDefaultShmemPageKB, c.DefaultShmemPageSizeKB)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddrProducer); v != "" {
		cfg.ListenAddrProducer = v
	}
	if v := os.Getenv(envListenAddrConsumer); v != "" {
		cfg.ListenAddrConsumer = v
	}
	if v, ok := getenvInt64(envMaxTotalBufferMB); ok {
		cfg.MaxTotalBufferMB = v
	}
	if v, ok := getenvInt64(envDefaultShmemSizeKB); ok {
		cfg.DefaultShmemSizeKB = v
	}
	if v, ok := getenvInt64(envDefaultShmemPageKB); ok {
		cfg.DefaultShmemPageSizeKB = v
	}
}

func getenvInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// readBootstrapFile parses a minimal key=value file, one setting per line,
// blank lines and "#"-prefixed comments ignored. There is no TOML/YAML
// dependency in the pack grounded closely enough to this domain's tiny
// settings surface to justify pulling one in for five scalar fields.
func readBootstrapFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}

func applyKV(cfg *Config, kv map[string]string) error {
	for key, value := range kv {
		switch key {
		case envListenAddrProducer:
			cfg.ListenAddrProducer = value
		case envListenAddrConsumer:
			cfg.ListenAddrConsumer = value
		case envMaxTotalBufferMB:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			cfg.MaxTotalBufferMB = v
		case envDefaultShmemSizeKB:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			cfg.DefaultShmemSizeKB = v
		case envDefaultShmemPageKB:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			cfg.DefaultShmemPageSizeKB = v
		default:
			// Unknown keys are ignored rather than rejected, so a bootstrap
			// file shared across future settings doesn't break this binary.
		}
	}
	return nil
}
