package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ayusman/glimmer/internal/metric"
)

// Endpoint kinds.
const (
	KindTCP  = "tcp"
	KindUDP  = "udp"
	KindHTTP = "http"
	KindTTY  = "tty"
	KindPipe = "pipe"
)

// EndpointConfig describes one physical output.
type EndpointConfig struct {
	Kind      string        `yaml:"kind"`
	Address   string        `yaml:"address"`
	ByteOrder string        `yaml:"byte_order"`
	Baud      int           `yaml:"baud"`
	Command   []string      `yaml:"command"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Name returns a stable label such as "tcp://lights.local:7890".
func (c EndpointConfig) Name() string {
	if c.Kind == KindPipe && len(c.Command) > 0 {
		return c.Kind + "://" + c.Command[0]
	}
	if c.Kind == KindHTTP {
		return c.Address
	}
	return c.Kind + "://" + c.Address
}

// Validate checks that the fields required by Kind are present.
func (c EndpointConfig) Validate() error {
	if _, err := ParseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	switch c.Kind {
	case KindTCP, KindUDP, KindHTTP, KindTTY:
		if c.Address == "" {
			return fmt.Errorf("%s endpoint: address is required", c.Kind)
		}
	case KindPipe:
		if len(c.Command) == 0 {
			return fmt.Errorf("pipe endpoint: command is required")
		}
	default:
		return fmt.Errorf("unknown endpoint kind %q", c.Kind)
	}
	return nil
}

// BackoffSettings are shared by every endpoint built by NewEndpoints.
type BackoffSettings struct {
	Start time.Duration `yaml:"start"`
	Max   time.Duration `yaml:"max"`
}

// NewClient builds the protocol client for cfg.
func NewClient(cfg EndpointConfig, logger *slog.Logger) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindTCP:
		return NewTCPClient(cfg.Address), nil
	case KindUDP:
		return NewUDPClient(cfg.Address), nil
	case KindHTTP:
		return NewHTTPClient(cfg.Address, cfg.Timeout), nil
	case KindTTY:
		return NewTTYClient(cfg.Address, cfg.Baud), nil
	default:
		return NewPipeClient(cfg.Command, logger), nil
	}
}

// NewEndpoints builds one ByteOrderAdapter(Backoff(client)) per config and
// combines them.
func NewEndpoints(cfgs []EndpointConfig, settings BackoffSettings, logger *slog.Logger, metrics *metric.Metrics) (*Combined, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make([]Sink, 0, len(cfgs))
	for i, cfg := range cfgs {
		client, err := NewClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		order, _ := ParseByteOrder(cfg.ByteOrder)
		b := NewBackoff(client, BackoffConfig{
			Name:    cfg.Name(),
			Start:   settings.Start,
			Max:     settings.Max,
			Timeout: cfg.Timeout,
			Logger:  logger,
			Metrics: metrics,
		})
		sinks = append(sinks, NewByteOrderAdapter(b, order))
		logger.Info("light endpoint configured", "endpoint", cfg.Name(), "byte_order", order.String())
	}
	return NewCombined(sinks...), nil
}
