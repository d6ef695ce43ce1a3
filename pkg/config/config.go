// Package config holds the immutable tunables of a peerkit node.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the set of tunables recognized by a Node. It is immutable after
// the Node it describes has been constructed.
type Config struct {
	// Name is the node's identifier. A process-wide monotonic counter
	// supplies one when left empty.
	Name string `yaml:"Name"`

	// DesiredPort is the listening port the node would prefer to bind.
	// A zero value means "let the OS pick", subject to AllowRandomPort.
	DesiredPort uint16 `yaml:"DesiredPort"`

	// AllowRandomPort permits falling back to an OS-assigned port when
	// DesiredPort is unset or unavailable.
	AllowRandomPort bool `yaml:"AllowRandomPort"`

	// MaxConnections bounds the number of connections (connecting and
	// connected combined) the node will maintain.
	MaxConnections uint16 `yaml:"MaxConnections"`

	// ConnReadBufferBytes sizes the per-connection read buffer.
	ConnReadBufferBytes int `yaml:"ConnReadBufferBytes"`

	// ConnWriteBufferBytes sizes the per-connection write buffer.
	ConnWriteBufferBytes int `yaml:"ConnWriteBufferBytes"`

	// InboundQueueDepth bounds the number of parsed-but-unprocessed
	// messages buffered per connection between the reader and the
	// message-handler consumer task.
	InboundQueueDepth int `yaml:"InboundQueueDepth"`

	// OutboundQueueDepth bounds the number of serialized payloads
	// buffered per connection ahead of the writer task.
	OutboundQueueDepth int `yaml:"OutboundQueueDepth"`

	// ReadingHandlerQueueDepth is not read by the toolkit: a connection's
	// reading task starts directly when it is promoted, with no queue in
	// front of that startup.
	ReadingHandlerQueueDepth int `yaml:"ReadingHandlerQueueDepth"`

	// WritingHandlerQueueDepth is not read by the toolkit: a connection's
	// writing task starts directly when it is promoted, with no queue in
	// front of that startup.
	WritingHandlerQueueDepth int `yaml:"WritingHandlerQueueDepth"`

	// InvalidMessagePenalty is the pause a reader task takes after its
	// codec rejects a frame as malformed.
	InvalidMessagePenalty time.Duration `yaml:"InvalidMessagePenalty"`

	// MaxAllowedFailures is a convenience threshold for maintenance
	// hooks that disconnect peers with too many registered failures;
	// the toolkit itself never reads this field.
	MaxAllowedFailures uint16 `yaml:"MaxAllowedFailures"`

	Logger Logger `yaml:"Logger"`
}

// Default returns a Config with the same defaults the teacher ecosystem's
// node configurations use for comparable knobs: generous buffers, modest
// queue depths, and a random listening port.
func Default() Config {
	return Config{
		AllowRandomPort:          true,
		MaxConnections:           100,
		ConnReadBufferBytes:      64 * 1024,
		ConnWriteBufferBytes:     64 * 1024,
		InboundQueueDepth:        256,
		OutboundQueueDepth:       16,
		ReadingHandlerQueueDepth: 16,
		WritingHandlerQueueDepth: 16,
		InvalidMessagePenalty:    10 * time.Second,
		MaxAllowedFailures:       0,
	}
}

// Validate reports a ConfigError-class problem with the configuration that
// can be detected without attempting to bind a socket.
func (c Config) Validate() error {
	if c.DesiredPort == 0 && !c.AllowRandomPort {
		return fmt.Errorf("config: no DesiredPort given and AllowRandomPort is false")
	}
	if c.MaxConnections == 0 {
		return fmt.Errorf("config: MaxConnections must be greater than zero")
	}
	return c.Logger.Validate()
}

// LoadFile reads a YAML-encoded Config from path, applying Default() for
// any field the file doesn't set (by unmarshaling on top of it).
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
