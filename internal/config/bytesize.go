package config

import (
	"fmt"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that reads human strings such as "90MB" or
// "300MiB". Units are binary: 1MB is 1024*1024 bytes, matching git hosts'
// own limits.
type ByteSize int64

// ParseByteSize parses a human size string.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

// String formats the size for flag defaults and messages.
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Set implements pflag.Value.
func (b *ByteSize) Set(value string) error {
	n, err := ParseByteSize(value)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

// Type implements pflag.Value.
func (b *ByteSize) Type() string { return "size" }

// UnmarshalYAML accepts both plain integers and human strings.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = n
	return nil
}
