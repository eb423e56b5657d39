// Package transform converts validated Singer records into directory
// entries using per-stream DN templates, attribute mappings and object
// class sets.
package transform

import (
	"ldapsink/config"
	"ldapsink/singer"
)

// StreamContext holds everything known about one stream: its latest
// schema, key properties, and its resolved configuration profile. One
// context exists per stream name; it is created on the stream's first
// SCHEMA message and updated in place on subsequent ones.
type StreamContext struct {
	Name          string
	Schema        map[string]any
	KeyProperties []string
	Profile       config.StreamConfig
}

// NewStreamContext builds the context for a stream's first SCHEMA message.
func NewStreamContext(msg *singer.SchemaMessage, profile config.StreamConfig) *StreamContext {
	ctx := &StreamContext{
		Name:    msg.Stream,
		Profile: profile,
	}
	ctx.ApplySchema(msg)
	return ctx
}

// ApplySchema merges a subsequent SCHEMA message into the context. The
// schema is replaced wholesale; key properties are only replaced when the
// new message declares them, so a bare re-declaration cannot erase them.
func (c *StreamContext) ApplySchema(msg *singer.SchemaMessage) {
	c.Schema = msg.Schema
	if len(msg.KeyProperties) > 0 {
		c.KeyProperties = msg.KeyProperties
	}
}

// RDNAttribute resolves the attribute used to form the RDN: the first key
// property when declared, otherwise the profile's configured attribute.
func (c *StreamContext) RDNAttribute() string {
	if len(c.KeyProperties) > 0 {
		return c.KeyProperties[0]
	}
	return c.Profile.RDNAttribute
}

// Tier returns the stream's dependency tier.
func (c *StreamContext) Tier() int { return c.Profile.TierValue() }
