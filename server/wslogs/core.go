package wslogs

import (
	"go.uber.org/zap/zapcore"
)

// WebSocketCore is a zap core that appends entries to a Batcher. Tee it
// with the console core to mirror daemon logs to live clients:
//
//	core := zapcore.NewTee(base.Core(), wslogs.NewWebSocketCore(zap.InfoLevel, batcher))
type WebSocketCore struct {
	zapcore.LevelEnabler
	batcher *Batcher
	fields  []zapcore.Field
}

// NewWebSocketCore creates a core writing to batcher at or above level
func NewWebSocketCore(level zapcore.LevelEnabler, batcher *Batcher) *WebSocketCore {
	return &WebSocketCore{LevelEnabler: level, batcher: batcher}
}

// With returns a core carrying the accumulated fields of a child logger.
func (c *WebSocketCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &WebSocketCore{LevelEnabler: c.LevelEnabler, batcher: c.batcher, fields: merged}
}

// Check implements zapcore.Core
func (c *WebSocketCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write implements zapcore.Core
func (c *WebSocketCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) || c.batcher == nil {
		return nil
	}
	all := fields
	if len(c.fields) > 0 {
		all = make([]zapcore.Field, 0, len(c.fields)+len(fields))
		all = append(all, c.fields...)
		all = append(all, fields...)
	}
	c.batcher.Append(FromZapEntry(entry, all))
	return nil
}

// Sync is a no-op; batches are flushed by the server's ticker.
func (c *WebSocketCore) Sync() error {
	return nil
}
