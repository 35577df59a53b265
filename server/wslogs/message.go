// Package wslogs streams daemon log entries to WebSocket clients. A zap
// core collects entries into a Batcher; the server flushes the batch on
// a ticker and the Transport fans it out to every connected client.
package wslogs

import (
	"math"
	"time"

	"go.uber.org/zap/zapcore"
)

// Message is one log entry as sent to clients
type Message struct {
	Level       string                 `json:"level"` // "debug", "info", "warn", "error"
	Timestamp   time.Time              `json:"timestamp"`
	Logger      string                 `json:"logger,omitempty"`
	Message     string                 `json:"message"`
	ExecutionID int64                  `json:"execution_id,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// Batch is the set of messages flushed together
type Batch struct {
	Messages  []Message `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

// FromZapEntry converts a zap log entry to a Message. An execution_id
// field is lifted out so clients can route the line to the right run.
func FromZapEntry(entry zapcore.Entry, fields []zapcore.Field) Message {
	msg := Message{
		Level:     entry.Level.String(),
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
		Message:   entry.Message,
		Fields:    make(map[string]interface{}, len(fields)),
	}

	for _, f := range fields {
		var v interface{}
		switch f.Type {
		case zapcore.StringType:
			v = f.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
			zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			v = f.Integer
		case zapcore.Float64Type:
			v = math.Float64frombits(uint64(f.Integer))
		case zapcore.Float32Type:
			v = float64(math.Float32frombits(uint32(f.Integer)))
		case zapcore.BoolType:
			v = f.Integer == 1
		case zapcore.DurationType:
			v = time.Duration(f.Integer).String()
		case zapcore.TimeType:
			v = time.Unix(0, f.Integer).UTC().Format(time.RFC3339)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				v = err.Error()
			}
		default:
			v = f.Interface
		}

		if f.Key == "execution_id" {
			if id, ok := v.(int64); ok {
				msg.ExecutionID = id
				continue
			}
		}
		msg.Fields[f.Key] = v
	}
	return msg
}
