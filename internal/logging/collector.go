package logging

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Collector is a zapcore.Core that tees log entries into memory so they can
// later be persisted alongside a record when verbose diagnostics were
// requested for an object.
type Collector struct {
	mu    sync.Mutex
	lines []string
	enc   zapcore.Encoder
	level zapcore.LevelEnabler

	// parent owns the shared line buffer; nil on the root collector so
	// child cores created by With still land in one collection.
	parent *Collector
}

var _ zapcore.Core = (*Collector)(nil)

// NewCollector returns an empty collector capturing entries at info and above.
func NewCollector() *Collector {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	return &Collector{
		enc:   zapcore.NewConsoleEncoder(encCfg),
		level: zapcore.InfoLevel,
	}
}

// Attach returns a logger that writes to both the original cores and c.
func (c *Collector) Attach(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, c)
	}))
}

func (c *Collector) root() *Collector {
	if c.parent != nil {
		return c.parent
	}
	return c
}

// Enabled implements zapcore.Core.
func (c *Collector) Enabled(level zapcore.Level) bool {
	return c.level.Enabled(level)
}

// With implements zapcore.Core.
func (c *Collector) With(fields []zapcore.Field) zapcore.Core {
	clone := &Collector{enc: c.enc.Clone(), level: c.level, parent: c.root()}
	for _, field := range fields {
		field.AddTo(clone.enc)
	}
	return clone
}

// Check implements zapcore.Core.
func (c *Collector) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write implements zapcore.Core.
func (c *Collector) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(buf.String(), "\n")
	buf.Free()

	root := c.root()
	root.mu.Lock()
	root.lines = append(root.lines, line)
	root.mu.Unlock()
	return nil
}

// Sync implements zapcore.Core.
func (c *Collector) Sync() error { return nil }

// Lines returns a copy of the collected log lines.
func (c *Collector) Lines() []string {
	root := c.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	out := make([]string, len(root.lines))
	copy(out, root.lines)
	return out
}

// JSON serializes the collected lines as a JSON array, the shape stored in
// the record's debug_logs attribute.
func (c *Collector) JSON() (string, error) {
	data, err := json.Marshal(c.Lines())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
