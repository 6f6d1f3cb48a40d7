package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type callerKey struct{}

// formatter supports a unified log output format with %time, %level, %field, %msg, %caller, %func, %goroutine and %n.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	frame := callerFrame(entry)

	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", entry.Level.String(), 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%msg", entry.Message, 1)
	output = strings.Replace(output, "%caller", getCaller(frame), 1)
	output = strings.Replace(output, "%func", getFunc(frame), 1)
	output = strings.Replace(output, "%goroutine", getGoroutineID(), 1)
	output = strings.ReplaceAll(output, "%n", "\n")
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return []byte(output), nil
}

func callerFrame(entry *logrus.Entry) *runtime.Frame {
	if entry.Context == nil {
		return nil
	}
	frame, _ := entry.Context.Value(callerKey{}).(*runtime.Frame)
	return frame
}

// getCaller returns package/file.go:line.
func getCaller(frame *runtime.Frame) string {
	if frame == nil {
		return "unknown"
	}
	file := frame.File
	if idx := strings.LastIndex(file, "/"); idx != -1 && idx+1 < len(file) {
		file = file[idx+1:]
	}
	pkg := frame.Function
	if idx := strings.LastIndex(pkg, "/"); idx != -1 {
		pkg = pkg[idx+1:]
	}
	if idx := strings.Index(pkg, "."); idx != -1 {
		pkg = pkg[:idx]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, frame.Line)
}

// getFunc keeps only the part after the last dot.
func getFunc(frame *runtime.Frame) string {
	if frame == nil || frame.Function == "" {
		return "unknown"
	}
	name := frame.Function
	if idx := strings.LastIndex(name, "."); idx != -1 && idx+1 < len(name) {
		return name[idx+1:]
	}
	return name
}

func getGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	idField := strings.Fields(stack)
	if len(idField) > 0 {
		return idField[0]
	}
	return "unknown"
}

func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		val := entry.Data[key]
		stringVal, ok := val.(string)
		if !ok {
			stringVal = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+stringVal)
	}
	return strings.Join(fields, ",")
}

// patternHandler is a slog.Handler that renders records through a logrus
// logger configured with the pattern formatter.
type patternHandler struct {
	logger *logrus.Logger
	level  slog.Leveler
	attrs  logrus.Fields
	prefix string
}

func newPatternHandler(w io.Writer, level slog.Leveler, pattern, timeFormat string) *patternHandler {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&formatter{pattern: pattern, time: timeFormat})
	return &patternHandler{
		logger: l,
		level:  level,
		attrs:  logrus.Fields{},
	}
}

func (h *patternHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *patternHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(logrus.Fields, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, h.prefix, a)
		return true
	})

	if ctx == nil {
		ctx = context.Background()
	}
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		ctx = context.WithValue(ctx, callerKey{}, &frame)
	}

	h.logger.WithContext(ctx).WithTime(r.Time).WithFields(fields).Log(toLogrusLevel(r.Level), r.Message)
	return nil
}

func (h *patternHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make(logrus.Fields, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		fields[k] = v
	}
	for _, a := range attrs {
		addAttr(fields, h.prefix, a)
	}
	clone := *h
	clone.attrs = fields
	return &clone
}

func (h *patternHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func addAttr(fields logrus.Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(fields, p, ga)
		}
		return
	}
	fields[prefix+a.Key] = a.Value.Any()
}

func toLogrusLevel(level slog.Level) logrus.Level {
	switch {
	case level >= slog.LevelError:
		return logrus.ErrorLevel
	case level >= slog.LevelWarn:
		return logrus.WarnLevel
	case level >= slog.LevelInfo:
		return logrus.InfoLevel
	case level >= slog.LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
