package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogEmitter writes one line per event.
//
// Text mode prefixes the wall-clock time and pads the message so columns line
// up; metadata follows as sorted key=value pairs:
//
//	[15:04:05.000] step             run=3f9c0e1a2b4d5e6f seq=2 state=running final=false
//
// JSON mode writes one object per line with the same fields:
//
//	{"time":"2026-01-02T15:04:05.000Z","msg":"step","run":"3f9c0e1a2b4d5e6f","seq":2,"state":"running","meta":{"final":false}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
	now      func() time.Time
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode, now: time.Now}
}

// logLine is the JSON form of an event.
type logLine struct {
	Time  string                 `json:"time"`
	Msg   string                 `json:"msg"`
	Run   string                 `json:"run,omitempty"`
	Seq   int                    `json:"seq"`
	State string                 `json:"state,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// Emit writes the event.
func (l *LogEmitter) Emit(event Event) {
	ts := l.now()

	var line string
	if l.jsonMode {
		line = l.jsonLine(ts, event)
	} else {
		line = textLine(ts, event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, line)
}

func (l *LogEmitter) jsonLine(ts time.Time, event Event) string {
	data, err := json.Marshal(logLine{
		Time:  ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Msg:   event.Msg,
		Run:   event.RunID,
		Seq:   event.Seq,
		State: event.State,
		Meta:  event.Meta,
	})
	if err != nil {
		data, _ = json.Marshal(logLine{Msg: event.Msg, Run: event.RunID, Meta: map[string]interface{}{"marshal_error": err.Error()}})
	}
	return string(data) + "\n"
}

func textLine(ts time.Time, event Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-16s run=%s seq=%d", ts.Format("15:04:05.000"), event.Msg, event.RunID, event.Seq)
	if event.State != "" {
		fmt.Fprintf(&sb, " state=%s", event.State)
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, formatValue(event.Meta[k]))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// formatValue quotes strings containing spaces so lines stay splittable.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		if strings.ContainsAny(x, " \t\"=") || x == "" {
			return fmt.Sprintf("%q", x)
		}
		return x
	case time.Duration:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
