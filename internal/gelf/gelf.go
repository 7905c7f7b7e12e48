package gelf

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Writer sends GELF messages over UDP. It implements io.Writer and expects
// each Write to carry one slog JSON record, so it can sit behind an
// io.MultiWriter next to the console output.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

func (w *Writer) Close() error {
	return w.conn.Close()
}

// Write implements io.Writer. Records that are not JSON objects are sent
// verbatim as the short message.
func (w *Writer) Write(p []byte) (int, error) {
	payload, err := json.Marshal(w.message(p))
	if err != nil {
		return len(p), nil // don't fail the log call
	}

	// Fire-and-forget
	_, _ = w.conn.Write(payload)
	return len(p), nil
}

func (w *Writer) message(p []byte) map[string]any {
	msg := map[string]any{
		"version":   "1.1",
		"host":      w.hostname,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"level":     6,
		"_service":  w.service,
	}

	var record map[string]any
	if err := json.Unmarshal(p, &record); err != nil {
		msg["short_message"] = strings.TrimRight(string(p), "\n")
		return msg
	}

	for key, value := range record {
		switch key {
		case "msg":
			msg["short_message"] = fmt.Sprint(value)
		case "level":
			msg["level"] = syslogLevel(fmt.Sprint(value))
		case "time":
			if s, ok := value.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					msg["timestamp"] = float64(t.UnixNano()) / 1e9
				}
			}
		case "id":
			// "_id" is reserved by GELF.
			msg["_record_id"] = field(value)
		default:
			msg["_"+key] = field(value)
		}
	}
	if _, ok := msg["short_message"]; !ok {
		msg["short_message"] = "-"
	}
	return msg
}

// syslogLevel maps slog level names, including offsets like "INFO+2".
func syslogLevel(level string) int {
	switch {
	case strings.HasPrefix(level, "ERROR"):
		return 3
	case strings.HasPrefix(level, "WARN"):
		return 4
	case strings.HasPrefix(level, "DEBUG"):
		return 7
	}
	return 6
}

// GELF additional fields must be strings or numbers.
func field(v any) any {
	switch v := v.(type) {
	case string, float64:
		return v
	case bool:
		return fmt.Sprint(v)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
