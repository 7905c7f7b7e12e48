// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/parisxmas/OxiDB/OxiField/internal/config"
	"github.com/parisxmas/OxiDB/OxiField/internal/gelf"
)

// New returns a JSON logger writing to stderr and, when a GELF address is
// configured, also to GELF over UDP. The returned closer releases the GELF
// socket. A GELF setup failure is logged and leaves console logging only.
func New(cfg *config.Config) (*slog.Logger, func() error) {
	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	var gelfErr error
	if cfg.GelfAddr != "" {
		w, err := gelf.New(cfg.GelfAddr, "oxifield")
		if err != nil {
			gelfErr = err
		} else {
			out = io.MultiWriter(os.Stderr, w)
			closer = w.Close
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}))
	if gelfErr != nil {
		logger.Warn("GELF init failed", "addr", cfg.GelfAddr, "error", gelfErr)
	} else if cfg.GelfAddr != "" {
		logger.Info("GELF logging enabled", "addr", cfg.GelfAddr)
	}
	return logger, closer
}

func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
