// Package logging builds the process logger and holds the canonical field
// names shared across packages.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	KeyTransferID     = "transfer_id"
	KeyTransferStatus = "transfer_status"
	KeyServiceType    = "service_type"
	KeyEnvironment    = "environment"
	KeyState          = "state"
	KeyChainID        = "chain_id"
	KeyQuoteID        = "quote_id"
	KeyError          = "error"
)

func TransferID(id string) slog.Attr    { return slog.String(KeyTransferID, id) }
func TransferStatus(s string) slog.Attr { return slog.String(KeyTransferStatus, s) }
func ServiceType(s string) slog.Attr    { return slog.String(KeyServiceType, s) }
func Environment(env string) slog.Attr  { return slog.String(KeyEnvironment, env) }
func State(s string) slog.Attr          { return slog.String(KeyState, s) }
func ChainID(id string) slog.Attr       { return slog.String(KeyChainID, id) }
func QuoteID(id string) slog.Attr       { return slog.String(KeyQuoteID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// New returns a logger writing to w. format is "text" or "json"; level is one
// of debug, info, warn, error.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unsupported log level %q", level)
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
