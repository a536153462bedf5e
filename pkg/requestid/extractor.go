package requestid

import (
	"context"
	"log/slog"
)

// LogKey is the attribute name used in log records.
const LogKey = "request_id"

// LoggerExtractor adds the request id to every record logged with a request context.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		id := FromContext(ctx)
		if id == "" {
			return slog.Attr{}, false
		}
		return slog.String(LogKey, id), true
	}
}
