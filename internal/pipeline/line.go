package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Line levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Line is one entry of the human-readable run log.
type Line struct {
	Time          time.Time      `json:"time"`
	Level         string         `json:"level"`
	Path          string         `json:"path"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Elapsed       *time.Duration `json:"elapsed_ns,omitempty"`
	Status        *int           `json:"status,omitempty"`
	Bytes         *int64         `json:"bytes,omitempty"`
}

// String renders the line as
//
//	15:04:05.000 [INFO] [upload] upload done - elapsed=1.25s - httpStatus=200(OK)
//
// Elapsed and status parts are present only when set.
func (l Line) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] [%s] %s", l.Time.Format("15:04:05.000"), l.Level, l.Path, l.Message)
	if l.Elapsed != nil {
		fmt.Fprintf(&sb, " - elapsed=%.2fs", l.Elapsed.Seconds())
	}
	if l.Status != nil {
		fmt.Fprintf(&sb, " - httpStatus=%d(%s)", *l.Status, StatusText(*l.Status))
	}
	return sb.String()
}

// StatusText is the short reason phrase used in run log lines. Codes outside
// the table render as an empty string.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 409:
		return "Conflict"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return ""
	}
}
