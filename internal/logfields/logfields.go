package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyStage      = "stage"
	KeyStep       = "step"
	KeyTool       = "tool"
	KeyArchive    = "archive"
	KeyEntry      = "entry"
	KeyPath       = "path"
	KeyVersion    = "version"
	KeyCommit     = "commit"
	KeyDurationMS = "duration_ms"
	KeySchedule   = "schedule_name"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Step(name string) slog.Attr       { return slog.String(KeyStep, name) }
func Tool(name string) slog.Attr       { return slog.String(KeyTool, name) }
func Archive(path string) slog.Attr    { return slog.String(KeyArchive, path) }
func Entry(name string) slog.Attr      { return slog.String(KeyEntry, name) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Version(v string) slog.Attr       { return slog.String(KeyVersion, v) }
func Commit(c string) slog.Attr        { return slog.String(KeyCommit, c) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func ScheduleName(n string) slog.Attr  { return slog.String(KeySchedule, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
