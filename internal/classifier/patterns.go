package classifier

import (
	"regexp"

	"github.com/setevik/logrelay/internal/entry"
)

// Bracketed level tags. These are the strongest marker a line can carry.
// Examples:
//
//	"[ERROR] failed to compile src/App.tsx"
//	"12:01:33 [warn] deprecated option"
var bracketTagRe = regexp.MustCompile(`(?i)\[(error|warn(?:ing)?|debug|info)\]`)

// Framework-style namespaced tags, as emitted by debug-style loggers.
// Examples:
//
//	"vite:error Transform failed"
//	"express:router:warn route shadowed"
var frameworkTagRe = regexp.MustCompile(`(?i)\b[\w.-]+:(error|warn(?:ing)?|debug|info)\b`)

// tagLevels maps a lower-cased tag to its level.
var tagLevels = map[string]entry.Level{
	"error":   entry.LevelError,
	"warn":    entry.LevelWarn,
	"warning": entry.LevelWarn,
	"debug":   entry.LevelDebug,
	"info":    entry.LevelInfo,
}
