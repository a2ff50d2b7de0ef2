package enrich

import (
	"path"
	"strings"
	"sync"

	"github.com/src-d/enry/v2"
)

// Seed extension table. Lookups here are the hot path; enry content-free
// detection is the fallback for anything not listed.
var seedExtensions = map[string]string{
	"go":    "go",
	"py":    "python",
	"js":    "javascript",
	"jsx":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"java":  "java",
	"rb":    "ruby",
	"rs":    "rust",
	"c":     "c",
	"h":     "c",
	"cpp":   "cpp",
	"cc":    "cpp",
	"hpp":   "cpp",
	"cs":    "csharp",
	"php":   "php",
	"swift": "swift",
	"kt":    "kotlin",
	"scala": "scala",
	"sh":    "shell",
	"bash":  "shell",
	"sql":   "sql",
	"html":  "html",
	"css":   "css",
	"scss":  "css",
	"md":    "markdown",
	"json":  "json",
	"yaml":  "yaml",
	"yml":   "yaml",
	"toml":  "toml",
	"xml":   "xml",
	"proto": "protobuf",
	"dart":  "dart",
	"vue":   "vue",
}

// LanguageDetector maps filenames to language codes. The extension table is
// seed data plus runtime registrations; Detect is read-mostly.
type LanguageDetector struct {
	mu  sync.RWMutex
	ext map[string]string
}

// NewLanguageDetector copies the seed table so registrations never leak
// between instances.
func NewLanguageDetector() *LanguageDetector {
	ext := make(map[string]string, len(seedExtensions))
	for k, v := range seedExtensions {
		ext[k] = v
	}
	return &LanguageDetector{ext: ext}
}

// Register adds or overrides an extension mapping, e.g. from the mutable
// file_extensions table.
func (d *LanguageDetector) Register(extension, language string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ext[strings.ToLower(strings.TrimPrefix(extension, "."))] = language
}

// Detect returns the language code for a filename, "unknown" when neither
// the extension table nor enry recognizes it.
func (d *LanguageDetector) Detect(filename string) string {
	if ext := lastExtension(filename); ext != "" {
		d.mu.RLock()
		lang, ok := d.ext[ext]
		d.mu.RUnlock()
		if ok {
			return lang
		}
	}
	if lang := enry.GetLanguage(path.Base(filename), nil); lang != "" {
		return strings.ToLower(lang)
	}
	return "unknown"
}

func lastExtension(filename string) string {
	base := path.Base(filename)
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}
