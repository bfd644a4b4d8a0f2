package handlers

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Extension returns the lower-cased extension of filename including its
// leading dot. It reports false only when filename contains no dot at all;
// a trailing dot yields ".".
func Extension(filename string) (string, bool) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return "", false
	}
	return strings.ToLower(filename[i:]), true
}

// ExtensionSet is a case-insensitive set of extensions.
type ExtensionSet map[string]struct{}

// DefaultWebExtensions are the extensions of web-friendly image types.
var DefaultWebExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}

// NewExtensionSet normalises exts to lower case with a leading dot.
func NewExtensionSet(exts []string) (ExtensionSet, error) {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			return nil, fmt.Errorf("empty extension in %v", exts)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}
	return set, nil
}

// Contains reports whether ext, in any case, is in the set.
func (s ExtensionSet) Contains(ext string) bool {
	_, ok := s[strings.ToLower(ext)]
	return ok
}

// placeholderRegex matches the {{placeholder}} syntax used in reject messages.
var placeholderRegex = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// validateTemplate checks that every placeholder in template is one of known.
func validateTemplate(template string, known ...string) error {
	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		key := strings.TrimSpace(m[1])
		if !slices.Contains(known, key) {
			return fmt.Errorf("placeholder '{{%s}}' is not available here (known: %s)", key, strings.Join(known, ", "))
		}
	}
	return nil
}

// expandTemplate replaces {{key}} patterns with values from params. Unknown
// keys are left as written; validateTemplate rejects them at build time.
func expandTemplate(template string, params map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSpace(placeholderRegex.FindStringSubmatch(match)[1])
		if v, ok := params[key]; ok {
			return v
		}
		return match
	})
}
