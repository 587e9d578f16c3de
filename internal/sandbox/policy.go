package sandbox

import (
	"regexp"
	"sort"
	"strings"
)

var (
	importPattern     = regexp.MustCompile(`(?m)^\s*import\s+(.+)$`)
	fromImportPattern = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
)

var deniedPatterns = map[string]*regexp.Regexp{
	"exec":           regexp.MustCompile(`\bexec\s*\(`),
	"eval":           regexp.MustCompile(`\beval\s*\(`),
	"compile":        regexp.MustCompile(`\bcompile\s*\(`),
	"__import__":     regexp.MustCompile(`__import__`),
	"open":           regexp.MustCompile(`(?:^|[^\w.])open\s*\(`),
	"subprocess":     regexp.MustCompile(`\bsubprocess\b`),
	"socket":         regexp.MustCompile(`\bsocket\b`),
	"shutil":         regexp.MustCompile(`\bshutil\b`),
	"sys.modules":    regexp.MustCompile(`\bsys\.modules\b`),
	"importlib":      regexp.MustCompile(`\bimportlib\b`),
	"ctypes":         regexp.MustCompile(`\bctypes\b`),
	"pickle":         regexp.MustCompile(`\bpickle\b`),
	"requests":       regexp.MustCompile(`\brequests\b`),
	"urllib":         regexp.MustCompile(`\burllib\b`),
	"os process":     regexp.MustCompile(`\bos\.(?:system|popen|exec\w*|spawn\w*|fork\w*|kill\w*|posix_spawn\w*)\b`),
	"os file remove": regexp.MustCompile(`\bos\.(?:remove|unlink|rmdir|removedirs|rename|replace|chmod|chown|symlink|link)\b`),
	"builtins":       regexp.MustCompile(`__builtins__|\bbuiltins\b|__subclasses__|__globals__|__code__`),
	"globals":        regexp.MustCompile(`\b(?:globals|locals|vars|getattr|setattr|delattr)\s*\(`),
	"breakpoint":     regexp.MustCompile(`\b(?:breakpoint|input)\s*\(`),
}

// Policy is the static allow-list applied to generated code before it
// reaches a runner. It narrows what the sandbox has to contain.
type Policy struct {
	allowedImports map[string]struct{}
}

func DefaultPolicy() Policy {
	return NewPolicy([]string{
		"matplotlib", "pandas", "numpy", "seaborn", "json", "os", "datetime",
		"uuid", "math", "statistics", "collections", "decimal",
	})
}

func NewPolicy(allowedImports []string) Policy {
	allowed := make(map[string]struct{}, len(allowedImports))
	for _, name := range allowedImports {
		allowed[name] = struct{}{}
	}
	return Policy{allowedImports: allowed}
}

type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "code rejected by sandbox policy: " + strings.Join(e.Violations, ", ")
}

func (p Policy) Check(code string) error {
	violations := map[string]struct{}{}

	for _, match := range importPattern.FindAllStringSubmatch(code, -1) {
		for _, part := range strings.Split(match[1], ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			if !p.allowed(fields[0]) {
				violations["import "+fields[0]] = struct{}{}
			}
		}
	}
	for _, match := range fromImportPattern.FindAllStringSubmatch(code, -1) {
		if !p.allowed(match[1]) {
			violations["import "+match[1]] = struct{}{}
		}
	}
	for name, pattern := range deniedPatterns {
		if pattern.MatchString(code) {
			violations[name] = struct{}{}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	list := make([]string, 0, len(violations))
	for violation := range violations {
		list = append(list, violation)
	}
	sort.Strings(list)
	return &PolicyError{Violations: list}
}

func (p Policy) allowed(module string) bool {
	root := strings.SplitN(strings.TrimSpace(module), ".", 2)[0]
	_, ok := p.allowedImports[root]
	return ok
}

func (e *PolicyError) Is(target error) bool {
	_, ok := target.(*PolicyError)
	return ok
}
