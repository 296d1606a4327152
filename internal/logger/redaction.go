package logger

import (
	"io"
	"regexp"
)

// Redactor masks secrets in log output before it reaches any writer.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor covering the credential shapes mika
// handles: provider API keys, bearer tokens, password-like fields and
// AWS access key IDs.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{10,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/-]+=*`),
			regexp.MustCompile(`(?i)("?(?:password|pwd|token|secret|api_key)"?\s*[:=]\s*)"?[^",\s}]+"?`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
	}
}

// AddPattern registers an extra redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact returns s with all matched secrets replaced.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			if sub := re.FindStringSubmatch(match); len(sub) > 1 {
				return sub[1] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return s
}

// Wrap returns a writer that redacts every payload before forwarding
// it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{redactor: r, next: w}
}

type redactingWriter struct {
	redactor *Redactor
	next     io.Writer
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.next.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog does not treat the shorter
	// redacted payload as a partial write.
	return len(p), nil
}
