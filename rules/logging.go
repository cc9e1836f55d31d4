//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StructuredLogging flags the standard log package and fmt printing outside
// cmd/. Services log through the central logger with typed fields.
func StructuredLogging(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`)).
		Report("use GetLogger() with logger fields instead of the standard log package")

	m.Match(`fmt.Printf($*_)`, `fmt.Println($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages must not print to stdout, use GetLogger()")
}

// SensitiveFields flags logging of raw patient identifiers and credentials
// through logger.String with an obviously sensitive key.
func SensitiveFields(m dsl.Matcher) {
	m.Match(`logger.String($key, $_)`).
		Where(m["key"].Text.Matches(`"(email|full_?name|api_?key|password|token)"`)).
		Report("do not log $key, drop it or scrub it before logging")
}

// WaitGroupGo flags the manual Add/Done goroutine pattern.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}
