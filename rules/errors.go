//go:build ruleguard

// Package gorules holds ruleguard checks run by golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrorComponent flags enhanced errors built without a component.
// The component drives telemetry grouping and the log module.
//
//	errors.New(err).Category(errors.CategoryFileIO).Build()
//
// should be
//
//	errors.New(err).Component("storage").Category(errors.CategoryFileIO).Build()
func EnhancedErrorComponent(m dsl.Matcher) {
	m.Import("github.com/chestguard/chestguard/internal/errors")

	m.Match(
		`errors.New($_).Build()`,
		`errors.New($_).Category($_).Build()`,
		`errors.New($_).Category($_).Context($*_).Build()`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("enhanced error is missing .Component(...)")

	m.Match(
		`errors.Newf($*_).Build()`,
		`errors.Newf($*_).Category($_).Build()`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("enhanced error is missing .Component(...)")
}

// StdErrorsImport flags the standard errors package in internal code, which
// should use the internal errors package for Is, As and Join.
func StdErrorsImport(m dsl.Matcher) {
	m.Match(`errors.Is($*_)`, `errors.As($*_)`).
		Where(m.File().Imports("errors") &&
			m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/(errors|conf|logger)$`)).
		Report("import github.com/chestguard/chestguard/internal/errors instead of the standard errors package")
}
