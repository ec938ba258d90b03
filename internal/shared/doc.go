// Package shared holds helpers used by more than one package that belong to
// no single domain. Test-only helpers live in shared/testutil.
package shared
