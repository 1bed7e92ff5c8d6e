//go:build tools

// Package tools pins build-time tool dependencies so `go mod tidy`
// keeps them versioned alongside the module.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
