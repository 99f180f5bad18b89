//go:build tools

// Package tools pins ltrt's development tools in go.mod.
// go install -tags tools ./...
package tools

import (
	// Lint
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Regenerates pkg/mocks from pkg/interfaces
	_ "github.com/golang/mock/mockgen"

	// Test runners
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "gotest.tools/gotestsum"

	_ "github.com/securego/gosec/v2/cmd/gosec"

	// Reads profiles written by ltrt run --cpuprofile
	_ "github.com/google/pprof"
)
