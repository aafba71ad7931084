//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "boardstore"
	binaryDir  = "bin"
	cmdDir     = "./cmd/boardstore"
	cliPkg     = "github.com/mesh-intelligence/boardstore/internal/cli"
)

// releaseTargets are the GOOS/GOARCH pairs Release builds. The SQLite
// driver is pure Go, so every target builds with cgo off.
var releaseTargets = []string{
	"linux/amd64",
	"linux/arm64",
	"darwin/arm64",
	"windows/amd64",
}

// ldflags stamps the current commit into the version command. Outside a git
// checkout the binary reports only its release.
func ldflags() string {
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil || commit == "" {
		return "-s -w"
	}
	if dirty, _ := sh.Output("git", "status", "--porcelain"); dirty != "" {
		commit += "-dirty"
	}
	return fmt.Sprintf("-s -w -X %s.Commit=%s", cliPkg, commit)
}

// Build compiles the boardstore binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Release cross-compiles static binaries to bin/<os>-<arch>/.
func Release() error {
	flags := ldflags()
	for _, target := range releaseTargets {
		goos, goarch, _ := strings.Cut(target, "/")
		name := binaryName
		if goos == "windows" {
			name += ".exe"
		}
		out := filepath.Join(binaryDir, goos+"-"+goarch, name)
		env := map[string]string{"GOOS": goos, "GOARCH": goarch, "CGO_ENABLED": "0"}
		fmt.Printf("building %s\n", out)
		if err := sh.RunWithV(env, binGo, "build", "-trimpath", "-ldflags", flags, "-o", out, cmdDir); err != nil {
			return fmt.Errorf("build %s: %w", target, err)
		}
	}
	return nil
}

// Clean removes build artifacts and test scratch files.
func Clean() error {
	for _, path := range []string{binaryDir, "coverage.out"} {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
