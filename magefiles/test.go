//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, unit, race, cover, smoke).
type Test mg.Namespace

// All runs every package test.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs the tests without -v and skips the slower CLI tests.
func (Test) Unit() error {
	pkgs, err := sh.Output(binGo, "list", "./...")
	if err != nil {
		return err
	}
	args := []string{"test"}
	for pkg := range splitLines(pkgs) {
		if filepath.Base(pkg) != "cli" {
			args = append(args, pkg)
		}
	}
	if len(args) == 1 {
		fmt.Println("No unit test packages found.")
		return nil
	}
	return sh.RunV(binGo, args...)
}

// Race runs every test with the race detector; the mirror worker and the
// entity store locks are the main targets.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Cover writes coverage.out and prints the per-function summary.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func=coverage.out")
}

// Smoke builds the binary and drives it through init, a migration and an
// import inside a temporary directory.
func (Test) Smoke() error {
	mg.Deps(Build)
	tmp, err := os.MkdirTemp("", "boardstore-smoke-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	bin, err := filepath.Abs(filepath.Join(binaryDir, binaryName))
	if err != nil {
		return err
	}
	base := []string{"--config-dir", filepath.Join(tmp, "config"), "--data-dir", filepath.Join(tmp, "data")}
	steps := [][]string{
		{"init"},
		{"entity", "create", "--title", "smoke task", "--tag", "smoke", "--column", "todo"},
		{"migrate", "run", "--quiet"},
		{"mirror", "check"},
		{"import", "internal/migrate/testdata/v1.json"},
		{"mirror", "check"},
		{"mode", "show"},
		{"backup", "list"},
	}
	for _, step := range steps {
		fmt.Printf("$ boardstore %v\n", step)
		if err := sh.RunV(bin, append(base, step...)...); err != nil {
			return fmt.Errorf("boardstore %v: %w", step, err)
		}
	}
	return nil
}
