//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the boardstore project using Mage.
//
// Usage:
//
//	mage build          Compile the boardstore binary to bin/
//	mage release        Cross-compile static binaries to bin/<os>-<arch>/
//	mage test:all       Run all tests
//	mage test:unit      Run the package tests except the CLI tests
//	mage test:race      Run all tests with the race detector
//	mage test:cover     Write and summarize a coverage profile
//	mage test:smoke     Build and drive the binary end to end
//	mage lint           Run go vet and golangci-lint
//	mage clean          Remove build artifacts
//	mage install        Install boardstore to GOPATH/bin
//	mage stats          Print Go lines of code per package
package main

import (
	"bufio"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Stats prints Go lines of code per package, production and test.
func Stats() error {
	type count struct{ prod, test int }
	perPkg := map[string]*count{}

	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			switch path {
			case "vendor", ".git", binaryDir, "magefiles", "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		n, countErr := countLines(path)
		if countErr != nil {
			return nil
		}
		pkg := filepath.Dir(path)
		c := perPkg[pkg]
		if c == nil {
			c = &count{}
			perPkg[pkg] = c
		}
		if strings.HasSuffix(path, "_test.go") {
			c.test += n
		} else {
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	var prod, test int
	for _, pkg := range slices.Sorted(maps.Keys(perPkg)) {
		c := perPkg[pkg]
		fmt.Printf("%-24s %6d %6d\n", pkg, c.prod, c.test)
		prod += c.prod
		test += c.test
	}
	fmt.Printf("%-24s %6d %6d\n", "total", prod, test)
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// splitLines yields the non-empty lines of s.
func splitLines(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range strings.SplitSeq(s, "\n") {
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}
}
