// Command boardstore manages the boardstore data directory.
package main

import "github.com/mesh-intelligence/boardstore/internal/cli"

func main() {
	cli.Execute()
}
