// Package main is the entry point for the granary application
package main

import (
	"github.com/granaryml/granary/cmd"
)

func main() {
	cmd.Execute()
}
