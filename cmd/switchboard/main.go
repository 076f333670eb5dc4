// Package main provides the switchboard streaming chat client application.
package main

import "github.com/verastack/switchboard/pkg/cli"

func main() {
	cli.Execute()
}
