// Package main is the entry point of the twmmu command.
package main

import "github.com/sarchlab/twmmu/twmmu/cmd"

func main() {
	cmd.Execute()
}
