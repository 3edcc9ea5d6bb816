// Package main provides the entry point for the conductor CLI.
package main

func main() {
	Execute()
}
