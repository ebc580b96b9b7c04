package main

import "podcast-research-sync/internal/cli"

func main() {
	cli.Execute()
}
