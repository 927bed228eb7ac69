package main

import "github.com/corvino/tripsync/internal/cli"

func main() {
	cli.Execute()
}
