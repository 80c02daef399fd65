package main

import (
	"gomeet/internal/cli"
)

func main() {
	cli.Execute()
}
