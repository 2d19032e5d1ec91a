package main

import (
	"urban_analysis/internal/cli"
)

func main() {
	cli.Execute()
}
