package main

import "pricehub/internal/cli"

func main() {
	cli.Execute()
}
