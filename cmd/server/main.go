package main

import "creditsystem/internal/cli"

func main() {
	cli.Execute()
}
