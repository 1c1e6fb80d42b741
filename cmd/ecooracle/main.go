package main

import "github.com/eres45/EcoChain/internal/cli"

func main() {
	cli.Execute()
}
