package main

import "github.com/mvp-joe/harvest/internal/cli"

func main() {
	cli.Execute()
}
