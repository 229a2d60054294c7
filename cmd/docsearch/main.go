package main

import "github.com/pankaj28843/docs-mcp-server/internal/cli"

func main() {
	cli.Execute()
}
