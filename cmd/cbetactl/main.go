// Command cbetactl inspects and exercises the CBETA gateway's tools without
// starting the MCP server.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := New().Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
