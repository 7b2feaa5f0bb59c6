// Command jsonrpcd serves the demo echo endpoint over HTTP, WebSocket, stdio
// or a Redis relay queue.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(submain(context.Background()))
}
