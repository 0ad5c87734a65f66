package main

import (
	"os"

	"github.com/noah04091/contract-ai-sub015/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
