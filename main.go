package main

import (
	"os"

	"github.com/liliang-cn/graphmem/cmd/graphmem"
)

var version = "1.0.0"

func main() {
	graphmem.SetVersion(version)
	if err := graphmem.Execute(); err != nil {
		os.Exit(1)
	}
}
