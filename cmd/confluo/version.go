package main

import (
	"fmt"

	"github.com/ternarybob/confluo/internal/common"
)

// printVersion writes the resolved version and build metadata to stdout.
func printVersion() {
	fmt.Printf("Confluo version %s\n", common.GetFullVersion())
}
