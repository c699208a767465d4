package main

import (
	"fmt"
	"os"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/obslog"
)

func main() {
	obslog.Init("info")

	sh := newShell()
	defer sh.close()

	if err := sh.run(); err != nil {
		fmt.Fprintln(os.Stderr, "csopesy:", err)
		os.Exit(1)
	}
}
