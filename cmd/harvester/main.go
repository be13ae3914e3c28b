package main

import (
	"os"

	"github.com/pulsewire/harvester/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
