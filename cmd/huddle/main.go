package main

import (
	"github.com/huddle-rtc/huddle/cmd/huddle/cmd"
	"github.com/huddle-rtc/huddle/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
