package featurestore

import (
	"log"
	"os"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log progress of dataset writing to a file
var UpdateLogger *log.Logger

func init() {
	// The main programs will override these, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
