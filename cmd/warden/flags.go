package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name string
}

type StopFlags struct {
	Name string
	Wait time.Duration
}

type SendFlags struct {
	Name    string
	Command string
}

type CrashesFlags struct {
	Name  string
	Limit int
	Clear bool
}

type JobsFlags struct {
	All   bool
	JobID string
}

type BackupFlags struct {
	Name string
}

type ServeFlags struct {
	ConfigPath string
}
