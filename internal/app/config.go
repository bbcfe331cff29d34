package app

import (
	"errors"
	"fmt"
	"strings"
)

// Options carries command-line settings shared by both programs. Empty
// fields leave the configuration file's value in place.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	ServerURL  string
}

// WorkerOptions adds the worker's own flags.
type WorkerOptions struct {
	Options
	HealthcheckPort int
}

// Command kinds accepted by the client.
const (
	CommandBuild   = "build"
	CommandRun     = "run"
	CommandDevelop = "develop"
	CommandRebuild = "rebuild"
)

// DefaultRef is the flake reference used when none is given.
const DefaultRef = "."

// RebuildTypes lists the accepted `rebuild` actions in display order.
var RebuildTypes = []string{
	"switch", "boot", "test", "build", "dry-build", "dry-activate", "edit", "repl",
	"build-vm", "build-vm-with-bootloader", "build-image", "list-generations",
}

// systemBuildingTypes are the rebuild actions that realise the system
// closure and are therefore worth orchestrating first.
var systemBuildingTypes = map[string]bool{
	"switch": true, "boot": true, "test": true, "build": true,
	"build-vm": true, "build-vm-with-bootloader": true, "build-image": true,
}

// Command is one client invocation.
type Command struct {
	Kind        string
	RebuildType string
	Ref         string
}

// ClientOptions adds the client's command to Options.
type ClientOptions struct {
	Options
	Command Command
}

// NewCommand validates and normalizes a client command.
func NewCommand(kind, rebuildType, ref string) (Command, error) {
	if ref == "" {
		ref = DefaultRef
	}
	switch kind {
	case CommandBuild, CommandRun, CommandDevelop:
		if rebuildType != "" {
			return Command{}, fmt.Errorf("%s does not take a rebuild type", kind)
		}
	case CommandRebuild:
		if !isRebuildType(rebuildType) {
			return Command{}, fmt.Errorf("invalid rebuild type %q: must be one of %s", rebuildType, strings.Join(RebuildTypes, ", "))
		}
	case "":
		return Command{}, errors.New("a command is required")
	default:
		return Command{}, fmt.Errorf("unknown command %q", kind)
	}
	return Command{Kind: kind, RebuildType: rebuildType, Ref: ref}, nil
}

func isRebuildType(t string) bool {
	for _, rt := range RebuildTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// systemRef points a flake reference at the toplevel system derivation of
// host, unless it already names an attribute.
func systemRef(ref, host string) string {
	if strings.Contains(ref, "#") {
		return ref
	}
	return fmt.Sprintf("%s#nixosConfigurations.%q.config.system.build.toplevel", ref, host)
}
