package store

import "github.com/ominit/nix-relay/internal/command"

// RunCommand runs the default app of ref (like `nix run`).
func RunCommand(ref string) command.Cmd {
	return command.Cmd{Name: "nix", Args: []string{"run", ref}}
}

// DevelopCommand enters the development shell of ref (like `nix develop`).
func DevelopCommand(ref string) command.Cmd {
	return command.Cmd{Name: "nix", Args: []string{"develop", ref}}
}

// RebuildCommand rebuilds the system configuration from ref.
func RebuildCommand(action, ref string) command.Cmd {
	return command.Cmd{Name: "nixos-rebuild", Args: []string{action, "--flake", ref}}
}
