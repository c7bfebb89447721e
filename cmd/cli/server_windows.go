//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess gives the child its own process group; console signals stay
// with the CLI.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
