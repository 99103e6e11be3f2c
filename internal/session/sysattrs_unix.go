//go:build !windows

package session

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr detaches the child into its own session (setsid) so
// it survives supervisor exit and owns its process group, and drops
// privileges to the configured uid/gid when requested.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{Setsid: true}
	if spec.RunAsUID > 0 {
		cred := &syscall.Credential{Uid: uint32(spec.RunAsUID)}
		if spec.RunAsGID > 0 {
			cred.Gid = uint32(spec.RunAsGID)
		}
		attrs.Credential = cred
	}
	cmd.SysProcAttr = attrs
}
