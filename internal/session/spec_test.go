package session

import (
	"strings"
	"testing"
)

func TestBuildCommandPlain(t *testing.T) {
	s := Spec{Name: "a", Command: "java -Xmx4G -jar server.jar"}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 4 || cmd.Args[0] != "java" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
}

func TestBuildCommandShellMetachars(t *testing.T) {
	s := Spec{Name: "a", Command: "echo hi > out.txt"}
	cmd := s.BuildCommand()
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "-c" {
		t.Fatalf("expected /bin/sh -c wrapping, got %v", cmd.Args)
	}
}

func TestBuildCommandExplicitShellNotDoubleWrapped(t *testing.T) {
	s := Spec{Name: "a", Command: "sh -c 'echo hi > out.txt'"}
	cmd := s.BuildCommand()
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "-c" {
		t.Fatalf("expected /bin/sh -c, got %v", cmd.Args)
	}
	if strings.Contains(cmd.Args[2], "sh -c") {
		t.Fatalf("command was double wrapped: %q", cmd.Args[2])
	}
}

func TestBuildCommandEmpty(t *testing.T) {
	s := Spec{Name: "a"}
	cmd := s.BuildCommand()
	if cmd.Args[0] != "/bin/true" {
		t.Fatalf("expected /bin/true fallback, got %v", cmd.Args)
	}
}
