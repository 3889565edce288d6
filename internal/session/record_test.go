package session

import "testing"

func TestNewRecordStartsCreating(t *testing.T) {
	r := NewRecord("sid-1", "proj", "main", "/work", "claude", ModeDaemon)
	if r.Status() != Creating {
		t.Fatalf("status = %v, want Creating", r.Status())
	}
}

func TestMarkRunningAttachesHostOnlyForDaemonMode(t *testing.T) {
	term := NewRecord("sid-term", "proj", "main", "/work", "claude", ModeTerminal)
	term.MarkRunning(nil, nil)
	if term.Status() != Running {
		t.Fatalf("status = %v, want Running", term.Status())
	}
	if term.Host() != nil || term.Broadcaster() != nil {
		t.Fatalf("terminal-mode record should not carry a host/broadcaster")
	}
}

func TestMarkExitedIsNoOpAfterStopped(t *testing.T) {
	r := NewRecord("sid-1", "proj", "main", "/work", "claude", ModeDaemon)
	r.MarkRunning(nil, nil)
	r.MarkStopped()

	code := 1
	r.MarkExited(&code)

	if r.Status() != Stopped {
		t.Fatalf("status = %v, want Stopped (MarkExited after Stop must be a no-op)", r.Status())
	}
	if r.ExitCode() != nil {
		t.Fatalf("exit code should remain nil once a session is Stopped")
	}
}

func TestMarkExitedTransitionsRunningSession(t *testing.T) {
	r := NewRecord("sid-1", "proj", "main", "/work", "claude", ModeDaemon)
	r.MarkRunning(nil, nil)

	code := 0
	r.MarkExited(&code)

	if r.Status() != Exited {
		t.Fatalf("status = %v, want Exited", r.Status())
	}
	if r.ExitCode() == nil || *r.ExitCode() != 0 {
		t.Fatalf("exit code not recorded")
	}
}

func TestReplaceAgentProcessMatchesBySpawnID(t *testing.T) {
	r := NewRecord("sid-1", "proj", "main", "/work", "claude", ModeDaemon)
	r.AddAgentProcess(AgentProcess{SpawnID: "a", PID: 100})
	r.ReplaceAgentProcess(AgentProcess{SpawnID: "a", PID: 200})
	r.ReplaceAgentProcess(AgentProcess{SpawnID: "b", PID: 300})

	procs := r.AgentProcesses()
	if len(procs) != 2 {
		t.Fatalf("len(procs) = %d, want 2", len(procs))
	}
	if procs[0].PID != 200 {
		t.Fatalf("spawn %q not replaced, pid = %d", "a", procs[0].PID)
	}
}

func TestPTYPidZeroWithoutHost(t *testing.T) {
	r := NewRecord("sid-1", "proj", "main", "/work", "claude", ModeTerminal)
	if r.PTYPid() != 0 {
		t.Fatalf("PTYPid() = %d, want 0", r.PTYPid())
	}
}
