package iomux

import (
	"os"
	"testing"
)

func TestWaitReportsReadableFd(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	m := New()
	m.Register(int(r.Fd()), Read)

	// Nothing written yet: a zero-timeout poll should report nothing ready.
	ready, err := m.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready fds before write, got %v", ready)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ready, err = m.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || ready[0].Fd != int(r.Fd()) || ready[0].Events&Read == 0 {
		t.Fatalf("unexpected ready set: %v", ready)
	}
}

func TestUnregisterStopsNotifications(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	m := New()
	m.Register(int(r.Fd()), Read)
	m.Unregister(int(r.Fd()))

	w.Write([]byte("x"))
	ready, err := m.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no ready fds after unregister, got %v", ready)
	}
}
