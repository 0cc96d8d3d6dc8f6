package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
)

func TestPIDHosting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://127.0.0.1:%d", port)

	pid, ok := PIDHosting(context.Background(), url)
	if !ok {
		t.Fatalf("expected a PID hosting %s, got none", url)
	}
	if pid != int32(os.Getpid()) {
		t.Errorf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestPIDHostingNoPort(t *testing.T) {
	if _, ok := PIDHosting(context.Background(), "http://127.0.0.1"); ok {
		t.Error("expected no PID for a URL without a port")
	}
}

func TestPIDHostingNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	if _, ok := PIDHosting(context.Background(), url); ok {
		t.Error("expected no PID for a closed port")
	}
}

func TestStartTimeAndSampleSelf(t *testing.T) {
	pid := int32(os.Getpid())
	if _, ok := StartTime(context.Background(), pid); !ok {
		t.Error("expected a start time for the current process")
	}
	if _, ok := SampleProcess(context.Background(), pid); !ok {
		t.Error("expected a sample for the current process")
	}
}
