package receiver_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xfer/receiver"
	"xfer/sender"
)

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

type collectingWarn struct{ messages []string }

func (c *collectingWarn) Warn(msg string) { c.messages = append(c.messages, msg) }

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve ephemeral port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("release ephemeral port: %v", err)
	}
	return port
}

func writeFixture(t *testing.T, root, relPath string, content []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir for fixture %s: %v", relPath, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", relPath, err)
	}
}

// startSender binds the given port and runs the sender in the
// background, delivering its announced connection string once
// listening begins.
func startSender(t *testing.T, port int, inputDir string) (connStr chan string, done chan error) {
	t.Helper()
	connStr = make(chan string, 1)
	done = make(chan error, 1)

	eng := sender.New(sender.Config{
		InputPaths: []string{inputDir},
		PodMode:    true,
		ListenAddr: fmt.Sprintf("127.0.0.1:%d", port),
		Overlay:    nil,
		Logger:     discardLogger{},
		Warn:       &collectingWarn{},
	})

	go func() {
		err := eng.Run(context.Background(), func(cs string) { connStr <- cs })
		done <- err
	}()
	return connStr, done
}

func TestRoundTrip_FreshTransferSucceeds(t *testing.T) {
	inputDir := t.TempDir()
	recvDir := t.TempDir()

	writeFixture(t, inputDir, "notes.txt", []byte("hello from the sender"))
	writeFixture(t, inputDir, "nested/data.bin", bytes.Repeat([]byte{0xAB, 0xCD}, 2048))

	port := freeTCPPort(t)
	connCh, senderDone := startSender(t, port, inputDir)

	var connectionString string
	select {
	case connectionString = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sender to announce")
	}

	recvEng := receiver.New(receiver.Config{
		ConnectionString: connectionString,
		Port:              port,
		WorkDir:           recvDir,
		PodMode:           true,
		Continue:          true,
		Logger:            discardLogger{},
		Warn:              &collectingWarn{},
	})
	if err := recvEng.Run(context.Background()); err != nil {
		t.Fatalf("receiver.Run: %v", err)
	}

	if err := <-senderDone; err != nil {
		t.Fatalf("sender.Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(recvDir, "notes.txt"))
	if err != nil {
		t.Fatalf("read notes.txt: %v", err)
	}
	if string(got) != "hello from the sender" {
		t.Fatalf("notes.txt content mismatch: got %q", got)
	}

	gotBin, err := os.ReadFile(filepath.Join(recvDir, "nested", "data.bin"))
	if err != nil {
		t.Fatalf("read nested/data.bin: %v", err)
	}
	want := bytes.Repeat([]byte{0xAB, 0xCD}, 2048)
	if !bytes.Equal(gotBin, want) {
		t.Fatalf("nested/data.bin content mismatch")
	}

	if _, err := os.Stat(filepath.Join(recvDir, ".transfer_lock.json")); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed on success, stat err = %v", err)
	}
}

func TestRoundTrip_WrongTokenFailsClosed(t *testing.T) {
	inputDir := t.TempDir()
	recvDir := t.TempDir()
	writeFixture(t, inputDir, "secret.txt", []byte("do not leak"))

	port := freeTCPPort(t)
	connCh, senderDone := startSender(t, port, inputDir)

	var connectionString string
	select {
	case connectionString = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sender to announce")
	}

	parts := strings.SplitN(connectionString, ":", 2)
	if len(parts) != 2 {
		t.Fatalf("unexpected connection string shape: %q", connectionString)
	}
	wrongConnectionString := parts[0] + ":wrong-token"

	recvEng := receiver.New(receiver.Config{
		ConnectionString: wrongConnectionString,
		Port:              port,
		WorkDir:           recvDir,
		PodMode:           true,
		Continue:          true,
		Logger:            discardLogger{},
		Warn:              &collectingWarn{},
	})
	if err := recvEng.Run(context.Background()); err == nil {
		t.Fatal("expected the receiver to reject a session derived from a mismatched token")
	}

	// The receiver closing its connection on a failed decrypt should
	// surface as a network error on the sender's side well before its
	// own retry-loop timeout; drain it without asserting on its shape.
	select {
	case <-senderDone:
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not observe the receiver's connection close")
	}

	if _, err := os.Stat(filepath.Join(recvDir, "secret.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be written for a session that failed the handshake, stat err = %v", err)
	}
}
