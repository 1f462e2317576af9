package eventloop

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"buxton/internal/wire"
)

func encodeFrame(t *testing.T, msgid uint64, params ...wire.Param) []byte {
	t.Helper()
	buf, err := wire.Encode(wire.MsgGet, msgid, params)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf
}

func TestDrainFramesSplitsMultipleFramesInOneRead(t *testing.T) {
	f1 := encodeFrame(t, 1, wire.StringParam("base"), wire.StringParam("net"))
	f2 := encodeFrame(t, 2, wire.StringParam("base"), wire.StringParam("net"))

	buf := append(append([]byte{}, f1...), f2...)
	frames, rest, err := drainFrames(buf)
	if err != nil {
		t.Fatalf("drainFrames: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remaining bytes, got %d", len(rest))
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if _, msgid, _, err := wire.Decode(frames[0]); err != nil || msgid != 1 {
		t.Fatalf("frame 0: msgid=%d err=%v", msgid, err)
	}
	if _, msgid, _, err := wire.Decode(frames[1]); err != nil || msgid != 2 {
		t.Fatalf("frame 1: msgid=%d err=%v", msgid, err)
	}
}

func TestDrainFramesWaitsForPartialFrame(t *testing.T) {
	f1 := encodeFrame(t, 1, wire.StringParam("base"), wire.StringParam("net"))
	partial := f1[:len(f1)-2]

	frames, rest, err := drainFrames(partial)
	if err != nil {
		t.Fatalf("drainFrames: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames, got %d", len(frames))
	}
	if len(rest) != len(partial) {
		t.Fatal("expected all bytes retained as a pending partial frame")
	}
}

func TestDrainFramesRejectsOversizeDeclaredLength(t *testing.T) {
	header := make([]byte, 8)
	// A valid magic with a total_len beyond the cap (scenario S6).
	header[0], header[1], header[2], header[3] = 0x72, 0x06, 0x00, 0x00
	header[4], header[5], header[6], header[7] = 0xFF, 0xFF, 0x00, 0x00

	if _, _, err := drainFrames(header); err == nil {
		t.Fatal("expected drainFrames to reject an oversize declared frame length")
	}
}

func TestBindUnixListenerCreatesSocketWithWorldPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buxton.sock")

	fd, err := bindUnixListener(path)
	if err != nil {
		t.Fatalf("bindUnixListener: %v", err)
	}
	defer unix.Close(fd)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket file: %v", err)
	}
	if info.Mode().Perm() != 0666 {
		t.Fatalf("socket mode = %v, want 0666", info.Mode().Perm())
	}
}

func TestBindUnixListenerRemovesStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buxton.sock")

	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	fd, err := bindUnixListener(path)
	if err != nil {
		t.Fatalf("bindUnixListener over stale file: %v", err)
	}
	unix.Close(fd)
}

func TestInheritedListenerFDRequiresMatchingEnv(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")
	if _, ok := inheritedListenerFD(); ok {
		t.Fatal("expected no inherited listener without LISTEN_PID/LISTEN_FDS")
	}

	t.Setenv("LISTEN_PID", "1")
	t.Setenv("LISTEN_FDS", "1")
	if _, ok := inheritedListenerFD(); ok {
		t.Fatal("expected no inherited listener when LISTEN_PID does not match this process")
	}
}
