//go:build linux

package rtsync

import (
	"errors"
	"io/fs"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llxisdsh/rtsync/internal/ksem"
	"golang.org/x/sync/errgroup"
)

func newTestProcessSync(t *testing.T, dir string, opts ...func(*Config)) *ProcessSync {
	t.Helper()
	opts = append([]func(*Config){
		WithDir(dir),
		WithReporter(DiscardReporter),
		WithPromiscuous(false),
	}, opts...)
	return NewProcessSync(opts...)
}

// pair returns an allocated server handle and a client connected to it.
func pair(t *testing.T, initial uint32) (server, client *ProcessSync) {
	t.Helper()
	dir := t.TempDir()
	server = newTestProcessSync(t, dir)
	if err := server.Allocate("client", "server", initial); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	client = newTestProcessSync(t, dir)
	if err := client.Connect("client", "server"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect()
		if server.Connected() {
			_ = server.Destroy()
		}
	})
	return server, client
}

func value(t *testing.T, p *ProcessSync) uint32 {
	t.Helper()
	v, err := p.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	return v
}

func TestProcessSync_AllocateConnectShareCount(t *testing.T) {
	server, client := pair(t, 2)
	if server.Name() != client.Name() {
		t.Fatalf("names differ: %q and %q", server.Name(), client.Name())
	}
	if v := value(t, client); v != 2 {
		t.Fatalf("client sees count %d, want 2", v)
	}
	if err := client.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v := value(t, server); v != 1 {
		t.Fatalf("server sees count %d after client wait, want 1", v)
	}
	if err := server.Signal(); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if v := value(t, client); v != 2 {
		t.Fatalf("client sees count %d after server signal, want 2", v)
	}
}

func TestProcessSync_ConnectMismatchedName(t *testing.T) {
	dir := t.TempDir()
	server := newTestProcessSync(t, dir)
	if err := server.Allocate("client", "server", 0); err != nil {
		t.Fatal(err)
	}
	defer server.Destroy()

	other := newTestProcessSync(t, dir)
	err := other.Connect("client", "other-server")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Connect to another server = %v, want not exist", err)
	}
	var op *OpError
	if !errors.As(err, &op) || op.Op != "Connect" || op.Name != other.BuildName("client", "other-server") {
		t.Fatalf("Connect error = %#v", err)
	}
	if other.Connected() {
		t.Fatal("failed Connect left a handle")
	}

	// A different user scope does not meet the server either.
	stranger := newTestProcessSync(t, dir, WithUID(os.Getuid()+1))
	if err := stranger.Connect("client", "server"); err == nil {
		t.Fatal("Connect across user scopes succeeded")
	}
}

func TestProcessSync_DestroyThenConnect(t *testing.T) {
	dir := t.TempDir()
	server := newTestProcessSync(t, dir)
	if err := server.Allocate("client", "server", 0); err != nil {
		t.Fatal(err)
	}
	if err := server.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if server.Connected() {
		t.Fatal("Destroy left a handle")
	}
	client := newTestProcessSync(t, dir)
	if err := client.Connect("client", "server"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Connect after Destroy = %v, want not exist", err)
	}
	if err := server.Destroy(); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("second Destroy = %v, want ErrNotAllocated", err)
	}
}

func TestProcessSync_DestroyKeepsConnectedHandles(t *testing.T) {
	server, client := pair(t, 0)
	if err := server.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := client.Signal(); err != nil {
		t.Fatalf("Signal on an orphaned object: %v", err)
	}
	if ok, err := client.TimedWait(10_000); !ok || err != nil {
		t.Fatalf("TimedWait on an orphaned object = %v, %v", ok, err)
	}
}

func TestProcessSync_DisconnectReconnect(t *testing.T) {
	server, client := pair(t, 3)
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if err := client.Connect("client", "server"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if v := value(t, client); v != 3 {
		t.Fatalf("count %d after reconnect, want 3", v)
	}
	_ = server
}

func TestProcessSync_ConnectIdempotent(t *testing.T) {
	_, client := pair(t, 0)
	name := client.Name()
	for _, connect := range []func(string, string) error{client.Connect, client.ConnectInput, client.ConnectOutput} {
		if err := connect("client", "server"); err != nil {
			t.Fatalf("repeated connect: %v", err)
		}
	}
	if client.Name() != name {
		t.Fatalf("name changed to %q", client.Name())
	}
}

func TestProcessSync_AllocateTwice(t *testing.T) {
	server, _ := pair(t, 0)
	if err := server.Allocate("client", "server", 0); !errors.Is(err, ErrAllocated) {
		t.Fatalf("second Allocate = %v, want ErrAllocated", err)
	}
}

func TestProcessSync_AllocateKeepsExistingCount(t *testing.T) {
	dir := t.TempDir()
	a := newTestProcessSync(t, dir)
	if err := a.Allocate("client", "server", 4); err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()
	b := newTestProcessSync(t, dir)
	if err := b.Allocate("client", "server", 0); err != nil {
		t.Fatal(err)
	}
	defer b.Disconnect()
	if v := value(t, b); v != 4 {
		t.Fatalf("count %d, want the existing 4", v)
	}
}

func TestProcessSync_TimedWaitTimeout(t *testing.T) {
	_, client := pair(t, 0)
	start := time.Now()
	ok, err := client.TimedWait(30_000)
	elapsed := time.Since(start)
	if ok || err != nil {
		t.Fatalf("TimedWait = %v, %v; want false, nil", ok, err)
	}
	if elapsed < 25*time.Millisecond {
		t.Fatalf("TimedWait returned after %v", elapsed)
	}
	if v := value(t, client); v != 0 {
		t.Fatalf("count %d after timeout, want 0", v)
	}
}

func TestProcessSync_TimedWaitPositiveCount(t *testing.T) {
	_, client := pair(t, 1)
	ok, err := client.TimedWait(1_000_000)
	if !ok || err != nil {
		t.Fatalf("TimedWait = %v, %v; want true, nil", ok, err)
	}
	if v := value(t, client); v != 0 {
		t.Fatalf("count %d, want 0", v)
	}
}

func TestProcessSync_TimedWaitSignalled(t *testing.T) {
	server, client := pair(t, 0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = server.Signal()
	}()
	ok, err := client.TimedWait(int64(5 * time.Second / time.Microsecond))
	if !ok || err != nil {
		t.Fatalf("TimedWait = %v, %v; want true, nil", ok, err)
	}
}

func TestProcessSync_SignalAllWakesOne(t *testing.T) {
	server, client := pair(t, 0)
	const n = 3
	var woke atomic.Int32
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			ok, err := client.TimedWait(200_000)
			if ok {
				woke.Add(1)
			}
			return err
		})
	}
	time.Sleep(20 * time.Millisecond)
	if err := server.SignalAll(); err != nil {
		t.Fatalf("SignalAll: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("TimedWait: %v", err)
	}
	if w := woke.Load(); w != 1 {
		t.Fatalf("SignalAll woke %d waiters, want 1", w)
	}
}

func TestProcessSync_Flush(t *testing.T) {
	server, client := pair(t, 0)
	server.SetFlush(true)
	for _, signal := range []func() error{server.Signal, server.SignalAll} {
		if err := signal(); err != nil {
			t.Fatalf("flushed signal: %v", err)
		}
	}
	if v := value(t, client); v != 0 {
		t.Fatalf("count %d after flushed signals, want 0", v)
	}
	server.SetFlush(false)
	_ = server.Signal()
	if v := value(t, client); v != 1 {
		t.Fatalf("count %d, want 1", v)
	}
}

func TestProcessSync_NullHandle(t *testing.T) {
	p := newTestProcessSync(t, t.TempDir())
	for name, err := range map[string]error{
		"Signal":    p.Signal(),
		"SignalAll": p.SignalAll(),
		"Wait":      p.Wait(),
		"Destroy":   p.Destroy(),
	} {
		if !errors.Is(err, ErrNotAllocated) {
			t.Errorf("%s on a null handle = %v, want ErrNotAllocated", name, err)
		}
	}
	if ok, err := p.TimedWait(1000); ok || !errors.Is(err, ErrNotAllocated) {
		t.Errorf("TimedWait on a null handle = %v, %v", ok, err)
	}
	if _, err := p.Value(); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Value on a null handle = %v", err)
	}
	// Flushing does not hide the missing handle.
	p.SetFlush(true)
	if err := p.Signal(); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("flushed Signal on a null handle = %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Errorf("Disconnect on a null handle = %v", err)
	}
}

func TestProcessSync_PromiscuousWidens(t *testing.T) {
	dir := t.TempDir()
	p := newTestProcessSync(t, dir, WithPromiscuous(true), WithGroup(-1))
	if !p.Promiscuous() {
		t.Fatal("Promiscuous = false")
	}
	if err := p.Allocate("client", "server", 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer p.Destroy()

	if want := BuildName("client", "server", true, 0); p.Name() != want {
		t.Fatalf("Name = %q, want %q", p.Name(), want)
	}
	fi, err := os.Stat(ksem.Path(dir, p.Name()))
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o666 {
		t.Fatalf("mode = %v, want 0666", perm)
	}
}

func TestProcessSync_AsSynchro(t *testing.T) {
	_, client := pair(t, 0)
	var s Synchro = client
	if err := s.Signal(); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(); err != nil {
		t.Fatal(err)
	}
}
