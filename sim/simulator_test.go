package sim

import (
	"bytes"
	"context"
	"testing"

	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/protocol"
)

func connected(t *testing.T, pid uint16, opts ...Option) (*Simulator, *protocol.Engine) {
	t.Helper()

	s, err := New(pid, opts...)
	if err != nil {
		t.Fatalf("New(0x%04X): %v", pid, err)
	}
	e := protocol.NewEngine(s)
	resp, err := e.Handshake(context.Background())
	if err != nil || !resp.Acked {
		t.Fatalf("handshake = %+v, %v", resp, err)
	}
	return s, e
}

func TestNewUnsupported(t *testing.T) {
	if _, err := New(0x0999); err == nil {
		t.Error("expected error for unsupported PID")
	}
}

func TestIdentify(t *testing.T) {
	_, e := connected(t, 0x0414)
	ctx := context.Background()

	resp, err := e.GetID(ctx)
	if err != nil {
		t.Fatalf("GetID: %v", err)
	}
	pid, _ := protocol.ParseProductID(resp.Data)
	if pid != 0x0414 {
		t.Errorf("pid = 0x%04X, want 0x0414", pid)
	}

	resp, err = e.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	info, err := protocol.ParseBootloaderInfo(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != 0x22 || !info.Supports(protocol.CmdErase) {
		t.Errorf("info = %+v", info)
	}

	resp, err = e.GetVersion(ctx)
	if err != nil || !bytes.Equal(resp.Data, []byte{0x22, 0x00, 0x00}) {
		t.Errorf("GetVersion = %+v, %v", resp, err)
	}
}

func TestRAMWriteRead(t *testing.T) {
	s, e := connected(t, 0x0410)
	ctx := context.Background()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}

	resp, err := e.WriteMemory(ctx, 0x20000400, data)
	if err != nil || !resp.Acked {
		t.Fatalf("WriteMemory = %+v, %v", resp, err)
	}

	resp, err = e.ReadMemory(ctx, 0x20000400, len(data))
	if err != nil || !resp.Acked {
		t.Fatalf("ReadMemory = %+v, %v", resp, err)
	}
	if !bytes.Equal(resp.Data, data) {
		t.Errorf("read back % X, want % X", resp.Data, data)
	}

	if w := s.Writes(); len(w) != 1 || w[0] != (Transfer{Address: 0x20000400, Length: 8}) {
		t.Errorf("Writes() = %v", w)
	}
}

func TestFlashProgramsLikeNOR(t *testing.T) {
	s, e := connected(t, 0x0412)
	ctx := context.Background()

	if _, err := e.WriteMemory(ctx, 0x08000000, []byte{0x0F, 0xF0, 0x00, 0xFF}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.WriteMemory(ctx, 0x08000000, []byte{0xFF, 0xFF, 0xFF, 0x0F}); err != nil {
		t.Fatal(err)
	}

	mem, _ := s.Memory(0x08000000, 4)
	if !bytes.Equal(mem, []byte{0x0F, 0xF0, 0x00, 0x0F}) {
		t.Errorf("flash = % X, bits can only be cleared", mem)
	}

	resp, err := e.ErasePages(ctx, []byte{0})
	if err != nil || !resp.Acked {
		t.Fatalf("ErasePages = %+v, %v", resp, err)
	}
	mem, _ = s.Memory(0x08000000, 4)
	if !bytes.Equal(mem, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("flash after erase = % X", mem)
	}
}

func TestSystemMemoryWriteIsSilent(t *testing.T) {
	_, e := connected(t, 0x0410)

	_, err := e.WriteMemory(context.Background(), 0x1FFFF000, make([]byte, 4))
	if !protocol.IsNoResponse(err) {
		t.Fatalf("error = %v, want no response", err)
	}
}

func TestReadoutProtection(t *testing.T) {
	s, e := connected(t, 0x0410)
	ctx := context.Background()

	s.LoadMemory(0x08000000, []byte{1, 2, 3, 4})

	resp, err := e.ReadoutProtect(ctx)
	if err != nil || !resp.Acked {
		t.Fatalf("ReadoutProtect = %+v, %v", resp, err)
	}
	if s.Synced() {
		t.Error("device should reset after readout protect")
	}

	if _, err := e.Handshake(ctx); err != nil {
		t.Fatal(err)
	}
	resp, err = e.ReadMemory(ctx, 0x08000000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Acked {
		t.Error("read must be refused while protected")
	}

	if _, err := e.ReadoutUnprotect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Handshake(ctx); err != nil {
		t.Fatal(err)
	}
	resp, err = e.ReadMemory(ctx, 0x08000000, 4)
	if err != nil || !resp.Acked {
		t.Fatalf("ReadMemory = %+v, %v", resp, err)
	}
	if !bytes.Equal(resp.Data, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("unprotect must mass-erase, flash = % X", resp.Data)
	}
}

func TestWriteProtection(t *testing.T) {
	s, e := connected(t, 0x0410)
	ctx := context.Background()

	if _, err := e.WriteProtect(ctx, []byte{0}); err != nil {
		t.Fatal(err)
	}
	ob, _ := device.DecodeOptionBytes(func() []byte { b := s.OptionBytes(); return b[:] }())
	if got := ob.ProtectedSectors(); len(got) != 1 || got[0] != 0 {
		t.Errorf("ProtectedSectors() = %v", got)
	}

	if _, err := e.Handshake(ctx); err != nil {
		t.Fatal(err)
	}
	resp, err := e.WriteMemory(ctx, 0x08000000, make([]byte, 4))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Acked {
		t.Error("write to a protected sector must be refused")
	}

	if _, err := e.WriteUnprotect(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Resets() != 2 {
		t.Errorf("Resets() = %d, want 2", s.Resets())
	}
}

func TestOptionBytesWriteResets(t *testing.T) {
	s, e := connected(t, 0x0410)

	ob := device.FactoryOptionBytes().WithDataByte0(0x42).Bytes()
	resp, err := e.WriteMemory(context.Background(), device.OptionBytesAddress, ob[:])
	if err != nil || !resp.Acked {
		t.Fatalf("WriteMemory = %+v, %v", resp, err)
	}
	if s.Synced() {
		t.Error("device should reset after an option-byte write")
	}
	if s.OptionBytes()[4] != 0x42 {
		t.Errorf("DATA0 = 0x%02X, want 0x42", s.OptionBytes()[4])
	}
}

func TestGo(t *testing.T) {
	s, e := connected(t, 0x0410)

	resp, err := e.Go(context.Background(), 0x08000000)
	if err != nil || !resp.Acked {
		t.Fatalf("Go = %+v, %v", resp, err)
	}
	if !s.Running() {
		t.Error("application should be running")
	}
}

func TestDTRReset(t *testing.T) {
	s, e := connected(t, 0x0410)

	if err := e.ResetDevice(); err != nil {
		t.Fatal(err)
	}
	if s.Synced() || s.Resets() != 1 {
		t.Errorf("Synced=%v Resets=%d", s.Synced(), s.Resets())
	}
}

func TestClosedPort(t *testing.T) {
	s, _ := connected(t, 0x0410)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte{0x7F}); err != ErrPortClosed {
		t.Errorf("Write on closed port = %v", err)
	}
	if _, err := s.Read(make([]byte, 1)); err != ErrPortClosed {
		t.Errorf("Read on closed port = %v", err)
	}
}
