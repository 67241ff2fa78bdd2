package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/moffa90/go-stm32boot/config"
	"github.com/moffa90/go-stm32boot/device"
	"github.com/moffa90/go-stm32boot/image"
)

// useSimulator points the command globals at an in-memory device.
func useSimulator(t *testing.T) {
	t.Helper()

	cfg = config.Default()
	cfg.ReconnectDelay = 0
	log = initLogger(logrus.PanicLevel)
	flagSimulate = "0x0410"
	flagNoBar = true
	t.Cleanup(func() {
		flagSimulate = ""
		flagNoBar = false
	})
}

func medDensity(t *testing.T) *device.Type {
	t.Helper()

	dt, err := device.NewType(0x0410, 0x22)
	if err != nil {
		t.Fatalf("NewType: %v", err)
	}
	return dt
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"0x08000000", 0x08000000, false},
		{"0X1f", 0x1F, false},
		{"ff", 0xFF, false},
		{"0xFFFFFFFF", 0xFFFFFFFF, false},
		{"0x100000000", 0, true},
		{"zz", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseNumber(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseNumber(%q) = 0x%X, want 0x%X", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVarP(&flagPort, "port", "p", "", "")
	flags.IntVarP(&flagBaud, "baud", "b", 0, "")
	flags.DurationVar(&flagTimeout, "timeout", 0, "")
	flags.StringVar(&flagLogLevel, "log-level", "", "")

	if err := flags.Parse([]string{"-p", "/dev/ttyUSB1", "--timeout", "2s"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	c := config.Default()
	c.Baud = 9600
	c.LogLevel = "warn"
	applyFlags(flags, c)

	if c.Port != "/dev/ttyUSB1" {
		t.Errorf("Port = %q", c.Port)
	}
	if c.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %v", c.ReadTimeout)
	}
	// unset flags keep the file values
	if c.Baud != 9600 {
		t.Errorf("Baud = %d, want 9600", c.Baud)
	}
	if c.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", c.LogLevel)
	}
}

func TestImagePages(t *testing.T) {
	dt := medDensity(t)

	tests := []struct {
		name   string
		img    *image.Image
		offset uint32
		want   []int
	}{
		{
			name: "binary at start",
			img:  image.ParseBinary(make([]byte, 1024)),
			want: []int{0},
		},
		{
			name:   "binary with offset spans pages",
			img:    image.ParseBinary(make([]byte, 3000)),
			offset: 0x1000,
			want:   []int{4, 5, 6},
		},
		{
			name: "unaligned tail rounds up",
			img:  image.ParseBinary(make([]byte, 1023)),
			want: []int{0},
		},
		{
			name: "hex segments",
			img: &image.Image{
				Format: image.FormatIntelHex,
				Segments: []image.Segment{
					{Address: 0x08000400, Data: []byte{1, 2, 3, 4}},
					{Address: 0x08000000, Data: []byte{1, 2, 3, 4}},
					{Address: 0x08000404, Data: []byte{5, 6, 7, 8}},
				},
			},
			want: []int{0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := imagePages(dt, tt.img, tt.offset)
			if err != nil {
				t.Fatalf("imagePages: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("imagePages = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestImagePages_OutsideFlash(t *testing.T) {
	dt := medDensity(t)

	img := image.ParseBinary(make([]byte, 2048))
	if _, err := imagePages(dt, img, uint32(dt.FlashSize()-1024)); err == nil {
		t.Error("expected an error for an image past the end of flash")
	}

	hex := &image.Image{
		Format:   image.FormatIntelHex,
		Segments: []image.Segment{{Address: 0x20000000, Data: []byte{1, 2, 3, 4}}},
	}
	if _, err := imagePages(dt, hex, 0); err == nil {
		t.Error("expected an error for a segment in RAM")
	}
}

func TestImageBase(t *testing.T) {
	bin := image.ParseBinary([]byte{1, 2, 3, 4})
	if got := imageBase(bin, 0x2000); got != device.FlashStart+0x2000 {
		t.Errorf("binary base = 0x%08X", got)
	}

	hex := &image.Image{
		Format:   image.FormatIntelHex,
		Segments: []image.Segment{{Address: 0x08004000, Data: []byte{1, 2, 3, 4}}},
	}
	if got := imageBase(hex, 0); got != 0x08004000 {
		t.Errorf("hex base = 0x%08X", got)
	}
}

func TestSectorBytes(t *testing.T) {
	got, err := sectorBytes([]int{0, 3, 255})
	if err != nil {
		t.Fatalf("sectorBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 3, 255}) {
		t.Errorf("sectorBytes = % X", got)
	}

	for _, bad := range [][]int{nil, {-1}, {256}} {
		if _, err := sectorBytes(bad); err == nil {
			t.Errorf("sectorBytes(%v) should fail", bad)
		}
	}
}

func TestParseByte(t *testing.T) {
	if b, err := parseByte("0x42"); err != nil || b != 0x42 {
		t.Errorf("parseByte(0x42) = 0x%02X, %v", b, err)
	}
	if _, err := parseByte("0x100"); err == nil {
		t.Error("parseByte(0x100) should fail")
	}
}

func TestRegionOf(t *testing.T) {
	dt := medDensity(t)

	tests := []struct {
		addr    uint32
		want    string
		wantErr bool
	}{
		{0x08000000, "flash", false},
		{0x0801FFFF, "flash", false},
		{0x20000200, "ram", false},
		{0x20000000, "", true},
		{0x08020000, "", true},
	}

	for _, tt := range tests {
		got, err := regionOf(dt, tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("regionOf(0x%08X) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("regionOf(0x%08X) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestRenderOptionBytes(t *testing.T) {
	ob, err := device.FactoryOptionBytes().WithDataByte0(0x42).WithProtectedSectors([]int{1, 2})
	if err != nil {
		t.Fatalf("WithProtectedSectors: %v", err)
	}

	out := strings.Join(renderOptionBytes(ob), "\n")
	for _, want := range []string{"0x42 0xFF", "protected sectors  1,2", "read protected     no"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDeviceInfo_NoOptionBytes(t *testing.T) {
	out := renderDeviceInfo(medDensity(t), nil, nil)
	if !strings.Contains(out, "stm32f10xxxMedDensity") {
		t.Errorf("output missing device name:\n%s", out)
	}
	if !strings.Contains(out, "(unavailable)") {
		t.Errorf("output missing unavailable marker:\n%s", out)
	}
}

func TestApplyOptionFlags(t *testing.T) {
	flags := optbytesSetCmd.Flags()
	for name, value := range map[string]string{
		"data1":           "7",
		"reset-on-stop":   "true",
		"protect-sectors": "0,5",
	} {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}

	ob, err := applyOptionFlags(optbytesSetCmd, device.FactoryOptionBytes())
	if err != nil {
		t.Fatalf("applyOptionFlags: %v", err)
	}
	if ob.DataByte1() != 7 {
		t.Errorf("DataByte1 = %d", ob.DataByte1())
	}
	if !ob.ResetOnStop() {
		t.Error("ResetOnStop not applied")
	}
	if !reflect.DeepEqual(ob.ProtectedSectors(), []int{0, 5}) {
		t.Errorf("ProtectedSectors = %v", ob.ProtectedSectors())
	}
	// untouched fields keep their values
	if !ob.SoftwareWatchdog() || ob.DataByte0() != 0xFF {
		t.Errorf("unrelated fields changed: %s", ob)
	}
}

func TestOpenPort_NoPort(t *testing.T) {
	cfg = config.Default()
	flagSimulate = ""
	if _, err := openPort(); err == nil {
		t.Error("expected an error without a port")
	}
}

func TestOpenPort_SimulatedProductID(t *testing.T) {
	useSimulator(t)

	tests := []struct {
		pid     string
		wantErr bool
	}{
		{"0x0410", false},
		{"0x0430", false},
		{"0x10410", true},
		{"0xFFFF0410", true},
		{"0x0999", true},
	}

	for _, tt := range tests {
		t.Run(tt.pid, func(t *testing.T) {
			flagSimulate = tt.pid
			port, err := openPort()
			if (err != nil) != tt.wantErr {
				t.Fatalf("openPort(--simulate %s) error = %v, wantErr %v", tt.pid, err, tt.wantErr)
			}
			if port != nil {
				port.Close()
			}
		})
	}
}

func TestSession_ReadWriteRegion(t *testing.T) {
	useSimulator(t)
	ctx := context.Background()

	s, err := openSession(ctx, true)
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.Close()

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	for _, addr := range []uint32{0x20001000, 0x08000800} {
		if err := writeRegion(ctx, s.prog, addr, data); err != nil {
			t.Fatalf("writeRegion(0x%08X): %v", addr, err)
		}
		got, err := readRegion(ctx, s.prog, addr, len(data))
		if err != nil {
			t.Fatalf("readRegion(0x%08X): %v", addr, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("0x%08X: read % X, want % X", addr, got, data)
		}
	}

	if _, err := readRegion(ctx, s.prog, 0x40000000, 4); err == nil {
		t.Error("expected an error for an unmapped address")
	}
}

func TestFlashCommand_Simulated(t *testing.T) {
	useSimulator(t)

	path := filepath.Join(t.TempDir(), "app.bin")
	firmware := bytes.Repeat([]byte{0x5A, 0xA5, 0x00, 0x11}, 750)
	if err := os.WriteFile(path, firmware, 0o644); err != nil {
		t.Fatal(err)
	}

	flashOffset, flashErase, flashVerify, flashGo = "0x1000", "pages", true, true
	t.Cleanup(func() {
		flashOffset, flashErase, flashVerify, flashGo = "0", "pages", false, false
	})

	flashCmd.SetContext(context.Background())
	if err := flashCmd.RunE(flashCmd, []string{path}); err != nil {
		t.Fatalf("flash: %v", err)
	}
}

func TestFlashCommand_BadErase(t *testing.T) {
	useSimulator(t)

	path := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}

	flashErase = "some"
	t.Cleanup(func() { flashErase = "pages" })

	flashCmd.SetContext(context.Background())
	if err := flashCmd.RunE(flashCmd, []string{path}); err == nil {
		t.Error("expected an error for an unknown erase mode")
	}
}

func TestConfirm_AssumeYes(t *testing.T) {
	assumeYes = true
	t.Cleanup(func() { assumeYes = false })

	if err := confirm("Erase?"); err != nil {
		t.Errorf("confirm with --yes: %v", err)
	}
}
