package protocol

import (
	"bytes"
	"testing"

	"github.com/muurk/bamload/internal/bus"
)

func TestEncodePassword(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		want     [][]byte
	}{
		{
			name:     "single frame",
			capacity: 8,
			want:     [][]byte{{0xFE, 0xED, 0xFA, 0xCE, 0xCA, 0xFE, 0xBE, 0xEF}},
		},
		{
			name:     "split in two",
			capacity: 4,
			want:     [][]byte{{0xFE, 0xED, 0xFA, 0xCE}, {0xCA, 0xFE, 0xBE, 0xEF}},
		},
		{
			name:     "uneven split",
			capacity: 3,
			want:     [][]byte{{0xFE, 0xED, 0xFA}, {0xCE, 0xCA, 0xFE}, {0xBE, 0xEF}},
		},
		{
			name:     "out of range capacity falls back to 8",
			capacity: 12,
			want:     [][]byte{{0xFE, 0xED, 0xFA, 0xCE, 0xCA, 0xFE, 0xBE, 0xEF}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Codec{Profile: ProfileBAM, Capacity: tt.capacity}
			frames := c.EncodePassword(DefaultPassword)
			if len(frames) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(frames), len(tt.want))
			}
			for i, f := range frames {
				if f.ID != IDPassword {
					t.Errorf("frame %d ID = 0x%03X, want 0x%03X", i, f.ID, IDPassword)
				}
				if !bytes.Equal(f.Payload(), tt.want[i]) {
					t.Errorf("frame %d payload = %X, want %X", i, f.Payload(), tt.want[i])
				}
			}
		})
	}
}

func TestEncodeHeader(t *testing.T) {
	c := NewCodec(ProfileBAM)

	tests := []struct {
		name    string
		entry   uint32
		length  int
		vle     bool
		want    []byte
		wantErr bool
	}{
		{
			name:   "vle image at default address",
			entry:  DefaultEntryAddress,
			length: 0x1234,
			vle:    true,
			want:   []byte{0x40, 0x00, 0x01, 0x00, 0x80, 0x00, 0x12, 0x34},
		},
		{
			name:   "booke image",
			entry:  0x40001000,
			length: 16,
			vle:    false,
			want:   []byte{0x40, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x10},
		},
		{
			name:   "maximum length",
			entry:  0,
			length: MaxImageLength,
			vle:    true,
			want:   []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name:    "zero length",
			entry:   DefaultEntryAddress,
			length:  0,
			wantErr: true,
		},
		{
			name:    "length collides with vle bit",
			entry:   DefaultEntryAddress,
			length:  MaxImageLength + 1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := c.EncodeHeader(tt.entry, tt.length, tt.vle)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if frames[0].ID != IDHeader {
				t.Errorf("ID = 0x%03X, want 0x%03X", frames[0].ID, IDHeader)
			}
			if !bytes.Equal(frames[0].Payload(), tt.want) {
				t.Errorf("payload = %X, want %X", frames[0].Payload(), tt.want)
			}
		})
	}
}

func TestEncodeHeaderRoundTrip(t *testing.T) {
	for _, capacity := range []int{8, 4, 3, 1} {
		c := Codec{Profile: ProfileMonitor, Capacity: capacity}
		frames, err := c.EncodeHeader(0x40000100, 777, true)
		if err != nil {
			t.Fatalf("capacity %d: EncodeHeader() error = %v", capacity, err)
		}
		if want := BlockCount(8, capacity); len(frames) != want {
			t.Errorf("capacity %d: got %d frames, want %d", capacity, len(frames), want)
		}

		h, err := DecodeHeader(frames)
		if err != nil {
			t.Fatalf("capacity %d: DecodeHeader() error = %v", capacity, err)
		}
		want := Header{EntryAddress: 0x40000100, Length: 777, VLE: true}
		if h != want {
			t.Errorf("capacity %d: header = %+v, want %+v", capacity, h, want)
		}
	}
}

func TestEncodeDataBlock(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	c := NewCodec(ProfileBAM)

	tests := []struct {
		name    string
		offset  int
		want    []byte
		wantLen int
	}{
		{name: "first block", offset: 0, want: []byte{1, 2, 3, 4, 5, 6, 7, 8}, wantLen: 8},
		{name: "short last block", offset: 8, want: []byte{9, 10, 11}, wantLen: 3},
		{name: "single byte", offset: 10, want: []byte{11}, wantLen: 1},
		{name: "past end", offset: 11, want: []byte{}, wantLen: 0},
		{name: "negative offset", offset: -1, want: []byte{}, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, n := c.EncodeDataBlock(data, tt.offset)
			if n != tt.wantLen {
				t.Errorf("n = %d, want %d", n, tt.wantLen)
			}
			if n > 0 && f.ID != IDData {
				t.Errorf("ID = 0x%03X, want 0x%03X", f.ID, IDData)
			}
			if !bytes.Equal(f.Payload(), tt.want) {
				t.Errorf("payload = %X, want %X", f.Payload(), tt.want)
			}
		})
	}
}

func TestEncodeDataBlockCoversImage(t *testing.T) {
	data := make([]byte, 101)
	for i := range data {
		data[i] = byte(i * 7)
	}

	for _, capacity := range []int{1, 3, 5, 8} {
		c := Codec{Capacity: capacity}
		var got []byte
		frames := 0
		for off := 0; off < len(data); {
			f, n := c.EncodeDataBlock(data, off)
			if n == 0 {
				t.Fatalf("capacity %d: zero-length block at offset %d", capacity, off)
			}
			got = append(got, f.Payload()...)
			off += n
			frames++
		}
		if !bytes.Equal(got, data) {
			t.Errorf("capacity %d: concatenated blocks differ from image", capacity)
		}
		if frames != c.BlockCount(len(data)) {
			t.Errorf("capacity %d: %d frames, BlockCount = %d", capacity, frames, c.BlockCount(len(data)))
		}
	}
}

func TestEncodeSyncAndExecute(t *testing.T) {
	c := NewCodec(ProfileMonitor)

	sync := c.EncodeSync()
	if sync.ID != IDSync || !bytes.Equal(sync.Payload(), []byte{SyncMarker}) {
		t.Errorf("EncodeSync() = %s", sync)
	}

	exec := c.EncodeExecute(0x40000100)
	if exec.ID != IDExecute || !bytes.Equal(exec.Payload(), []byte{0x40, 0x00, 0x01, 0x00}) {
		t.Errorf("EncodeExecute() = %s", exec)
	}
	entry, err := DecodeExecute(exec)
	if err != nil || entry != 0x40000100 {
		t.Errorf("DecodeExecute() = 0x%08X, %v", entry, err)
	}
}

func TestBlockCount(t *testing.T) {
	tests := []struct {
		length, capacity, want int
	}{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{16, 8, 2},
		{17, 8, 3},
		{10, 3, 4},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := BlockCount(tt.length, tt.capacity); got != tt.want {
			t.Errorf("BlockCount(%d, %d) = %d, want %d", tt.length, tt.capacity, got, tt.want)
		}
	}
}

func TestEncodeEcho(t *testing.T) {
	sent := bus.NewFrame(IDData, []byte{0xAA, 0xBB})
	echo, err := EncodeEcho(sent)
	if err != nil {
		t.Fatalf("EncodeEcho() error = %v", err)
	}
	if echo.ID != IDDataEcho || !bytes.Equal(echo.Payload(), sent.Payload()) {
		t.Errorf("EncodeEcho() = %s", echo)
	}

	if _, err := EncodeEcho(bus.NewFrame(IDExecute, nil)); err == nil {
		t.Error("EncodeEcho() on execute frame succeeded, want error")
	}
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("monitor")
	if err != nil || p != ProfileMonitor {
		t.Errorf("LookupProfile(monitor) = %+v, %v", p, err)
	}
	p, err = LookupProfile("bam")
	if err != nil || p.SyncProbe || p.FinalStatus || p.Execute {
		t.Errorf("LookupProfile(bam) = %+v, %v", p, err)
	}
	if _, err := LookupProfile("xcp"); err == nil {
		t.Error("LookupProfile(xcp) succeeded, want error")
	}
}
