package protocol

import "testing"

func TestParsePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{name: "plain", input: "FEEDFACECAFEBEEF", want: 0xFEEDFACECAFEBEEF},
		{name: "lower case with prefix", input: "0xfeedfacecafebeef", want: 0xFEEDFACECAFEBEEF},
		{name: "upper prefix", input: "0X0123456789ABCDEF", want: 0x0123456789ABCDEF},
		{name: "surrounding space", input: "  0000000000000001 ", want: 1},
		{name: "too short", input: "FEEDFACE", wantErr: true},
		{name: "too long", input: "FEEDFACECAFEBEEF00", wantErr: true},
		{name: "not hex", input: "FEEDFACECAFEBEEG", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePassword(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePassword(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Uint64() != tt.want {
				t.Errorf("ParsePassword(%q) = %s, want %016X", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultPassword(t *testing.T) {
	if DefaultPassword.String() != "FEEDFACECAFEBEEF" {
		t.Errorf("DefaultPassword = %s", DefaultPassword)
	}
	if DefaultPassword[0] != 0xFE || DefaultPassword[7] != 0xEF {
		t.Errorf("DefaultPassword bytes = % X, want big-endian order", DefaultPassword[:])
	}
}

func TestComputeChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{name: "empty", data: nil, want: 0},
		{name: "single", data: []byte{0x7F}, want: 0x7F},
		{name: "sum", data: []byte{0x01, 0x02, 0x03, 0xFF}, want: 0x105},
		{name: "all ones", data: []byte{0xFF, 0xFF, 0xFF, 0xFF}, want: 0x3FC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeChecksum(tt.data); got != tt.want {
				t.Errorf("ComputeChecksum() = 0x%X, want 0x%X", got, tt.want)
			}
		})
	}
}

func TestUpdateChecksumMatchesWhole(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	var sum uint32
	for off := 0; off < len(data); off += 8 {
		end := off + 8
		if end > len(data) {
			end = len(data)
		}
		sum = UpdateChecksum(sum, data[off:end])
	}
	if want := ComputeChecksum(data); sum != want {
		t.Errorf("incremental checksum = 0x%X, want 0x%X", sum, want)
	}
}
