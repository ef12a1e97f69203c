package util

import "testing"

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"10G", 10240, false},
		{"10g", 10240, false},
		{"512M", 512, false},
		{"1.5GB", 1536, false},
		{"2048Ki", 2, false},
		{"1T", 1048576, false},
		{"1048576", 1, false},
		{" 4G ", 4096, false},
		{"512 MiB", 512, false},
		{"G", 0, true},
		{"lots", 0, true},
		{"4X", 0, true},
		{"-1G", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMemory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMemory(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
