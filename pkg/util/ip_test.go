package util

import (
	"testing"
)

func TestParseIPv6(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "baba:2001:10::", "baba:2001:10::", false},
		{"with prefix len", "baba:2001:10::/64", "baba:2001:10::", false},
		{"non canonical", "BABA:2001:0010:0000::", "baba:2001:10::", false},
		{"whitespace", " fc00::1 ", "fc00::1", false},
		{"ipv4", "10.0.0.1", "", true},
		{"ipv4 mapped", "::ffff:10.0.0.1", "", true},
		{"garbage", "not-an-ip", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIPv6(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIPv6(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseIPv6(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"20.20.20.20/32", "20.20.20.20/32", false},
		{"20.20.20.20", "20.20.20.20/32", false},
		{"5000::/64", "5000::/64", false},
		{"5000::1/64", "5000::/64", false},
		{"2001::1", "2001::1/128", false},
		{"5000::/129", "", true},
		{"bogus/24", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePrefix(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrefix(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParsePrefix(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsUnspecified(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"0.0.0.0", true},
		{"::", true},
		{"2001::1", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		if got := IsUnspecified(tt.input); got != tt.want {
			t.Errorf("IsUnspecified(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
