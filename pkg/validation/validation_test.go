package validation

import "testing"

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"plain http", "http://192.168.1.50", false},
		{"https with port", "https://kvm.local:8443", false},
		{"empty", "", true},
		{"no scheme", "192.168.1.50", true},
		{"bad scheme", "ftp://kvm.local", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMAC(t *testing.T) {
	if err := ValidateMAC("aa:bb:cc:dd:ee:ff"); err != nil {
		t.Errorf("expected valid MAC, got: %v", err)
	}
	if err := ValidateMAC("not-a-mac"); err == nil {
		t.Error("expected error for invalid MAC")
	}
	if err := ValidateMAC(""); err == nil {
		t.Error("expected error for empty MAC")
	}
}

func TestValidateJigglerMode(t *testing.T) {
	if err := ValidateJigglerMode("absolute"); err != nil {
		t.Errorf("expected absolute to be valid, got: %v", err)
	}
	if err := ValidateJigglerMode("relative"); err != nil {
		t.Errorf("expected relative to be valid, got: %v", err)
	}
	if err := ValidateJigglerMode("circular"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestValidateButtonDuration(t *testing.T) {
	for _, ms := range []int{100, 5000, 250} {
		if err := ValidateButtonDuration(ms); err != nil {
			t.Errorf("expected %d ms to be valid, got: %v", ms, err)
		}
	}
	for _, ms := range []int{0, 99, 5001, -100} {
		if err := ValidateButtonDuration(ms); err == nil {
			t.Errorf("expected %d ms to be rejected", ms)
		}
	}
}
