package inference

import "testing"

func TestParseDevice(t *testing.T) {
	valid := []string{"cpu", "cuda", "coreml"}
	for _, s := range valid {
		d, err := ParseDevice(s)
		if err != nil {
			t.Errorf("ParseDevice(%q): %v", s, err)
		}
		if string(d) != s {
			t.Errorf("ParseDevice(%q) = %q", s, d)
		}
	}

	for _, s := range []string{"", "gpu", "CUDA", "metal"} {
		if _, err := ParseDevice(s); err == nil {
			t.Errorf("ParseDevice(%q) should fail", s)
		}
	}
}
