package ltq

import (
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	cases := []struct {
		in      string
		wantN   int
		wantWin time.Duration
		wantErr bool
	}{
		{"2/s", 2, time.Second, false},
		{"10/m", 10, time.Minute, false},
		{"1/h", 1, time.Hour, false},
		{"bad", 0, 0, true},
		{"2/d", 0, 0, true},
		{"x/s", 0, 0, true},
	}
	for _, c := range cases {
		got, err := ParseRate(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseRate(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRate(%q): unexpected error %v", c.in, err)
			continue
		}
		if got.N != c.wantN || got.Window != c.wantWin {
			t.Errorf("ParseRate(%q) = %+v, want N=%d Window=%s", c.in, got, c.wantN, c.wantWin)
		}
	}
}
