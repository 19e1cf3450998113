package main

import "testing"

func TestParseDialect(t *testing.T) {
	cases := map[string]bool{"kernel": true, "recorder": true, "bogus": false}
	for in, want := range cases {
		_, err := parseDialect(in)
		if (err == nil) != want {
			t.Errorf("parseDialect(%q): err=%v, want ok=%v", in, err, want)
		}
	}
}
