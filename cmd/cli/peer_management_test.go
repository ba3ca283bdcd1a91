package cli

import "testing"

func TestParseOverlayArgRoundTrips(t *testing.T) {
	in := "aa000000000000000000000000000000000000000000000000000000000000bb"
	overlay, err := parseOverlayArg(in)
	if err != nil {
		t.Fatalf("parseOverlayArg: %v", err)
	}
	if overlay[0] != 0xaa || overlay[31] != 0xbb {
		t.Fatalf("unexpected overlay bytes: %x", overlay)
	}
}

func TestParseOverlayArgRejectsWrongLength(t *testing.T) {
	if _, err := parseOverlayArg("aabb"); err == nil {
		t.Fatal("expected error for short hex string")
	}
}

func TestParseOverlayArgRejectsNonHex(t *testing.T) {
	in := "zz000000000000000000000000000000000000000000000000000000000000bb"
	if _, err := parseOverlayArg(in); err == nil {
		t.Fatal("expected error for non-hex characters")
	}
}
