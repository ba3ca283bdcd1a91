package keystore

import "testing"

func testKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte("super secret ecdsa key bytes")
	aad := []byte("swarmnode-identity-key")

	blob, err := Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Open(key, blob, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := testKey()
	wrongKey := make([]byte, 32)
	copy(wrongKey, key)
	wrongKey[0] ^= 0xFF

	blob, err := Seal(key, []byte("data"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(wrongKey, blob, nil); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	blob, err := Seal(key, []byte("data"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if _, err := Open(key, blob, nil); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestSealRejectsShortKey(t *testing.T) {
	if _, err := Seal([]byte("short"), []byte("data"), nil); err == nil {
		t.Fatal("expected error for short key")
	}
}
