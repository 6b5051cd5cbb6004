package countbuf

import "testing"

func TestUint32ToBytesLittleEndian(t *testing.T) {
	got := uint32ToBytes(0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("uint32ToBytes(0x01020304) = %x, want %x", got, want)
		}
	}
}

func TestBoundIsNotOwned(t *testing.T) {
	c := Bound(nil)
	if c.IsOwned() {
		t.Error("Bound count must report IsOwned() == false")
	}
	// Destroy and Update on a Bound count must be no-ops, never touching
	// the caller's buffer or a nil device.
	c.Destroy()
	c.Update(nil, 5)
}
