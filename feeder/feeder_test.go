package feeder

import "testing"

func TestReadMSBFirst(t *testing.T) {
	f := FromBytes([]byte{0x01, 0x02, 0x03, 0x04})
	v, err := f.Read(2)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0102 {
		t.Fatalf("Read(2) = %#x, want 0x0102", v)
	}
	v, err = f.Read(2)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0304 {
		t.Fatalf("Read(2) = %#x, want 0x0304", v)
	}
}

func TestExhaustionOnFinalByteSucceedsThenFails(t *testing.T) {
	f := FromBytes([]byte{0xaa})
	if _, err := f.Read(1); err != nil {
		t.Fatalf("final byte read should succeed: %v", err)
	}
	if _, err := f.Read(1); err != Exhausted {
		t.Fatalf("expected Exhausted once the buffer runs out, got %v", err)
	}
}

func TestFromBytesTruncatesToMaxBuffer(t *testing.T) {
	big := make([]byte, MaxBufferBytes+50)
	f := FromBytes(big)
	if f.Remaining() != MaxBufferBytes {
		t.Fatalf("Remaining = %d, want %d", f.Remaining(), MaxBufferBytes)
	}
}
