package validation

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataStreamRoundTrip(t *testing.T) {
	w := NewDataStreamWriter()
	w.WriteUint8(7)
	w.WriteUint16(513)
	w.WriteUint32(70000)
	w.WriteUint64(1 << 40)
	w.WriteCell(19, 3)
	w.WriteShortBytes([]byte("viper"))

	r := NewDataStream(w.Bytes())
	if v := r.ReadUint8(); v != 7 {
		t.Fatalf("uint8 = %d", v)
	}
	if v := r.ReadUint16(); v != 513 {
		t.Fatalf("uint16 = %d", v)
	}
	if v := r.ReadUint32(); v != 70000 {
		t.Fatalf("uint32 = %d", v)
	}
	if v := r.ReadUint64(); v != 1<<40 {
		t.Fatalf("uint64 = %d", v)
	}
	if x, y := r.ReadCell(20, 20); x != 19 || y != 3 {
		t.Fatalf("cell = (%d,%d)", x, y)
	}
	if name := r.ReadShortBytes(); !bytes.Equal(name, []byte("viper")) {
		t.Fatalf("name = %q", name)
	}
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Fatalf("%d bytes left over", r.Len())
	}
}

func TestDataStreamShortReadIsSticky(t *testing.T) {
	r := NewDataStream([]byte{1, 2, 3})
	if v := r.ReadUint32(); v != 0 {
		t.Fatalf("short read returned %d", v)
	}
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("err = %v", r.Err())
	}
	if v := r.ReadUint8(); v != 0 {
		t.Fatalf("read after error returned %d", v)
	}
	if r.CanRead(1) {
		t.Fatalf("CanRead after error")
	}
}

func TestDataStreamCellOutsideWorld(t *testing.T) {
	w := NewDataStreamWriter()
	w.WriteCell(20, 0)

	r := NewDataStream(w.Bytes())
	r.ReadCell(20, 20)
	if r.Err() == nil {
		t.Fatalf("x = width accepted")
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"min world", IsValidWorldSize(20, 20), true},
		{"narrow world", IsValidWorldSize(19, 200), false},
		{"tps 255", IsValidTicksPerSecond(255), true},
		{"tps 0", IsValidTicksPerSecond(0), false},
		{"food rate 2", IsValidFoodRate(2), true},
		{"food rate 1", IsValidFoodRate(1), false},
		{"direction 3", IsValidDirection(3), true},
		{"direction 4", IsValidDirection(4), false},
		{"corner cell", IsValidCoordinate(19, 19, 20, 20), true},
		{"negative cell", IsValidCoordinate(-1, 0, 20, 20), false},
		{"port 0", IsValidPort(0), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
