package encoding

import (
	"math"
	"testing"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint16, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10, NoData, NoData)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestDecodeRLE_Rejects(t *testing.T) {
	if _, err := DecodeRLE("!!not base64"); err == nil {
		t.Fatalf("expected base64 error")
	}
	// 0x80 is an unterminated varint.
	if _, err := DecodeRLE("gA=="); err == nil {
		t.Fatalf("expected varint error")
	}
}

func TestQuantizeLayer(t *testing.T) {
	vals := []float64{10, 10.25, math.NaN(), 12, math.Inf(1), 10}
	q := QuantizeLayer(vals, 4)
	if q.Min != 10 || q.Scale != 4 {
		t.Fatalf("min=%v scale=%v", q.Min, q.Scale)
	}
	want := []uint16{0, 1, NoData, 8, NoData, 0}
	for i := range want {
		if q.IDs[i] != want[i] {
			t.Fatalf("ids=%v want %v", q.IDs, want)
		}
	}
	back := q.Values()
	if back[1] != 10.25 || back[3] != 12 || !math.IsNaN(back[2]) {
		t.Fatalf("values=%v", back)
	}
}

func TestQuantizeLayer_ClampsAndDefaults(t *testing.T) {
	q := QuantizeLayer([]float64{0, 1e9}, 0)
	if q.Scale != 1 || q.IDs[1] != NoData-1 {
		t.Fatalf("q=%+v", q)
	}
	empty := QuantizeLayer([]float64{math.NaN()}, 1)
	if empty.IDs[0] != NoData || empty.Min != 0 {
		t.Fatalf("empty=%+v", empty)
	}
}
