package encoding

import (
	"bytes"
	"io"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.5, -0.5, 0.25},
		{},
	}
	for _, v := range vectors {
		if len(v) == 0 {
			continue // dimension is fixed per collection; zero-length rows are invalid
		}
		var buf bytes.Buffer
		if err := EncodeVector(&buf, v); err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeVector(&buf, len(v))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		for i := range v {
			if got[i] != v[i] {
				t.Errorf("index %d: got %v want %v", i, got[i], v[i])
			}
		}
	}
}

func TestDecodeVectorTruncated(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0x80})
	if _, err := DecodeVector(buf, 4); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	records := [][]byte{[]byte("hello"), {}, []byte(`{"a":1}`)}
	for _, r := range records {
		if err := WriteRecord(&buf, r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, want := range records {
		got, err := ReadRecord(&buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %q want %q", got, want)
		}
	}
	if _, err := ReadRecord(&buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	doc := map[string]any{"c": "x", "n": float64(3), "nested": map[string]any{"ok": true}}
	data, err := EncodeMetadata(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMetadata(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["c"] != "x" {
		t.Errorf("field c: got %v", got["c"])
	}
}

func TestValidateVector(t *testing.T) {
	cases := []struct {
		name string
		vec  []float32
		ok   bool
	}{
		{"empty", nil, false},
		{"ok", []float32{1, 2, 3}, true},
		{"nan", []float32{1, float32(nan())}, false},
	}
	for _, c := range cases {
		err := ValidateVector(c.vec)
		if (err == nil) != c.ok {
			t.Errorf("%s: err=%v want ok=%v", c.name, err, c.ok)
		}
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
