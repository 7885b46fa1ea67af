package meshcop

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendAndParse(t *testing.T) {
	payload, err := Append(nil, TypeNetworkName, []byte("mesh-1"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	payload, err = Append(payload, TypeState, []byte{1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	tlvs, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tlvs) != 2 {
		t.Fatalf("got %d TLVs, want 2", len(tlvs))
	}
	if tlvs[0].Type != TypeNetworkName || !bytes.Equal(tlvs[0].Value, []byte("mesh-1")) {
		t.Errorf("first TLV: got %s %q", tlvs[0].Type, tlvs[0].Value)
	}
	if tlvs[1].Type != TypeState || !bytes.Equal(tlvs[1].Value, []byte{1}) {
		t.Errorf("second TLV: got %s %v", tlvs[1].Type, tlvs[1].Value)
	}
}

func TestAppendZeroLengthValue(t *testing.T) {
	payload, err := Append(nil, TypeGet, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	tlvs, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tlvs) != 1 || len(tlvs[0].Value) != 0 {
		t.Fatalf("got %v", tlvs)
	}
}

func TestAppendValueTooLong(t *testing.T) {
	if _, err := Append(nil, TypeProvisioningURL, make([]byte, 256)); !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("got %v, want ErrValueTooLong", err)
	}
}

func TestParseTruncated(t *testing.T) {
	cases := [][]byte{
		{0x03},             // header cut mid-way
		{0x03, 0x04, 0x61}, // value shorter than claimed
	}
	for _, payload := range cases {
		if _, err := Parse(payload); !errors.Is(err, ErrTLVTruncated) {
			t.Errorf("Parse(%x): got %v, want ErrTLVTruncated", payload, err)
		}
	}
	if _, err := Parse(nil); err != nil {
		t.Errorf("Parse(nil): %v", err)
	}
}

func TestFind(t *testing.T) {
	payload, _ := Append(nil, TypeNetworkName, []byte("mesh-1"))
	payload = AppendState(payload, StateAccept)

	value, err := Find(payload, TypeState)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !bytes.Equal(value, []byte{1}) {
		t.Errorf("got %v", value)
	}

	if _, err := Find(payload, TypeSteeringData); !errors.Is(err, ErrTLVNotFound) {
		t.Errorf("got %v, want ErrTLVNotFound", err)
	}
}

func TestFindReturnsFirstMatch(t *testing.T) {
	payload, _ := Append(nil, TypeChannel, []byte{11})
	payload, _ = Append(payload, TypeChannel, []byte{26})

	value, err := Find(payload, TypeChannel)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if value[0] != 11 {
		t.Errorf("got channel %d, want 11", value[0])
	}
}
