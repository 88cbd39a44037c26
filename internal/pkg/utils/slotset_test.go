package utils

import "testing"

func TestSlotSet(t *testing.T) {
	var (
		ss   = NewSlotSet()
		data = []uint64{351000001, 351000002, 351000003}
	)

	if !ss.Empty() {
		t.Fatal("slot set should be empty")
	}

	for _, v := range data {
		ss.Add(v)
	}

	if ss.Empty() {
		t.Fatalf("slot set should contain %d slots: %#v", len(data), data)
	}

	for _, v := range data {
		if !ss.Contains(v) {
			t.Fatalf("slot set should contain slot %d", v)
		}

		ss.Remove(v)
	}

	if !ss.Empty() {
		t.Fatal("slot set should be empty")
	}
}
