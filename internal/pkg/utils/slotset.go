package utils

// SlotSet represents a slot number hash set.
type SlotSet map[uint64]struct{}

// NewSlotSet creates a new SlotSet
func NewSlotSet() SlotSet {
	return make(SlotSet)
}

// Contains checks if a set contains specified slot.
func (ss SlotSet) Contains(slot uint64) bool {
	_, ok := ss[slot]
	return ok
}

// Empty checks if slot set is empty.
func (ss SlotSet) Empty() bool {
	return len(ss) == 0
}

// Add inserts a slot into a slot set.
func (ss SlotSet) Add(slot uint64) {
	ss[slot] = struct{}{}
}

// Remove deletes a slot from a slot set.
func (ss SlotSet) Remove(slot uint64) {
	delete(ss, slot)
}
