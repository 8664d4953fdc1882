package identity

import "testing"

func TestHasherRoundTrip(t *testing.T) {
	h := DefaultHasher()
	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Verify of correct password returned false")
	}
}

func TestHasherRejectsWrongPassword(t *testing.T) {
	h := DefaultHasher()
	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Verify of wrong password returned true")
	}
}

func TestHasherDummyHashNeverMatches(t *testing.T) {
	h := DefaultHasher()
	ok, err := h.Verify("anything", dummyHash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("dummyHash unexpectedly matched a real password")
	}
}
