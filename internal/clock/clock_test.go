package clock

import "testing"

func TestLocationIsHoChiMinh(t *testing.T) {
	if Location().String() != "Asia/Ho_Chi_Minh" {
		t.Fatalf("expected Asia/Ho_Chi_Minh, got %s", Location().String())
	}
}

func TestNowUsesFixedLocation(t *testing.T) {
	if Now().Location().String() != Location().String() {
		t.Fatalf("Now() must report times in the fixed location")
	}
}
