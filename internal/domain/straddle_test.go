package domain

import "testing"

func TestCombinePremium(t *testing.T) {
	got := CombinePremium(125.50, 88.25)
	if got != 213.75 {
		t.Errorf("expected 213.75, got %v", got)
	}
}

func TestCombineVolumeIsMaxNotSum(t *testing.T) {
	if v := CombineVolume(1000, 250); v != 1000 {
		t.Errorf("expected 1000, got %d", v)
	}
	if v := CombineVolume(250, 1000); v != 1000 {
		t.Errorf("expected 1000, got %d", v)
	}
	if v := CombineVolume(500, 500); v != 500 {
		t.Errorf("expected 500, got %d", v)
	}
}

func TestPriceStateDirection(t *testing.T) {
	var ps PriceState

	if !ps.Update(100.0) {
		t.Fatal("first update should report a change")
	}
	if ps.Direction != DirectionSame {
		t.Errorf("first value has no direction, got %v", ps.Direction)
	}

	if !ps.Update(101.5) {
		t.Fatal("higher price should report a change")
	}
	if ps.Direction != DirectionUp {
		t.Errorf("expected DirectionUp, got %v", ps.Direction)
	}

	if ps.Update(101.5) {
		t.Error("same price should not report a change")
	}

	if !ps.Update(99.0) {
		t.Fatal("lower price should report a change")
	}
	if ps.Direction != DirectionDown {
		t.Errorf("expected DirectionDown, got %v", ps.Direction)
	}
}
