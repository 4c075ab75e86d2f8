package quota

import (
	"context"
	"testing"
)

func TestMemoryLedgerSpend(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant("u1", 100)

	ok, err := l.HasCredits(ctx, "u1", 40)
	if err != nil || !ok {
		t.Fatalf("HasCredits(40) = %v, %v; want true", ok, err)
	}

	ok, err = l.UseCredits(ctx, "u1", 40)
	if err != nil || !ok {
		t.Fatalf("UseCredits(40) = %v, %v; want true", ok, err)
	}
	if got := l.Balance("u1"); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}
}

func TestMemoryLedgerRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant("u1", 10)

	if ok, _ := l.HasCredits(ctx, "u1", 11); ok {
		t.Fatal("HasCredits over balance returned true")
	}
	if ok, _ := l.UseCredits(ctx, "u1", 11); ok {
		t.Fatal("UseCredits over balance returned true")
	}
	if got := l.Balance("u1"); got != 10 {
		t.Fatalf("balance changed on rejected spend: %d", got)
	}
}

func TestMemoryLedgerUnknownUser(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if ok, _ := l.HasCredits(ctx, "ghost", 1); ok {
		t.Fatal("unknown user has credits")
	}
}

func TestUnlimitedAlwaysAllows(t *testing.T) {
	ctx := context.Background()
	var l Ledger = Unlimited{}
	if ok, err := l.HasCredits(ctx, "anyone", 1<<30); err != nil || !ok {
		t.Fatalf("HasCredits = %v, %v", ok, err)
	}
	if ok, err := l.UseCredits(ctx, "anyone", 1<<30); err != nil || !ok {
		t.Fatalf("UseCredits = %v, %v", ok, err)
	}
}
