//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solemart/checkout-api/internal/storage/postgres"
)

func uniqueToken(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("cart-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestClaimStore_SecondClaimLoses(t *testing.T) {
	store := postgres.NewClaimStore(pool)
	ctx := context.Background()
	token := uniqueToken(t)
	amount := decimal.RequireFromString("4.00")

	claimed, err := store.Claim(ctx, token, amount, "usd")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to win")
	}

	claimed, err = store.Claim(ctx, token, amount, "usd")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to lose")
	}
}

func TestClaimStore_ConcurrentClaimsSingleWinner(t *testing.T) {
	store := postgres.NewClaimStore(pool)
	ctx := context.Background()
	token := uniqueToken(t)
	amount := decimal.RequireFromString("4.00")

	const claimers = 8
	var winners atomic.Int32
	var wg sync.WaitGroup
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, token, amount, "usd")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestClaimStore_ReleaseAllowsRetry(t *testing.T) {
	store := postgres.NewClaimStore(pool)
	ctx := context.Background()
	token := uniqueToken(t)
	amount := decimal.RequireFromString("4.00")

	if claimed, err := store.Claim(ctx, token, amount, "usd"); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	// A failed completion releases the unconfirmed claim.
	if err := store.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}

	claimed, err := store.Claim(ctx, token, amount, "usd")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected reclaim to win after release")
	}
}

func TestClaimStore_ConfirmPinsClaim(t *testing.T) {
	store := postgres.NewClaimStore(pool)
	ctx := context.Background()
	token := uniqueToken(t)
	amount := decimal.RequireFromString("4.00")

	if claimed, err := store.Claim(ctx, token, amount, "usd"); err != nil || !claimed {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}
	if err := store.Confirm(ctx, token, "order_1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Release only drops unconfirmed claims; a confirmed one stays.
	if err := store.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	claimed, err := store.Claim(ctx, token, amount, "usd")
	if err != nil {
		t.Fatalf("claim after confirm: %v", err)
	}
	if claimed {
		t.Fatal("expected confirmed claim to survive release")
	}
}
