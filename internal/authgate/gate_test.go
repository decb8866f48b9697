package authgate

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/store"
)

func newTestGate(t *testing.T) (*Gate, *sql.DB, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	auditPath := filepath.Join(dir, "auth_failures.log")
	g := New(st.DB(), 4, 5*time.Minute, NewAuditLog(auditPath))
	return g, st.DB(), auditPath
}

func readAudit(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestChallengeAndValidate(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "turn off the heating", "m1")
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if len(code) != 4 {
		t.Fatalf("code = %q, want 4 digits", code)
	}

	transcript, err := g.Validate(ctx, "+1555", code, "m2")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if transcript != "turn off the heating" {
		t.Errorf("transcript = %q", transcript)
	}
}

func TestValidateNoPending(t *testing.T) {
	g, _, auditPath := newTestGate(t)

	_, err := g.Validate(context.Background(), "+1555", "0000", "m1")
	if Reason(err) != RejectNoPending {
		t.Errorf("reason = %q, want no_pending", Reason(err))
	}

	entries := readAudit(t, auditPath)
	if len(entries) != 1 || entries[0].Reason != RejectNoPending || entries[0].SenderID != "+1555" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestValidateMismatchKeepsPending(t *testing.T) {
	g, _, auditPath := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "open the gate", "m1")
	if err != nil {
		t.Fatal(err)
	}
	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	if _, err := g.Validate(ctx, "+1555", wrong, "m2"); Reason(err) != RejectMismatch {
		t.Fatalf("reason = %q, want mismatch", Reason(err))
	}

	// A mismatch does not consume the pending state.
	transcript, err := g.Validate(ctx, "+1555", code, "m3")
	if err != nil {
		t.Fatalf("correct code after mismatch: %v", err)
	}
	if transcript != "open the gate" {
		t.Errorf("transcript = %q", transcript)
	}

	entries := readAudit(t, auditPath)
	if len(entries) != 1 || entries[0].Reason != RejectMismatch {
		t.Errorf("audit = %+v", entries)
	}
}

func TestValidateExpired(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "do the thing", "m1")
	if err != nil {
		t.Fatal(err)
	}

	// Move the clock past the TTL.
	g.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	if _, err := g.Validate(ctx, "+1555", code, "m2"); Reason(err) != RejectExpired {
		t.Errorf("reason = %q, want expired", Reason(err))
	}
}

func TestValidateOneShot(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "launch it", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Validate(ctx, "+1555", code, "m2"); err != nil {
		t.Fatal(err)
	}

	// Replaying the same correct code is rejected.
	if _, err := g.Validate(ctx, "+1555", code, "m3"); Reason(err) != RejectAlreadyConsumed {
		t.Errorf("replay reason = %q, want already_consumed", Reason(err))
	}
}

func TestValidateConcurrentSingleWinner(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "once only", "m1")
	if err != nil {
		t.Fatal(err)
	}

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Validate(ctx, "+1555", code, "race")
			wins <- err == nil
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
}

func TestChallengeSupersedes(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	old, err := g.Challenge(ctx, "+1555", "first request", "m1")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := g.Challenge(ctx, "+1555", "second request", "m2")
	if err != nil {
		t.Fatal(err)
	}

	// The superseded code is dead even if it differs from the fresh one.
	if old != fresh {
		if _, err := g.Validate(ctx, "+1555", old, "m3"); Reason(err) != RejectMismatch {
			t.Errorf("old code reason = %q, want mismatch", Reason(err))
		}
	}

	transcript, err := g.Validate(ctx, "+1555", fresh, "m4")
	if err != nil {
		t.Fatal(err)
	}
	if transcript != "second request" {
		t.Errorf("transcript = %q, want the superseding request", transcript)
	}
}

func TestChallengeRevivesConsumedSlot(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "+1555", "round one", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Validate(ctx, "+1555", code, "m2"); err != nil {
		t.Fatal(err)
	}

	// A new challenge after consumption starts a fresh cycle.
	code2, err := g.Challenge(ctx, "+1555", "round two", "m3")
	if err != nil {
		t.Fatal(err)
	}
	transcript, err := g.Validate(ctx, "+1555", code2, "m4")
	if err != nil {
		t.Fatalf("fresh cycle rejected: %v", err)
	}
	if transcript != "round two" {
		t.Errorf("transcript = %q", transcript)
	}
}

func TestHasLivePending(t *testing.T) {
	g, _, _ := newTestGate(t)
	ctx := context.Background()

	live, err := g.HasLivePending(ctx, "+1555")
	if err != nil {
		t.Fatal(err)
	}
	if live {
		t.Error("live pending before any challenge")
	}

	code, err := g.Challenge(ctx, "+1555", "x", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if live, _ = g.HasLivePending(ctx, "+1555"); !live {
		t.Error("no live pending after challenge")
	}

	if _, err := g.Validate(ctx, "+1555", code, "m2"); err != nil {
		t.Fatal(err)
	}
	if live, _ = g.HasLivePending(ctx, "+1555"); live {
		t.Error("live pending after consumption")
	}
}

func TestGC(t *testing.T) {
	g, db, _ := newTestGate(t)
	ctx := context.Background()

	code, err := g.Challenge(ctx, "consumed", "a", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Validate(ctx, "consumed", code, "m2"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Challenge(ctx, "live", "b", "m3"); err != nil {
		t.Fatal(err)
	}

	removed, err := g.GC(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pending_auth`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("remaining rows = %d, want 1 (the live one)", n)
	}
}

func TestGenerateCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode(4)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 4 {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q has non-digit %q", code, r)
			}
		}
	}

	code6, err := generateCode(6)
	if err != nil {
		t.Fatal(err)
	}
	if len(code6) != 6 {
		t.Errorf("6-digit code = %q", code6)
	}
}
