package lobby

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/example/ridepulse/internal/models"
	"github.com/example/ridepulse/internal/store"
)

type notification struct {
	event   string
	code    string
	riderID string
	text    string
}

// fakeNotifier records every fan-out call in order.
type fakeNotifier struct{ calls []notification }

func (f *fakeNotifier) RiderJoined(l *models.Lobby, r *models.Rider) {
	f.calls = append(f.calls, notification{event: "rider_joined", code: l.Code, riderID: r.ID})
}
func (f *fakeNotifier) RiderLeft(l *models.Lobby, riderID string) {
	f.calls = append(f.calls, notification{event: "rider_left", code: l.Code, riderID: riderID})
}
func (f *fakeNotifier) MemberRemoved(l *models.Lobby, targetID string) {
	f.calls = append(f.calls, notification{event: "member_removed", code: l.Code, riderID: targetID})
}
func (f *fakeNotifier) RideStarted(l *models.Lobby) {
	f.calls = append(f.calls, notification{event: "ride_started", code: l.Code})
}
func (f *fakeNotifier) RideEnded(l *models.Lobby) {
	f.calls = append(f.calls, notification{event: "ride_ended", code: l.Code})
}
func (f *fakeNotifier) LobbyCancelled(l *models.Lobby) {
	f.calls = append(f.calls, notification{event: "lobby_cancelled", code: l.Code})
}
func (f *fakeNotifier) Message(code, senderID, text string, _ time.Time) {
	f.calls = append(f.calls, notification{event: "message", code: code, riderID: senderID, text: text})
}
func (f *fakeNotifier) Subscribe(string, string, EventHandler) func() { return func() {} }

func (f *fakeNotifier) last() notification {
	if len(f.calls) == 0 {
		return notification{}
	}
	return f.calls[len(f.calls)-1]
}

// seqGenerator replays a fixed code sequence, forcing collisions on demand.
type seqGenerator struct {
	codes []string
	i     int
}

func (g *seqGenerator) Generate() string {
	c := g.codes[g.i%len(g.codes)]
	g.i++
	return c
}

type fakeArchive struct{ saved []models.RideSummary }

func (a *fakeArchive) SaveRide(_ context.Context, s models.RideSummary) error {
	a.saved = append(a.saved, s)
	return nil
}

func newTestService() (*Service, *fakeNotifier) {
	n := &fakeNotifier{}
	svc := NewService(store.NewMemoryStore(), NewCodeGenerator("", 0), n, nil)
	return svc, n
}

var codeShape = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestCreateLobbyHostInvariant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	code, l, err := svc.Create(ctx, RiderInfo{ID: "conn-1", Name: "Mallory", Vehicle: "Bonneville T120"})
	if err != nil {
		t.Fatal(err)
	}
	if !codeShape.MatchString(code) {
		t.Fatalf("bad code shape: %q", code)
	}
	if l.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", l.Status)
	}
	if len(l.Members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(l.Members))
	}
	host := l.Members[0]
	if !host.IsHost || host.ID != l.HostID || host.ID != "conn-1" || host.Name != "Mallory" {
		t.Fatalf("host invariant broken: %+v hostID=%s", host, l.HostID)
	}
	if !host.IsOnline {
		t.Fatal("host should be online after create")
	}
}

func TestCreateLobbyValidation(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.Create(context.Background(), RiderInfo{ID: "c1", Name: "  "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	n := &fakeNotifier{}
	gen := &seqGenerator{codes: []string{"AAAAAA", "AAAAAA", "BBBBBB"}}
	svc := NewService(store.NewMemoryStore(), gen, n, nil)

	code1, _, err := svc.Create(ctx, RiderInfo{ID: "h1", Name: "First"})
	if err != nil || code1 != "AAAAAA" {
		t.Fatalf("setup create failed: %s %v", code1, err)
	}
	// generator now yields AAAAAA (taken) then BBBBBB
	gen.i = 1
	code2, _, err := svc.Create(ctx, RiderInfo{ID: "h2", Name: "Second"})
	if err != nil {
		t.Fatal(err)
	}
	if code2 != "BBBBBB" {
		t.Fatalf("expected retry to land on BBBBBB, got %s", code2)
	}
}

// Even with the collision probability forced high by a tiny alphabet, codes
// stay pairwise distinct and the retry loop terminates.
func TestCreateCodesUniqueUnderPressure(t *testing.T) {
	ctx := context.Background()
	n := &fakeNotifier{}
	svc := NewService(store.NewMemoryStore(), NewCodeGenerator("ABCD", 2), n, nil)
	svc.GenerateAttempts = 256

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		code, _, err := svc.Create(ctx, RiderInfo{ID: "h", Name: "Host"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[code] {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = true
	}
}

func TestJoinIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})

	if _, err := svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	svc.Leave(ctx, code, "alice")
	l, err := svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice", Vehicle: "Street Triple"})
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Members) != 2 {
		t.Fatalf("rejoin duplicated member: %d members", len(l.Members))
	}
	alice := l.Member("alice")
	if alice == nil || !alice.IsOnline || alice.Vehicle != "Street Triple" {
		t.Fatalf("rejoin did not refresh rider: %+v", alice)
	}
	if got := n.last(); got.event != "rider_joined" || got.riderID != "alice" {
		t.Fatalf("expected rider_joined fan-out, got %+v", got)
	}
}

func TestJoinUnknownLobby(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Join(context.Background(), "ZZZZZZ", RiderInfo{ID: "a", Name: "A"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJoinNormalizesCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	if _, err := svc.Join(ctx, "  "+code+" ", RiderInfo{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("expected trimmed code to join, got %v", err)
	}
}

func TestJoinTerminalLobbyRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	if _, err := svc.Cancel(ctx, code, "host"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, code, RiderInfo{ID: "a", Name: "A"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestJoinActiveLobbyOnlyForExistingMembers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	if _, err := svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartRide(ctx, code, "host"); err != nil {
		t.Fatal(err)
	}
	// reconnect of an existing member
	if _, err := svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("member rejoin during active ride should work: %v", err)
	}
	// stranger
	if _, err := svc.Join(ctx, code, RiderInfo{ID: "eve", Name: "Eve"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for new rider on active ride, got %v", err)
	}
}

func TestHostInvariantSurvivesChurn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	svc.Join(ctx, code, RiderInfo{ID: "a", Name: "A"})
	svc.Join(ctx, code, RiderInfo{ID: "b", Name: "B"})
	svc.Leave(ctx, code, "a")
	svc.Join(ctx, code, RiderInfo{ID: "a", Name: "A"})
	svc.RemoveMember(ctx, code, "host", "b")

	l, err := svc.Snapshot(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	hosts := 0
	for _, m := range l.Members {
		if m.IsHost {
			hosts++
			if m.ID != l.HostID {
				t.Fatalf("host flag on wrong rider %s", m.ID)
			}
		}
	}
	if hosts != 1 {
		t.Fatalf("expected exactly one host, got %d", hosts)
	}
}

func TestStartRidePermission(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"})

	if _, err := svc.StartRide(ctx, code, "alice"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	l, _ := svc.Snapshot(ctx, code)
	if l.Status != models.StatusWaiting {
		t.Fatalf("failed start mutated status: %s", l.Status)
	}
}

func TestStartRideStateGuard(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})

	l, err := svc.StartRide(ctx, code, "host")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", l.Status)
	}
	if got := n.last(); got.event != "ride_started" {
		t.Fatalf("expected ride_started fan-out, got %+v", got)
	}
	if _, err := svc.StartRide(ctx, code, "host"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on double start, got %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"})

	if _, err := svc.RemoveMember(ctx, code, "alice", "host"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, err := svc.RemoveMember(ctx, code, "host", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for non-member target, got %v", err)
	}
	l, err := svc.RemoveMember(ctx, code, "host", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if l.Member("alice") != nil {
		t.Fatal("alice still a member after removal")
	}
	// removal is announced with a system message naming the rider
	if got := n.last(); got.event != "message" || got.riderID != systemSender || !strings.Contains(got.text, "Alice") {
		t.Fatalf("expected system message naming Alice, got %+v", got)
	}
}

func TestLeaveIsBestEffort(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService()
	// unknown lobby and unknown rider are both silent no-ops
	svc.Leave(ctx, "ZZZZZZ", "nobody")
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	svc.Leave(ctx, code, "nobody")

	svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"})
	svc.Leave(ctx, code, "alice")
	l, _ := svc.Snapshot(ctx, code)
	alice := l.Member("alice")
	if alice == nil {
		t.Fatal("leave removed the member record")
	}
	if alice.IsOnline {
		t.Fatal("leave did not mark rider offline")
	}
	if got := n.last(); got.event != "rider_left" || got.riderID != "alice" {
		t.Fatalf("expected rider_left fan-out, got %+v", got)
	}
}

func TestBroadcastRequiresOnlineMembership(t *testing.T) {
	ctx := context.Background()
	svc, n := newTestService()
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})

	if err := svc.Broadcast(ctx, code, "stranger", "hello"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if err := svc.Broadcast(ctx, code, "host", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.Broadcast(ctx, code, "host", "SOS - rider down"); err != nil {
		t.Fatal(err)
	}
	if got := n.last(); got.event != "message" || got.text != "SOS - rider down" {
		t.Fatalf("expected message fan-out, got %+v", got)
	}
}

func TestEndRideArchivesSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	arch := &fakeArchive{}
	svc.Archive = arch
	code, _, _ := svc.Create(ctx, RiderInfo{ID: "host", Name: "Mallory"})
	svc.Join(ctx, code, RiderInfo{ID: "alice", Name: "Alice"})

	if _, err := svc.EndRide(ctx, code, "host"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state ending a waiting lobby, got %v", err)
	}
	svc.StartRide(ctx, code, "host")
	l, err := svc.EndRide(ctx, code, "host")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", l.Status)
	}
	if len(arch.saved) != 1 {
		t.Fatalf("expected 1 archived ride, got %d", len(arch.saved))
	}
	s := arch.saved[0]
	if s.Code != code || s.HostID != "host" || s.MemberCount != 2 || s.EndedAt.IsZero() {
		t.Fatalf("bad summary: %+v", s)
	}
}
