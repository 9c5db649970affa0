package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/example/ridepulse/internal/events"
	"github.com/example/ridepulse/internal/lobby"
	"github.com/example/ridepulse/internal/models"
	"github.com/example/ridepulse/internal/relay"
	"github.com/example/ridepulse/internal/store"
)

type received struct {
	event   string
	payload any
}

func recorder(into *[]received) lobby.EventHandler {
	return func(event string, payload any) {
		*into = append(*into, received{event, payload})
	}
}

func TestSubscribeAndCancel(t *testing.T) {
	r := NewRegistry(nil)
	var got []received
	cancel := r.Subscribe("RIDE01", "alice", recorder(&got))

	r.Message("RIDE01", "host", "hello", time.Now())
	if len(got) != 1 || got[0].event != events.EvtMessage {
		t.Fatalf("expected one message event, got %+v", got)
	}
	// other rooms stay quiet
	r.Message("OTHER1", "host", "hello", time.Now())
	if len(got) != 1 {
		t.Fatalf("cross-room leak: %+v", got)
	}

	cancel()
	r.Message("RIDE01", "host", "again", time.Now())
	if len(got) != 1 {
		t.Fatalf("delivery after cancel: %+v", got)
	}
	if r.Subscribers("RIDE01") != 0 {
		t.Fatal("room not cleaned up after last cancel")
	}
}

func TestLocationFanOutExcludesOrigin(t *testing.T) {
	r := NewRegistry(nil)
	var mallory, alice []received
	r.Subscribe("RIDE01", "mallory", recorder(&mallory))
	r.Subscribe("RIDE01", "alice", recorder(&alice))

	r.RiderLocation("RIDE01", "alice", models.Location{Latitude: 12.9, Longitude: 77.6, Speed: 30})

	if len(alice) != 0 {
		t.Fatalf("reporter received its own location: %+v", alice)
	}
	if len(mallory) != 1 {
		t.Fatalf("expected one delivery to mallory, got %+v", mallory)
	}
	p, ok := mallory[0].payload.(events.RiderLocation)
	if !ok {
		t.Fatalf("unexpected payload type %T", mallory[0].payload)
	}
	if p.RiderID != "alice" || p.Latitude != 12.9 || p.Longitude != 77.6 || p.Speed != 30 {
		t.Fatalf("bad location payload: %+v", p)
	}
}

// End-to-end over the in-process channel: Mallory hosts, Alice joins, Alice
// reports a location. Mallory sees the join and the location; Alice never
// sees her own report.
func TestLobbyScenarioMalloryAlice(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	st := store.NewMemoryStore()
	svc := lobby.NewService(st, lobby.NewCodeGenerator("", 0), reg, nil)
	rl := relay.New(st, reg, nil)

	code, created, err := svc.Create(ctx, lobby.RiderInfo{ID: "mallory-conn", Name: "Mallory"})
	if err != nil {
		t.Fatal(err)
	}
	if len(created.Members) != 1 || !created.Members[0].IsHost || created.Members[0].Name != "Mallory" {
		t.Fatalf("bad initial snapshot: %+v", created.Members)
	}

	var mallory, alice []received
	cancelM, err := svc.Subscribe(ctx, code, "mallory-conn", recorder(&mallory))
	if err != nil {
		t.Fatal(err)
	}
	defer cancelM()
	// the late subscriber gets the current state first
	if len(mallory) != 1 || mallory[0].event != events.EvtLobbySnapshot {
		t.Fatalf("expected snapshot on subscribe, got %+v", mallory)
	}

	if _, err := svc.Join(ctx, code, lobby.RiderInfo{ID: "alice-conn", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	cancelA, err := svc.Subscribe(ctx, code, "alice-conn", recorder(&alice))
	if err != nil {
		t.Fatal(err)
	}
	defer cancelA()

	joined := mallory[len(mallory)-1]
	if joined.event != events.EvtRiderJoined {
		t.Fatalf("mallory did not see the join: %+v", mallory)
	}
	jp := joined.payload.(events.RiderJoined)
	if jp.Rider.ID != "alice-conn" || len(jp.Members) != 2 {
		t.Fatalf("bad rider_joined payload: %+v", jp)
	}

	rl.UpdateLocation(ctx, code, "alice-conn", models.Location{Latitude: 12.9, Longitude: 77.6, Speed: 30})

	last := mallory[len(mallory)-1]
	if last.event != events.EvtRiderLocation {
		t.Fatalf("mallory did not receive the location: %+v", mallory)
	}
	lp := last.payload.(events.RiderLocation)
	if lp.RiderID != "alice-conn" || lp.Latitude != 12.9 || lp.Longitude != 77.6 || lp.Speed != 30 {
		t.Fatalf("bad location payload: %+v", lp)
	}
	for _, r := range alice {
		if r.event == events.EvtRiderLocation {
			t.Fatalf("alice received her own location: %+v", r)
		}
	}
}
