package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridepulse/internal/ingest"
)

type fakeMirror struct {
	geoFails  int
	hsetFails int
	geoCalls  int
	hsetCalls int
	lastGeo   *redis.GeoLocation
	lastMeta  map[string]interface{}
}

func (f *fakeMirror) GeoAdd(_ context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoFails > 0 {
		f.geoFails--
		return errors.New("geoadd failed")
	}
	f.lastGeo = loc
	return nil
}

func (f *fakeMirror) HSet(_ context.Context, key string, values map[string]interface{}) error {
	f.hsetCalls++
	if f.hsetFails > 0 {
		f.hsetFails--
		return errors.New("hset failed")
	}
	f.lastMeta = values
	return nil
}

func record() ingest.LocationRecord {
	return ingest.LocationRecord{
		Code:      "RIDE01",
		RiderID:   "alice",
		Latitude:  12.9,
		Longitude: 77.6,
		Speed:     30,
		Heading:   180,
		Updated:   time.Now().UTC(),
	}
}

func TestMirrorWithRetrySucceedsFirstTry(t *testing.T) {
	m := &fakeMirror{}
	if err := mirrorWithRetry(context.Background(), m, record(), 3, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if m.geoCalls != 1 || m.hsetCalls != 1 {
		t.Fatalf("expected single geo+hset call, got geo=%d hset=%d", m.geoCalls, m.hsetCalls)
	}
	if m.lastGeo == nil || m.lastGeo.Name != "alice" || m.lastGeo.Latitude != 12.9 {
		t.Fatalf("bad geo payload: %+v", m.lastGeo)
	}
	if m.lastMeta["code"] != "RIDE01" {
		t.Fatalf("bad meta payload: %+v", m.lastMeta)
	}
}

func TestMirrorWithRetryRecovers(t *testing.T) {
	m := &fakeMirror{geoFails: 2}
	if err := mirrorWithRetry(context.Background(), m, record(), 3, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if m.geoCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", m.geoCalls)
	}
}

func TestMirrorWithRetryExhausted(t *testing.T) {
	m := &fakeMirror{geoFails: 5}
	if err := mirrorWithRetry(context.Background(), m, record(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if m.geoCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", m.geoCalls)
	}
}

func TestMirrorWithRetryHSetFailureRetriesWholeRecord(t *testing.T) {
	m := &fakeMirror{hsetFails: 1}
	if err := mirrorWithRetry(context.Background(), m, record(), 3, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if m.geoCalls != 2 || m.hsetCalls != 2 {
		t.Fatalf("expected both writes retried together, got geo=%d hset=%d", m.geoCalls, m.hsetCalls)
	}
}

func TestKeys(t *testing.T) {
	if geoKey("RIDE01") != "ride:positions:RIDE01" {
		t.Fatal(geoKey("RIDE01"))
	}
	if metaKey("alice") != "rider:meta:alice" {
		t.Fatal(metaKey("alice"))
	}
}
