package app

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeSubprocessReady struct{ ready bool }

func (f fakeSubprocessReady) Ready() bool { return f.ready }

func TestBuildReadinessChecks_AllReady(t *testing.T) {
	dataSourceCheck, carrierCheck, storeCheck := BuildReadinessChecks(
		fakePinger{}, fakeSubprocessReady{ready: true}, fakeSubprocessReady{ready: true})

	if err := dataSourceCheck(context.Background()); err != nil {
		t.Fatalf("data source check: %v", err)
	}
	if err := carrierCheck(context.Background()); err != nil {
		t.Fatalf("carrier check: %v", err)
	}
	if err := storeCheck(context.Background()); err != nil {
		t.Fatalf("store check: %v", err)
	}
}

func TestBuildReadinessChecks_CarrierNotReady(t *testing.T) {
	_, carrierCheck, _ := BuildReadinessChecks(
		fakePinger{}, fakeSubprocessReady{ready: true}, fakeSubprocessReady{ready: false})

	if err := carrierCheck(context.Background()); err == nil {
		t.Fatalf("expected carrier not ready error")
	}
}

func TestBuildReadinessChecks_DataSourceNotReady(t *testing.T) {
	dataSourceCheck, _, _ := BuildReadinessChecks(
		fakePinger{}, fakeSubprocessReady{ready: false}, fakeSubprocessReady{ready: true})

	if err := dataSourceCheck(context.Background()); err == nil {
		t.Fatalf("expected data source not ready error")
	}
}

func TestBuildReadinessChecks_StorePingFails(t *testing.T) {
	_, _, storeCheck := BuildReadinessChecks(
		fakePinger{err: errors.New("disk full")}, fakeSubprocessReady{ready: true}, fakeSubprocessReady{ready: true})

	if err := storeCheck(context.Background()); err == nil {
		t.Fatalf("expected store ping error")
	}
}

func TestBuildReadinessChecks_NilStoreOrSubprocess(t *testing.T) {
	dataSourceCheck, carrierCheck, storeCheck := BuildReadinessChecks(nil, nil, nil)

	if err := dataSourceCheck(context.Background()); err == nil {
		t.Fatalf("expected nil data source to fail readiness")
	}
	if err := carrierCheck(context.Background()); err == nil {
		t.Fatalf("expected nil carrier to fail readiness")
	}
	if err := storeCheck(context.Background()); err == nil {
		t.Fatalf("expected nil store to fail readiness")
	}
}
