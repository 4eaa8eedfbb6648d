// Package testutil provides fakes and generators for Sensei tests.
//
// This package is intended for use in tests only.
//
// # Fake engines
//
//	f := testutil.NewFakeFactory(version.Numeric{})
//	e, _ := f.Engine(0, 3)
//	fe := e.(*testutil.FakeEngine)
//	fe.FailStart(errors.New("disk full"))
//
// # Random events
//
//	rng := testutil.NewRNG(seed)
//	events := rng.Events(100, 1000)
package testutil
