// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/surface"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// scriptedFetcher returns its results in order, then repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	calls   int
	called  chan struct{}
}

func newScriptedFetcher(results ...error) *scriptedFetcher {
	return &scriptedFetcher{results: results, called: make(chan struct{}, 16)}
}

func (f *scriptedFetcher) Fetch(context.Context, string) (telemetry.Sample, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.results)-1)
	f.calls++
	err := f.results[i]
	f.mu.Unlock()
	f.called <- struct{}{}
	if err != nil {
		return telemetry.Sample{}, err
	}
	return telemetry.NewSample(map[string]any{"rsrp": -97.0, "iccid": "89860012345678901234"}), nil
}

func updates(msgs []surface.Message) []surface.TelemetryUpdate {
	var out []surface.TelemetryUpdate
	for _, m := range msgs {
		if u, ok := m.(surface.TelemetryUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

var _ = Describe("Manager", func() {
	var (
		ctx      context.Context
		ticks    *tickers
		l        *loop.Loop
		provider *surface.MemoryProvider
		mgr      *surface.Manager
		bundle   surface.Bundle
	)

	BeforeEach(func() {
		ctx = context.Background()
		ticks = &tickers{}
		l = loop.New(loop.WithTickerFactory(ticks.factory))
		l.Start()
		provider = surface.NewMemoryProvider()
		mgr = surface.NewManager(provider, l)

		var err error
		bundle, err = surface.Builtin("dashboard")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mgr.CloseAll()
		l.Stop()
	})

	flush := func() {
		Expect(l.Do(ctx, func(context.Context) error { return nil })).To(Succeed())
	}

	tick := func(f *scriptedFetcher) {
		ticks.last().ch <- time.Now()
		Eventually(f.called).Should(Receive())
		flush()
	}

	Describe("Open", func() {
		It("injects the bundle with the surface identity", func() {
			s, err := mgr.Open(ctx, surface.OpenOptions{Owner: "inst-1", Title: "UFI Dashboard", Bundle: bundle})
			Expect(err).NotTo(HaveOccurred())

			rc, ok := provider.Context(s.ID())
			Expect(ok).To(BeTrue())
			Expect(string(rc.Document())).To(ContainSubstring(s.ID()))
			Expect(string(rc.Document())).To(ContainSubstring("UFI Dashboard"))
			Expect(s.Owner()).To(Equal("inst-1"))
			Expect(s.Sync()).To(BeNil())
			Expect(mgr.Surfaces()).To(HaveLen(1))
		})

		It("rejects a non-positive interval without leaving a context behind", func() {
			_, err := mgr.Open(ctx, surface.OpenOptions{
				Bundle:        bundle,
				Fetcher:       newScriptedFetcher(nil),
				TelemetryPath: "/api/info",
			})
			Expect(err).To(HaveOccurred())
			Expect(provider.Len()).To(Equal(0))
			Expect(mgr.Surfaces()).To(BeEmpty())
		})
	})

	Describe("telemetry sync", func() {
		It("posts one update per successful poll and survives failures", func() {
			fetcher := newScriptedFetcher(errors.New("modem busy"), nil)
			s, err := mgr.Open(ctx, surface.OpenOptions{
				Bundle:        bundle,
				Fetcher:       fetcher,
				TelemetryPath: "/api/info",
				Interval:      time.Second,
			})
			Expect(err).NotTo(HaveOccurred())
			rc, _ := provider.Context(s.ID())

			tick(fetcher)
			Expect(updates(rc.Posted())).To(BeEmpty())

			tick(fetcher)
			got := updates(rc.Posted())
			Expect(got).To(HaveLen(1))
			v, ok := got[0].Payload.Float(telemetry.FieldRSRP)
			Expect(ok).To(BeTrue())
			Expect(v).To(BeNumerically("==", -97))

			Expect(s.Sync().Failed()).To(Equal(1))
			Expect(s.Sync().Posted()).To(Equal(1))
			Expect(s.Closed()).To(BeFalse())
		})

		It("discards a poll that completes after the surface closed", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			fetcher := telemetry.FetcherFunc(func(context.Context, string) (telemetry.Sample, error) {
				close(started)
				<-release
				return telemetry.NewSample(map[string]any{"rsrp": -80.0}), nil
			})
			s, err := mgr.Open(ctx, surface.OpenOptions{
				Bundle:        bundle,
				Fetcher:       fetcher,
				TelemetryPath: "/api/info",
				Interval:      time.Second,
			})
			Expect(err).NotTo(HaveOccurred())
			rc, _ := provider.Context(s.ID())

			ticks.last().ch <- time.Now()
			Eventually(started).Should(BeClosed())
			s.Close()
			close(release)
			flush()

			Expect(rc.Posted()).To(BeEmpty())
			Expect(s.Sync().Stopped()).To(BeTrue())
			Expect(l.Timers()).To(Equal(0))
		})
	})

	Describe("Close", func() {
		var (
			closes  atomic.Int32
			origins chan surface.CloseOrigin
			s       *surface.Surface
			rc      *surface.MemoryContext
			fetcher *scriptedFetcher
		)

		BeforeEach(func() {
			closes.Store(0)
			origins = make(chan surface.CloseOrigin, 4)
			fetcher = newScriptedFetcher(nil)

			var err error
			s, err = mgr.Open(ctx, surface.OpenOptions{
				Owner:         "inst-1",
				Bundle:        bundle,
				Fetcher:       fetcher,
				TelemetryPath: "/api/info",
				Interval:      time.Second,
				OnClose: func(_ *surface.Surface, origin surface.CloseOrigin) {
					closes.Add(1)
					origins <- origin
				},
			})
			Expect(err).NotTo(HaveOccurred())
			var ok bool
			rc, ok = provider.Context(s.ID())
			Expect(ok).To(BeTrue())
			Expect(l.Timers()).To(Equal(1))
		})

		It("runs teardown once for repeated host closes", func() {
			s.Close()
			s.Close()
			Expect(mgr.Close(s.ID())).To(BeFalse())

			Expect(closes.Load()).To(Equal(int32(1)))
			Expect(<-origins).To(Equal(surface.ClosedByHost))
			Expect(s.Done()).To(BeClosed())
			Expect(s.Exists()).To(BeFalse())
			Expect(provider.Len()).To(Equal(0))
			Expect(l.Timers()).To(Equal(0))
		})

		It("tears down when the surface sends surface-close", func() {
			Expect(rc.Send(surface.SurfaceClose{})).To(BeTrue())

			Eventually(s.Done()).Should(BeClosed())
			Expect(s.Origin()).To(Equal(surface.ClosedBySurface))
			Expect(l.Timers()).To(Equal(0))

			s.Close()
			Consistently(func() int32 { return closes.Load() }).Should(Equal(int32(1)))
		})

		It("tears down when the context is removed externally", func() {
			rc.Destroy()

			Eventually(s.Done()).Should(BeClosed())
			Expect(s.Origin()).To(Equal(surface.ClosedExternally))
			Expect(mgr.Surfaces()).To(BeEmpty())
		})

		It("treats a late post as a no-op", func() {
			s.Close()
			Expect(s.Post(ctx, surface.TelemetryUpdate{})).To(Succeed())
			Expect(rc.Posted()).To(BeEmpty())
		})

		It("stops polling after close", func() {
			tick(fetcher)
			Expect(updates(rc.Posted())).To(HaveLen(1))

			s.Close()
			flush()
			Expect(s.Sync().Stopped()).To(BeTrue())
			Expect(updates(rc.Posted())).To(HaveLen(1))
		})
	})
})
