// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface_test

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/ufitools/widgethost/internal/loop"
)

func TestSurface(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Surface Suite")
}

// manualTicker is a tick source driven by the test.
type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type tickers struct {
	mu  sync.Mutex
	all []*manualTicker
}

func (s *tickers) factory(time.Duration) loop.Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &manualTicker{ch: make(chan time.Time)}
	s.all = append(s.all, m)
	return m
}

func (s *tickers) last() *manualTicker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.all) == 0 {
		return nil
	}
	return s.all[len(s.all)-1]
}
