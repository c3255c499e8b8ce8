// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unpack

import (
	"fmt"
	"strings"

	"github.com/go-lpc/sts/stsxyter"
)

// Alerter sends an alarm to the shift crew.
type Alerter interface {
	Alert(subject, body string) error
}

// Watchdog monitors the decoding error rate over windows of timeslices
// and raises an alarm when it exceeds a threshold.
//
// A Watchdog is not safe for concurrent use.
type Watchdog struct {
	alert     Alerter
	window    int     // number of timeslices per window
	threshold float64 // maximum error fraction

	n      int    // number of timeslices in the current window
	first  uint64 // index of the first timeslice of the current window
	hits   uint64
	errors stsxyter.ErrorCounters
}

// NewWatchdog creates a watchdog raising alarms through a when the
// fraction errors/(hits+errors) over window timeslices exceeds threshold.
func NewWatchdog(a Alerter, window int, threshold float64) *Watchdog {
	if window <= 0 {
		window = 1
	}
	return &Watchdog{
		alert:     a,
		window:    window,
		threshold: threshold,
	}
}

// Observe accounts for the result of a timeslice.
// Observe returns an error if the alarm could not be sent.
func (wd *Watchdog) Observe(res Result) error {
	if wd.n == 0 {
		wd.first = res.Index
	}
	wd.n++
	wd.hits += uint64(len(res.Hits))
	wd.errors.Add(res.Errors)

	if wd.n < wd.window {
		return nil
	}

	var (
		nerrs = wd.errors.Total()
		frac  = wd.fraction()
		first = wd.first
		last  = res.Index
		hits  = wd.hits
		errs  = wd.errors
	)
	wd.Reset()

	if nerrs == 0 || frac <= wd.threshold {
		return nil
	}

	subject := fmt.Sprintf(
		"sts: decoding error fraction %.2f%% above threshold %.2f%%",
		100*frac, 100*wd.threshold,
	)

	body := new(strings.Builder)
	fmt.Fprintf(body, "timeslices: [%d, %d]\n", first, last)
	fmt.Fprintf(body, "hits:       %d\n", hits)
	fmt.Fprintf(body, "errors:     %d\n", nerrs)
	errs.Each(func(name string, n uint64) {
		if n == 0 {
			return
		}
		fmt.Fprintf(body, "  %-24s %d\n", name+":", n)
	})

	err := wd.alert.Alert(subject, body.String())
	if err != nil {
		return fmt.Errorf("unpack: could not send error-rate alarm: %w", err)
	}
	return nil
}

func (wd *Watchdog) fraction() float64 {
	nerrs := wd.errors.Total()
	if nerrs == 0 {
		return 0
	}
	return float64(nerrs) / float64(wd.hits+nerrs)
}

// Reset starts a new window.
func (wd *Watchdog) Reset() {
	wd.n = 0
	wd.first = 0
	wd.hits = 0
	wd.errors = stsxyter.ErrorCounters{}
}
