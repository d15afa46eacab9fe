/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gptp

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CounterID identifies one of the per-port/per-domain counters exposed via
// GetStatsValue.
type CounterID uint8

// Counters this core tracks.
const (
	CounterSyncReceived CounterID = iota
	CounterFollowUpReceived
	CounterPdelayReqSent
	CounterPdelayRespReceived
	CounterSyncOutliersRejected
	CounterLostPdelayResponses
	CounterSignalingSent
	CounterSyncSent
	CounterFollowUpSent
)

// statsAllDomains is the sentinel "0xFFFF" domain_or_0xFFFF value meaning
// "aggregate across all domains".
const statsAllDomains = 0xFFFF

var counterNames = map[CounterID]string{
	CounterSyncReceived:         "sync_received",
	CounterFollowUpReceived:     "follow_up_received",
	CounterPdelayReqSent:        "pdelay_req_sent",
	CounterPdelayRespReceived:   "pdelay_resp_received",
	CounterSyncOutliersRejected: "sync_outliers_rejected",
	CounterLostPdelayResponses:  "lost_pdelay_responses",
	CounterSignalingSent:        "signaling_sent",
	CounterSyncSent:             "sync_sent",
	CounterFollowUpSent:         "follow_up_sent",
}

// Stats is the prometheus-backed counters surface behind GetStatsValue and
// ClearStats. Engine.Init always builds one; methods on a nil *Stats do
// nothing.
type Stats struct {
	vec    *prometheus.CounterVec
	values map[string]*uint64
}

// NewStats registers a gptp_events_total counter vector with reg (pass
// prometheus.NewRegistry() or prometheus.DefaultRegisterer's registry for
// production use).
func NewStats(reg prometheus.Registerer) *Stats {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gptp",
		Name:      "events_total",
		Help:      "gPTP protocol events by counter, domain and port.",
	}, []string{"counter", "domain", "port"})
	if reg != nil {
		reg.MustRegister(vec)
	}
	return &Stats{vec: vec, values: make(map[string]*uint64)}
}

func statsKey(domain, port uint8, counter CounterID) string {
	return fmt.Sprintf("%d/%d/%d", domain, port, counter)
}

// Incr increments counter for (domain, port).
func (s *Stats) Incr(domain, port uint8, counter CounterID) {
	if s == nil {
		return
	}
	key := statsKey(domain, port, counter)
	v, ok := s.values[key]
	if !ok {
		zero := uint64(0)
		v = &zero
		s.values[key] = v
	}
	*v++
	name, ok := counterNames[counter]
	if !ok {
		name = "unknown"
	}
	s.vec.WithLabelValues(name, fmt.Sprintf("%d", domain), fmt.Sprintf("%d", port)).Inc()
}

// GetStatsValue returns the counter's current value for (domainOr0xFFFF,
// port). Per OQ2, an unknown domain/port/counter combination zeroes the
// out-param rather than returning an error: GetStatsValue is a
// best-effort reporting surface, not a correctness-critical path.
func (s *Stats) GetStatsValue(domainOr0xFFFF uint16, port uint8, counter CounterID) uint32 {
	if s == nil {
		return 0
	}
	if domainOr0xFFFF == statsAllDomains {
		var total uint64
		for key, v := range s.values {
			var d, p uint8
			var c CounterID
			if _, err := fmt.Sscanf(key, "%d/%d/%d", &d, &p, &c); err == nil && p == port && c == counter {
				total += *v
			}
		}
		return uint32(total)
	}
	v, ok := s.values[statsKey(uint8(domainOr0xFFFF), port, counter)]
	if !ok {
		return 0
	}
	return uint32(*v)
}

// ClearStats resets every tracked counter value to zero. The prometheus
// vector itself is left registered; only the in-memory accounting (and
// thus future GetStatsValue reads) is cleared.
func (s *Stats) ClearStats() {
	if s == nil {
		return
	}
	for k := range s.values {
		zero := uint64(0)
		s.values[k] = &zero
	}
	s.vec.Reset()
}
