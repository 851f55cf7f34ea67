/*
 *
 * Copyright 2025 windfeed authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	metricsAdmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "windfeed",
		Subsystem: "registry",
		Name:      "admissions_total",
		Help:      "Processes admitted to the upstream registry.",
	})
	metricsPreemptions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "windfeed",
		Subsystem: "registry",
		Name:      "preemptions_total",
		Help:      "Redundant upstream processes signalled to terminate.",
	})
	metricsReductions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "windfeed",
		Subsystem: "registry",
		Name:      "subscription_reductions_total",
		Help:      "Admissions whose subscription was reduced by overlap with existing entries.",
	})
	metricsGrowths = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "windfeed",
		Subsystem: "registry",
		Name:      "segment_growths_total",
		Help:      "Times the shared segment was re-created at a larger capacity.",
	})
	metricsRemovals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "windfeed",
		Subsystem: "registry",
		Name:      "removals_total",
		Help:      "Entries removed from the upstream registry.",
	})
)

func init() {
	prometheus.MustRegister(metricsAdmissions)
	prometheus.MustRegister(metricsPreemptions)
	prometheus.MustRegister(metricsReductions)
	prometheus.MustRegister(metricsGrowths)
	prometheus.MustRegister(metricsRemovals)
}
