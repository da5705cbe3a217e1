// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes ingestion counters and stage timings.
type Metrics struct {
	FilesParsed    prometheus.Counter
	FilesFailed    prometheus.Counter
	FilesEmbedded  prometheus.Counter
	FilesAnalyzed  prometheus.Counter
	RunsCompleted  *prometheus.CounterVec
	StageDurations *prometheus.HistogramVec
}

// NewMetrics registers the pipeline metrics on reg; nil uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FilesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_files_parsed_total",
			Help: "Files fetched and parsed across all ingestion runs.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_files_failed_total",
			Help: "Files skipped due to fetch or parse failures.",
		}),
		FilesEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_files_embedded_total",
			Help: "Files that completed the embedding stage.",
		}),
		FilesAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repolens_files_analyzed_total",
			Help: "Files that completed the summary stage.",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repolens_ingestion_runs_total",
			Help: "Ingestion runs by terminal status.",
		}, []string{"status"}),
		StageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repolens_stage_duration_seconds",
			Help:    "Wall time per ingestion stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
	}
	reg.MustRegister(m.FilesParsed, m.FilesFailed, m.FilesEmbedded,
		m.FilesAnalyzed, m.RunsCompleted, m.StageDurations)
	return m
}
