// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"net/http"
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	metricLinesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asaph",
		Name:      "vcf_lines_read_total",
		Help:      "Variant lines read from VCF input.",
	})
	metricLinesRetained = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "asaph",
		Name:      "vcf_lines_retained_total",
		Help:      "Variant lines retained after filtering.",
	})
	metricColumns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asaph",
		Name:      "feature_columns_total",
		Help:      "Feature matrix columns produced, by accumulation strategy.",
	}, []string{"strategy"})
	metricModelsTrained = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asaph",
		Name:      "models_trained_total",
		Help:      "Ensemble member models trained, by estimator.",
	}, []string{"estimator"})
)

var metricsHandler sync.Once

func init() {
	prometheus.MustRegister(metricLinesRead, metricLinesRetained, metricColumns, metricModelsTrained)
}

// servePprof serves Go profile data and prometheus metrics at addr
// until the process exits. It does nothing if addr is empty.
func servePprof(addr string) {
	if addr == "" {
		return
	}
	metricsHandler.Do(func() {
		http.Handle("/metrics", promhttp.Handler())
	})
	go func() {
		log.Println(http.ListenAndServe(addr, nil))
	}()
}
