// Package metrics provides build, round and invocation metrics for incbuild.
//
// Components depend on the Recorder interface and default to NoopRecorder, so
// metrics stay optional without nil checks anywhere. When a textfile path or a
// listen address is configured, the CLI swaps in a PrometheusRecorder:
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	svc := build.NewService(pool, build.WithRecorder(rec))
//	...
//	_ = metrics.WriteTextfile(cfg.Metrics.Textfile, reg)
package metrics
