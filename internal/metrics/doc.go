// Package metrics exports crawl metrics in the Prometheus format.
//
// A Registry is plugged into the crawler as its Observer to count fetch
// attempts and merge outcomes, and receives every finished CrawlReport to
// publish the graph shape. mandala is a batch tool, so metrics are not
// served over HTTP; they are written once to a textfile for the
// node_exporter textfile collector.
package metrics
