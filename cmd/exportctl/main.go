// exportctl submits search exports and inspects running ones.
//
// Usage:
//
//	# Run an export in process, without a Temporal cluster
//	exportctl run --local --query '{"results.material.elements": ["Si"]}' --format parquet --out ./exports/si
//
//	# Submit an export to the worker and wait for it
//	exportctl run --user u-1 --owner public --query "{'upload_id': 'abc'}" --format csv --out /data/exports/abc
//
//	# Ask a running export how far it got
//	exportctl status search-export-<run id>
package main

func main() {
	Execute()
}
