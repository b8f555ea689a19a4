// Package main provides the entry point for the mandala CLI.
//
// mandala crawls a federation of telephone exchanges that publish Mantela
// descriptors (mantela.json) and merges them into one graph of PBXs,
// extensions and the links between them.
//
// Usage:
//
//	mandala crawl https://example.org/mantela.json
//	mandala compare https://example.org/mantela.json
//
// See --help for all available options.
package main

func main() {
	Execute()
}
