// Package crawler implements the single-domain crawl engine. A DomainRun owns
// a priority Frontier and drives bounded PageFetcher goroutines from one
// coordinator until the frontier is exhausted or the page budget is spent.
package crawler
