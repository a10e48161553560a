// Package crawler implements the page-acquisition pipeline of the wiki
// crawler: the session/page boundary that browser and HTTP backends satisfy,
// challenge detection, the per-page task state machine, and the sequential
// runner that paces one page after another.
package crawler
