// Package media holds the small shared vocabulary of the supply chain:
// media kind classification by file extension, the per-kind outstanding
// counters exposed on the status surface, the stepped playback speed
// table, and page-cache warming for files about to play.
package media
