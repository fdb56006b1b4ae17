package scheduler

import "time"

// cronHeap is a min-heap of cronJobs keyed by next-fire-instant (spec.md
// §4.6 "Cron Ticker: maintains a min-heap keyed by next-fire-instant").
type cronHeap []*cronJob

func (h cronHeap) Len() int { return len(h) }

func (h cronHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }

func (h cronHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *cronHeap) Push(x interface{}) {
	job := x.(*cronJob)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *cronHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}

// farFuture is used as the wait duration when no cron jobs are scheduled, so
// the run loop's timer still exists and can be reset cheaply once one is
// added.
var farFuture = 24 * time.Hour
