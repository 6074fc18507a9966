package queue

import (
	"github.com/dlforge/xfer/internal/task"
)

// priorityHeap is a container/heap.Interface ordering EnqueueItems by
// (priority ASC, creation_time ASC), per spec.md §3's EnqueueItem ordering.
type priorityHeap []*task.EnqueueItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool { return h[i].Less(h[j]) }

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*task.EnqueueItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// firstAdmissible scans the heap in priority order for the first item whose
// host and group counters both have room under caps, per spec.md §4.2 step
// 1 ("scan the queue in priority order ... otherwise skip and retain").
// The heap's internal slice is only partially ordered, so this walks a
// priority-sorted copy of the index rather than the raw slice.
func (h *priorityHeap) firstAdmissible(caps Caps, byHost, byGroup map[string]int) (*task.EnqueueItem, int, bool) {
	order := sortedIndexes(*h)
	for _, i := range order {
		item := (*h)[i]
		host := item.Task.Host()
		group := item.Task.Group
		if byHost[host] >= caps.MaxConcurrentPerHost {
			continue
		}
		if byGroup[group] >= caps.MaxConcurrentPerGroup {
			continue
		}
		return item, i, true
	}
	return nil, -1, false
}

// sortedIndexes returns the indexes of items in ascending priority order,
// without mutating the heap's slice.
func sortedIndexes(items []*task.EnqueueItem) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && items[idx[j]].Less(items[idx[j-1]]); j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	return idx
}
