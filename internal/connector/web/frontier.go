// Package web implements the crawl connector: a FIFO frontier walked under a
// robots-aware politeness policy, with goquery-based extraction.
package web

// Item pairs a URL with its crawl depth.
type Item struct {
	URL   string
	Depth int
}

// Frontier is a FIFO queue of not-yet-visited URLs. A URL can be enqueued at
// most once per run regardless of how often it is discovered.
type Frontier struct {
	items  []Item
	queued map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{queued: make(map[string]struct{})}
}

// Push enqueues the item unless its URL was ever enqueued before. It reports
// whether the item was accepted.
func (f *Frontier) Push(item Item) bool {
	if _, seen := f.queued[item.URL]; seen {
		return false
	}
	f.queued[item.URL] = struct{}{}
	f.items = append(f.items, item)
	return true
}

// Pop dequeues the oldest item.
func (f *Frontier) Pop() (Item, bool) {
	if len(f.items) == 0 {
		return Item{}, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (f *Frontier) Len() int { return len(f.items) }

// Seen reports whether the URL was ever enqueued.
func (f *Frontier) Seen(url string) bool {
	_, ok := f.queued[url]
	return ok
}
