package pageblob

// SizeCache memoizes the page count of one blob as last observed through a
// single Handle.
//
// Create, CreateIfNotExists and Resize set it; Delete and DeleteIfExists clear
// it; reads and page writes leave it untouched. Nothing outside the owning
// Handle invalidates it, so a cache filled before another handle resized the
// same blob stays stale until Invalidate or a mutation through this handle.
type SizeCache struct {
	pages int
	known bool
}

// Get returns the cached page count and whether one has been observed.
func (c *SizeCache) Get() (int, bool) {
	return c.pages, c.known
}

// Set records pages as the current page count.
func (c *SizeCache) Set(pages int) {
	c.pages = pages
	c.known = true
}

// Clear forgets the cached page count.
func (c *SizeCache) Clear() {
	c.pages = 0
	c.known = false
}
