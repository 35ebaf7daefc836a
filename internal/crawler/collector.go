package crawler

// Collector accumulates the records of one domain run. It is owned by the
// coordinator goroutine.
type Collector struct {
	records []PageRecord
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a record.
func (c *Collector) Add(record PageRecord) {
	c.records = append(c.records, record)
}

// Len returns the number of collected records.
func (c *Collector) Len() int { return len(c.records) }

// Records returns a copy of the collected records in acceptance order.
func (c *Collector) Records() []PageRecord {
	out := make([]PageRecord, len(c.records))
	copy(out, c.records)
	return out
}
