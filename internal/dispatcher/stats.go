package dispatcher

// QueueSizeByBucket returns the per-bucket queue length snapshot, the same
// data QueryStats exposes under PerBucket, as a standalone convenience for
// callers (e.g. the metrics exporter) that only need this one field.
func (w *Worker) QueueSizeByBucket() map[string]int {
	stats := w.QueryStats()
	out := make(map[string]int, len(stats.PerBucket))
	for b, n := range stats.PerBucket {
		out[string(b)] = n
	}
	return out
}
