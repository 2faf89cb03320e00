package capture

// Expander turns URL pairs into the ordered task list of a job.
type Expander struct {
	Layout Layout
}

// Expand emits one task per present locale URL per viewport, iterating
// pairs, then locales in column order, then viewports in catalog order. The
// returned order is the execution order. Destination paths are unique within
// the result: a path that would repeat gets a digest suffix instead of
// overwriting an earlier capture.
func (e Expander) Expand(root string, pairs []URLPair, viewports []Viewport) []Task {
	tasks := make([]Task, 0, len(pairs)*len(viewports))
	seen := make(map[string]struct{})
	for _, pair := range pairs {
		for _, entry := range pair.Present() {
			for _, vp := range viewports {
				dest := e.Layout.PathFor(root, entry.Locale, vp.Name, entry.URL)
				if _, taken := seen[dest]; taken {
					dest = e.disambiguate(seen, root, entry.Locale, vp.Name, entry.URL)
				}
				seen[dest] = struct{}{}
				tasks = append(tasks, Task{
					Index:       len(tasks),
					URL:         entry.URL,
					Locale:      entry.Locale,
					Viewport:    vp,
					Destination: dest,
				})
			}
		}
	}
	return tasks
}

func (e Expander) disambiguate(seen map[string]struct{}, root, locale, device, rawURL string) string {
	for n := 1; ; n++ {
		candidate := e.Layout.digestPath(root, locale, device, rawURL, n)
		if _, taken := seen[candidate]; !taken {
			return candidate
		}
	}
}

// Expand uses the default layout.
func Expand(root string, pairs []URLPair, viewports []Viewport) []Task {
	return Expander{}.Expand(root, pairs, viewports)
}

// TaskCount is the number of tasks Expand would produce.
func TaskCount(pairs []URLPair, viewports []Viewport) int {
	n := 0
	for _, pair := range pairs {
		n += len(pair.Present())
	}
	return n * len(viewports)
}

// Locales lists the distinct locale tags in first-seen order.
func Locales(pairs []URLPair) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, pair := range pairs {
		for _, entry := range pair.URLs {
			if _, ok := seen[entry.Locale]; ok {
				continue
			}
			seen[entry.Locale] = struct{}{}
			out = append(out, entry.Locale)
		}
	}
	return out
}
