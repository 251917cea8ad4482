package criterion

import (
	"github.com/c360/semtwin/events"
)

// topic holds the model, provider, service and resource segments of a
// subject pattern. An empty segment is a wildcard.
type topic [4]string

func (t topic) covers(o topic) bool {
	for i := range t {
		if t[i] != "" && t[i] != o[i] {
			return false
		}
	}
	return true
}

func (t topic) merge(o topic) (topic, bool) {
	var out topic
	for i := range t {
		switch {
		case t[i] == "":
			out[i] = o[i]
		case o[i] == "" || o[i] == t[i]:
			out[i] = t[i]
		default:
			return out, false
		}
	}
	return out, true
}

// reduceTopics removes duplicates and topics covered by a broader one,
// keeping first-seen order
func reduceTopics(ts []topic) []topic {
	out := make([]topic, 0, len(ts))
	for i, t := range ts {
		covered := false
		for j, o := range ts {
			if i == j {
				continue
			}
			if o.covers(t) && (o != t || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, t)
		}
	}
	return out
}

func renderTopics(ts []topic) []string {
	ts = reduceTopics(ts)
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = events.SubjectPattern(t[0], t[1], t[2], t[3])
	}
	return out
}
