// Package interpolate rewrites a task's properties by substituting
// "${producer.key}" and "${*.key}" placeholders with values pulled
// from its resolved upstream tasks' context maps.
package interpolate

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/kronos-sched/core/internal/task"
)

var placeholder = regexp.MustCompile(`^\$\{([^.]+)\.([^}]+)\}$`)

// Upstream is one resolved upstream instance feeding context into the
// flat interpolation map, carrying enough of the original dependency
// declaration to order deterministically.
type Upstream struct {
	Name      string
	ID        task.TaskID
	CreatedAt int64
	Context   map[string]any
}

// Interpolate rewrites t.Properties in place, substituting
// placeholders from the flattened upstream context map and injecting
// unclaimed bare keys, per the documented last-wins wildcard rule.
func Interpolate(t *task.Task, upstreams []Upstream, logger *zap.Logger) {
	flat, ordered := flatten(upstreams)

	existingKeys := make(map[string]bool, len(t.Properties))
	for k := range t.Properties {
		existingKeys[k] = true
	}

	for k, v := range t.Properties {
		s, ok := v.(string)
		if !ok {
			continue
		}
		m := placeholder.FindStringSubmatch(s)
		if m == nil {
			continue
		}

		producer, key := m[1], m[2]
		value, found := resolvePlaceholder(flat, ordered, producer, key)
		if !found {
			logger.Error("unresolved interpolation placeholder",
				zap.String("task", t.ID().String()), zap.String("placeholder", s))
			t.Properties[k] = nil
			continue
		}
		t.Properties[k] = value
	}

	for _, p := range ordered {
		bareKey := bareKeyOf(p.flatKey)
		if existingKeys[bareKey] {
			continue
		}
		t.Properties[bareKey] = p.value
	}
}

// flatPair is one "{upstreamName}.{key}" → value entry, retained in
// upstream CreatedAt order (id tuple tie-break) for wildcard resolution.
type flatPair struct {
	flatKey string
	value   any
}

// flatten builds both the "{upstreamName}.{key}" → value map and its
// ordered pair form, iterating upstream instances ascending by
// CreatedAt (tie-broken by id tuple) so that later instances overwrite
// earlier ones for named lookups, and so the ordered form drives the
// wildcard's last-wins rule across different producers too.
func flatten(upstreams []Upstream) (map[string]any, []flatPair) {
	ordered := make([]Upstream, len(upstreams))
	copy(ordered, upstreams)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt < ordered[j].CreatedAt
		}
		return ordered[i].ID.Less(ordered[j].ID)
	})

	flat := make(map[string]any)
	var pairs []flatPair
	for _, u := range ordered {
		for k, v := range u.Context {
			flatKey := fmt.Sprintf("%s.%s", u.Name, k)
			flat[flatKey] = v
			pairs = append(pairs, flatPair{flatKey: flatKey, value: v})
		}
	}
	return flat, pairs
}

// resolvePlaceholder handles both "name.key" and the "*.key" wildcard
// form, the latter resolving to the last match in upstream CreatedAt
// order regardless of which producer it came from.
func resolvePlaceholder(flat map[string]any, ordered []flatPair, producer, key string) (any, bool) {
	if producer != "*" {
		v, ok := flat[fmt.Sprintf("%s.%s", producer, key)]
		return v, ok
	}

	var found bool
	var value any
	for _, p := range ordered {
		if bareKeyOf(p.flatKey) == key {
			value = p.value
			found = true
		}
	}
	return value, found
}

func bareKeyOf(flatKey string) string {
	for i := len(flatKey) - 1; i >= 0; i-- {
		if flatKey[i] == '.' {
			return flatKey[i+1:]
		}
	}
	return flatKey
}
