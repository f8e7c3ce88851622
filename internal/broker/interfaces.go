package broker

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// registerInterface implements spec §4.3 register_interface: project-owned
// (not session-owned), so it survives the registering agent's
// unregistration.
func (b *Broker) registerInterface(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	name, _ := args.str("interface_name")
	definition, _ := args.str("definition")
	filePath, _ := args.str("file_path")

	def := model.InterfaceDef{
		Definition:   definition,
		RegisteredBy: session,
		FilePath:     filePath,
		Timestamp:    b.store.Now(),
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	if err := b.store.HashSet(ctx, store.InterfacesKey(projectID), name, data); err != nil {
		return nil, err
	}
	return Result{"status": "ok", "message": "interface registered"}, nil
}

// listInterfaces implements spec §4.3 list_interfaces.
func (b *Broker) listInterfaces(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	raw, err := b.store.HashGetAll(ctx, store.InterfacesKey(projectID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.InterfaceDef, len(raw))
	for name, data := range raw {
		var def model.InterfaceDef
		if err := json.Unmarshal(data, &def); err != nil {
			continue
		}
		out[name] = def
	}
	return Result{"status": "ok", "interfaces": out}, nil
}

// queryInterface implements spec §4.3 query_interface: an exact hit
// returns the definition; a miss returns similar names ranked by edit
// distance, then lexicographically (spec §9: Levenshtein <= 3 OR a shared
// 3-gram counts as similar).
func (b *Broker) queryInterface(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	name, _ := args.str("interface_name")

	raw, err := b.store.HashGetAll(ctx, store.InterfacesKey(projectID))
	if err != nil {
		return nil, err
	}

	if data, ok := raw[name]; ok {
		var def model.InterfaceDef
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
		return Result{"status": "ok", "found": true, "definition": def.Definition, "interface": def}, nil
	}

	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	for other := range raw {
		d := levenshtein(name, other)
		if d <= 3 || shareTrigram(name, other) {
			candidates = append(candidates, scored{other, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})
	similar := make([]string, 0, len(candidates))
	for _, c := range candidates {
		similar = append(similar, c.name)
	}

	return Result{"status": "not_found", "found": false, "similar": similar}, nil
}

// levenshtein returns the classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// shareTrigram reports whether a and b share any 3-character substring,
// case-insensitive. Strings shorter than 3 runes fall back to full equality
// of their lowercased form.
func shareTrigram(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 3 || len(rb) < 3 {
		return a != "" && a == b
	}
	grams := make(map[string]struct{}, len(ra)-2)
	for i := 0; i+3 <= len(ra); i++ {
		grams[string(ra[i:i+3])] = struct{}{}
	}
	for i := 0; i+3 <= len(rb); i++ {
		if _, ok := grams[string(rb[i:i+3])]; ok {
			return true
		}
	}
	return false
}
