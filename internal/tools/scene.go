package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entity is one object in the scene graph.
type Entity struct {
	ID         string         `json:"entity_id"`
	Kind       string         `json:"kind"`
	Name       string         `json:"name,omitempty"`
	Parent     string         `json:"parent,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Scene is an in-process scene graph. It stands in for an external engine
// and supplies the scene summary used when assembling prompts.
type Scene struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
	seq      map[string]int
}

func NewScene() *Scene {
	return &Scene{
		entities: make(map[string]*Entity),
		seq:      make(map[string]int),
	}
}

func (s *Scene) Create(kind, name, parent string, props map[string]any) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != "" {
		if _, ok := s.entities[parent]; !ok {
			return Entity{}, fmt.Errorf("parent %q does not exist", parent)
		}
	}
	s.seq[kind]++
	e := &Entity{
		ID:         fmt.Sprintf("%s-%d", kind, s.seq[kind]),
		Kind:       kind,
		Name:       name,
		Parent:     parent,
		Properties: cloneProps(props),
	}
	s.entities[e.ID] = e
	s.order = append(s.order, e.ID)
	return *e, nil
}

// Update merges props into the entity. A nil value deletes the key.
func (s *Scene) Update(id, name string, props map[string]any) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("entity %q does not exist", id)
	}
	if name != "" {
		e.Name = name
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	for k, v := range props {
		if v == nil {
			delete(e.Properties, k)
			continue
		}
		e.Properties[k] = v
	}
	return e.clone(), nil
}

// Delete removes the entity and its descendants, returning every removed id.
func (s *Scene) Delete(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return nil, fmt.Errorf("entity %q does not exist", id)
	}
	removed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, eid := range s.order {
			if e := s.entities[eid]; !removed[eid] && removed[e.Parent] {
				removed[eid] = true
				changed = true
			}
		}
	}

	var ids []string
	kept := s.order[:0]
	for _, eid := range s.order {
		if removed[eid] {
			ids = append(ids, eid)
			delete(s.entities, eid)
			continue
		}
		kept = append(kept, eid)
	}
	s.order = kept
	return ids, nil
}

func (s *Scene) Get(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// Entities returns the entities in creation order, optionally of one kind.
func (s *Scene) Entities(kind string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		e := s.entities[id]
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}

// Summary renders the scene for inclusion in a prompt.
func (s *Scene) Summary() string {
	entities := s.Entities("")
	if len(entities) == 0 {
		return "The scene is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d entities:\n", len(entities))
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s (%s)", e.ID, e.Kind)
		if e.Name != "" {
			fmt.Fprintf(&b, " %q", e.Name)
		}
		if e.Parent != "" {
			fmt.Fprintf(&b, " in %s", e.Parent)
		}
		if len(e.Properties) > 0 {
			keys := make([]string, 0, len(e.Properties))
			for k := range e.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, len(keys))
			for i, k := range keys {
				pairs[i] = fmt.Sprintf("%s=%v", k, e.Properties[k])
			}
			fmt.Fprintf(&b, " [%s]", strings.Join(pairs, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Entity) clone() Entity {
	cp := *e
	cp.Properties = cloneProps(e.Properties)
	return cp
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// RegisterSceneTools binds the scene-editing tools to r.
func RegisterSceneTools(r *Registry, s *Scene) {
	r.RegisterHandler("create_entity", Schema{
		Description: "Create a scene entity such as a part, assembly or annotation.",
		Properties: map[string]Property{
			"kind":       {Type: "string", Description: "Entity kind, e.g. gear, shaft, housing"},
			"name":       {Type: "string", Description: "Human readable name"},
			"parent":     {Type: "string", Description: "Id of the containing entity"},
			"properties": {Type: "object", Description: "Dimensions and other attributes"},
		},
		Required: []string{"kind"},
	}, func(_ context.Context, in map[string]any) (any, error) {
		props, _ := in["properties"].(map[string]any)
		e, err := s.Create(String(in, "kind"), String(in, "name"), String(in, "parent"), props)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entity_id": e.ID}, nil
	})

	r.RegisterHandler("update_entity", Schema{
		Description: "Change attributes of an existing entity. A null value removes the attribute.",
		Properties: map[string]Property{
			"entity_id":  {Type: "string"},
			"name":       {Type: "string"},
			"properties": {Type: "object"},
		},
		Required: []string{"entity_id"},
	}, func(_ context.Context, in map[string]any) (any, error) {
		props, _ := in["properties"].(map[string]any)
		e, err := s.Update(String(in, "entity_id"), String(in, "name"), props)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entity_id": e.ID, "properties": e.Properties}, nil
	})

	r.RegisterHandler("delete_entity", Schema{
		Description: "Delete an entity and everything it contains.",
		Properties: map[string]Property{
			"entity_id": {Type: "string"},
		},
		Required: []string{"entity_id"},
	}, func(_ context.Context, in map[string]any) (any, error) {
		ids, err := s.Delete(String(in, "entity_id"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": ids}, nil
	})

	r.RegisterHandler("list_entities", Schema{
		Description: "List scene entities, optionally only those of one kind.",
		Properties: map[string]Property{
			"kind": {Type: "string"},
		},
	}, func(_ context.Context, in map[string]any) (any, error) {
		return s.Entities(String(in, "kind")), nil
	})
}
