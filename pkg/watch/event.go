package watch

import (
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

type EventType string

const (
	Created  EventType = "CREATED"
	Updated  EventType = "UPDATED"
	Deleted  EventType = "DELETED"
	Error    EventType = "ERROR"
	Bookmark EventType = "BOOKMARK"
)

// Event is a change notification. Bookmarks only carry a resume cursor in
// Resource.Metadata.ResourceVersion, errors carry a problem and are terminal for the stream.
type Event struct {
	Type     EventType        `json:"type"`
	Resource *meta.Object     `json:"resource,omitempty"`
	Problem  *problem.Problem `json:"problem,omitempty"`
}

func NewEvent(t EventType, resource *meta.Object) Event {
	return Event{Type: t, Resource: resource}
}

func NewBookmark(resourceVersion string) Event {
	return Event{
		Type:     Bookmark,
		Resource: &meta.Object{Metadata: meta.ObjectMeta{ResourceVersion: resourceVersion}},
	}
}

func NewError(p *problem.Problem) Event {
	return Event{Type: Error, Problem: p}
}

// IsChange reports whether the event describes a create, update or delete
func (e Event) IsChange() bool {
	return e.Type == Created || e.Type == Updated || e.Type == Deleted
}

// Identity returns the identity of the changed resource. Bookmarks and errors have none.
func (e Event) Identity() (meta.Identity, bool) {
	if !e.IsChange() || e.Resource == nil {
		return meta.Identity{}, false
	}
	return e.Resource.Identity(), true
}

// ResourceVersion returns the resume cursor carried by the event
func (e Event) ResourceVersion() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.Metadata.ResourceVersion
}

// Filter selects the events a subscriber receives
type Filter func(Event) bool

// Handler receives events on the publisher's goroutine
type Handler func(Event)

// IdentityFilter passes changes of one resource identity. Bookmarks and errors always pass,
// changes without a resource never do.
func IdentityFilter(id meta.Identity) Filter {
	return func(e Event) bool {
		if !e.IsChange() {
			return true
		}
		got, ok := e.Identity()
		return ok && got == id
	}
}

// NamespaceFilter passes changes inside namespace. An empty namespace passes everything.
func NamespaceFilter(namespace string) Filter {
	return func(e Event) bool {
		got, ok := e.Identity()
		return namespace == "" || !ok || got.Namespace == namespace
	}
}

// SelectorFilter passes changes of resources whose labels match selectors
func SelectorFilter(selectors labels.Selectors) Filter {
	return func(e Event) bool {
		if !e.IsChange() || e.Resource == nil {
			return true
		}
		return selectors.Matches(e.Resource.Metadata.Labels)
	}
}

// TypeFilter drops events of the given types
func TypeFilter(excluded ...EventType) Filter {
	return func(e Event) bool {
		for _, t := range excluded {
			if e.Type == t {
				return false
			}
		}
		return true
	}
}

// And passes events every filter passes. Nil filters are ignored.
func And(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}
