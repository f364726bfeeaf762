// Package graph holds the logical pipeline model the translator consumes:
// collections, output tags, the DoFn contract and its signature flags.
package graph

import (
	"context"

	"github.com/google/uuid"

	"weft/internal/element"
)

// Tag names one declared output of a multi-output transform. Tags are
// supplied by the pipeline author, never generated here.
type Tag string

// Collection is a logical handle to one distributed collection. Identity
// is the ID; the coder name binds its element encoding.
type Collection struct {
	ID    string
	Name  string
	Coder string
}

func NewCollection(name, coderName string) *Collection {
	return &Collection{ID: uuid.NewString(), Name: name, Coder: coderName}
}

// Signature describes the features a DoFn requires from the engine.
// The batch translator rejects everything it cannot run.
type Signature struct {
	Splittable              bool
	UsesState               bool
	UsesTimers              bool
	OnWindowExpiration      bool
	RequiresTimeSortedInput bool
}

// Emit routes one element to a declared output tag.
type Emit func(tag Tag, e element.Windowed)

// SideReader resolves side-input lookups during element processing.
// Implemented by the sideinput package; the interface lives here so DoFns
// need no dependency on the physical layer.
type SideReader interface {
	Get(tag Tag, window string) ([]element.Windowed, error)
}

// DoFn is the user transform: applied once per element, may emit any
// number of elements to any declared tag.
type DoFn interface {
	Signature() Signature
	Process(ctx context.Context, elem element.Windowed, side SideReader, emit Emit) error
}

// AccessPattern is how a DoFn reads a side input view.
type AccessPattern string

const (
	AccessIterable AccessPattern = "iterable"
	AccessMultimap AccessPattern = "multimap"
)

// View declares one side input: a read-only materialized snapshot of
// Source, addressed inside the DoFn by Tag.
type View struct {
	Tag    Tag
	Source *Collection
	Access AccessPattern
}

// ParDo is one multi-output transform node.
type ParDo struct {
	Name          string
	Fn            DoFn
	Input         *Collection
	MainOut       Tag
	AdditionalOut []Tag
	Outputs       map[Tag]*Collection
	SideInputs    []View
}

// OutputTags returns the declared tags, main first, then the additional
// tags in declaration order. The tag filter iterates in this order, which
// fixes the column index assignment for one translation call.
func (p *ParDo) OutputTags() []Tag {
	tags := make([]Tag, 0, 1+len(p.AdditionalOut))
	tags = append(tags, p.MainOut)
	tags = append(tags, p.AdditionalOut...)
	return tags
}

// Graph tracks downstream consumption so the translator can drop output
// collections nobody reads.
type Graph struct {
	consumers map[string]int
}

func New() *Graph {
	return &Graph{consumers: make(map[string]int)}
}

// AddConsumer records one downstream reader of col.
func (g *Graph) AddConsumer(col *Collection) {
	g.consumers[col.ID]++
}

// IsLeaf reports whether col has no downstream consumer.
func (g *Graph) IsLeaf(col *Collection) bool {
	return g.consumers[col.ID] == 0
}
