// Package solid defines the scheduling unit shared by the step executor
// and jump controller: one Solid per (item, direction) pair.
package solid

import (
	"context"
	"fmt"

	"github.com/spineflow/engine/internal/engine/resource"
)

// Direction is the execution direction of a solid.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Key uniquely identifies a solid.
type Key struct {
	ItemName  string
	Direction Direction
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ItemName, k.Direction) }

// InputDefinition names one input a solid waits on before it is ready.
type InputDefinition struct {
	Key Key
}

// ComputeFunc runs the solid's actual work, given the resources produced
// by its inputs, and returns the resources it produces.
type ComputeFunc func(ctx context.Context, inputs map[Key][]*resource.Resource) ([]*resource.Resource, error)

// Solid is one scheduling unit: an item executing in one direction.
type Solid struct {
	Key        Key
	InputDefs  []InputDefinition
	Compute    ComputeFunc
	received   map[Key]bool
}

// New builds a Solid for the given item/direction.
func New(itemName string, direction Direction, inputDefs []InputDefinition, compute ComputeFunc) *Solid {
	return &Solid{
		Key:       Key{ItemName: itemName, Direction: direction},
		InputDefs: inputDefs,
		Compute:   compute,
		received:  map[Key]bool{},
	}
}

// MarkReceived records that an input has delivered a value.
func (s *Solid) MarkReceived(k Key) { s.received[k] = true }

// Reset clears the received-inputs bookkeeping, used when a jump re-queues
// this solid for another iteration.
func (s *Solid) Reset() { s.received = map[Key]bool{} }

// IsReady reports whether every input definition has received a value.
func (s *Solid) IsReady() bool {
	for _, def := range s.InputDefs {
		if !s.received[def.Key] {
			return false
		}
	}
	return true
}

// DependencyKeys returns the keys this solid depends on.
func (s *Solid) DependencyKeys() []Key {
	keys := make([]Key, len(s.InputDefs))
	for i, d := range s.InputDefs {
		keys[i] = d.Key
	}
	return keys
}
