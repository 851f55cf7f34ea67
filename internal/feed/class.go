/*
 *
 * Copyright 2025 windfeed authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package feed

import (
	"fmt"
	"strings"
	"time"
)

// Spec is one product specification: a feedtype mask plus an extended
// regular-expression pattern restricting product identifiers within it.
// The pattern is carried as an opaque string; this package performs no
// regex matching, only exact pattern comparison.
type Spec struct {
	FeedType FeedType
	Pattern  string
}

// SubsetOf reports whether s selects no more than other: the feedtype
// bits are a subset and the patterns are identical.
func (s Spec) SubsetOf(other Spec) bool {
	return other.FeedType.Contains(s.FeedType) && s.Pattern == other.Pattern
}

// String renders the spec as "FEEDTYPE:\"pattern\"".
func (s Spec) String() string {
	return fmt.Sprintf("%s:%q", s.FeedType, s.Pattern)
}

// Class is a product class: a time window plus a list of product
// specifications. The unit of subscription.
//
// The From/To bounds are carried but deliberately excluded from the
// subset, reduction, and equality operations below: admission decisions
// compare only the specification lists.
type Class struct {
	From  time.Time
	To    time.Time
	Specs []Spec
}

// Everything returns a class selecting every product of every feed.
func Everything() Class {
	return Class{
		To:    time.Unix(1<<31-1, 0),
		Specs: []Spec{{FeedType: Any, Pattern: ".*"}},
	}
}

// Nothing returns a class selecting no products.
func Nothing() Class {
	return Class{}
}

// Clone returns a deep copy of c.
func (c Class) Clone() Class {
	out := c
	out.Specs = make([]Spec, len(c.Specs))
	copy(out.Specs, c.Specs)
	return out
}

// Empty reports whether c selects nothing.
func (c Class) Empty() bool {
	return len(c.Specs) == 0
}

// SubsetOf reports whether every spec of c has an identical pattern in
// other with a containing feedtype mask. Time bounds are ignored.
func (c Class) SubsetOf(other Class) bool {
	for _, s := range c.Specs {
		found := false
		for _, o := range other.Specs {
			if s.SubsetOf(o) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EqualSpecs reports whether c and other have the same specification
// sets, ignoring time bounds and ordering.
func (c Class) EqualSpecs(other Class) bool {
	return c.SubsetOf(other) && other.SubsetOf(c)
}

// RemoveFrom clears from every spec of c the feedtype bits of every
// spec of other that has an identical pattern. Time bounds are not
// modified. The receiver's spec list may be left with zero-mask specs;
// call Scrunch to drop them.
func (c *Class) RemoveFrom(other Class) {
	for i := range c.Specs {
		for _, o := range other.Specs {
			if c.Specs[i].Pattern == o.Pattern {
				c.Specs[i].FeedType &^= o.FeedType
			}
		}
	}
}

// Scrunch normalizes c by dropping every spec whose feedtype mask has
// become zero, compacting the list in place. A class scrunched to zero
// specs denotes "nothing allowed".
func (c *Class) Scrunch() {
	kept := c.Specs[:0]
	for _, s := range c.Specs {
		if s.FeedType != None {
			kept = append(kept, s)
		}
	}
	c.Specs = kept
}

// String renders the class's specification list, e.g.
// `{HDS:"foo.*", IDS:".*"}`.
func (c Class) String() string {
	parts := make([]string, len(c.Specs))
	for i, s := range c.Specs {
		parts[i] = s.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
