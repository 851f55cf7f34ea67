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

// Package feed defines the feedtype bitmask and the product-class
// subscription algebra used for admission decisions: a subscription is a
// time window plus a list of (feedtype, pattern) specifications, and the
// algebra computes subset, reduction, and normalization over the
// specification lists.
package feed

import (
	"fmt"
	"strings"
)

// FeedType is a set of named data-feed categories encoded as bits.
// Subscriptions select feeds by OR-ing bits together.
type FeedType uint32

// Named feed categories. Composite masks (DDPLUS, WMO, UNIDATA, NPORT)
// are unions of the primitive bits below them.
const (
	None FeedType = 0

	PPS   FeedType = 1 << 0
	DDS   FeedType = 1 << 1
	HDS   FeedType = 1 << 2
	IDS   FeedType = 1 << 3
	Spare FeedType = 1 << 4

	DDPlus = PPS | DDS
	WMO    = PPS | DDS | HDS | IDS | Spare

	UniWisc FeedType = 1 << 5
	Unidata          = WMO | UniWisc

	PCWS FeedType = 1 << 6
	FSL2 FeedType = 1 << 7
	FSL3 FeedType = 1 << 8
	FSL4 FeedType = 1 << 9
	FSL5 FeedType = 1 << 10
	FSL           = PCWS | FSL2 | FSL3 | FSL4 | FSL5

	GPSSrc    FeedType = 1 << 11
	Conduit   FeedType = 1 << 12
	FNexrad   FeedType = 1 << 13
	Lightning FeedType = 1 << 14
	WSI       FeedType = 1 << 15
	Difax     FeedType = 1 << 16
	FAA604    FeedType = 1 << 17
	GPS       FeedType = 1 << 18
	FNMOC     FeedType = 1 << 19
	GEM       FeedType = 1 << 20

	NImage FeedType = 1 << 21
	NText  FeedType = 1 << 22
	NGrid  FeedType = 1 << 23
	NPoint FeedType = 1 << 24
	NGraph FeedType = 1 << 25
	NOther FeedType = 1 << 26
	NPort           = NImage | NText | NGrid | NPoint | NGraph | NOther

	Nexrad3 FeedType = 1 << 27
	Nexrad2 FeedType = 1 << 28
	NXRDSrc FeedType = 1 << 29
	Exp     FeedType = 1 << 30

	Any FeedType = 1<<31 - 1
)

// feedNames maps composite masks before their components so that
// String() prefers the shortest rendering. Order matters.
var feedNames = []struct {
	mask FeedType
	name string
}{
	{Any, "ANY"},
	{Unidata, "UNIDATA"},
	{WMO, "WMO"},
	{NPort, "NPORT"},
	{FSL, "FSL"},
	{DDPlus, "DDPLUS"},
	{PPS, "PPS"},
	{DDS, "DDS"},
	{HDS, "HDS"},
	{IDS, "IDS"},
	{Spare, "SPARE"},
	{UniWisc, "UNIWISC"},
	{PCWS, "PCWS"},
	{FSL2, "FSL2"},
	{FSL3, "FSL3"},
	{FSL4, "FSL4"},
	{FSL5, "FSL5"},
	{GPSSrc, "GPSSRC"},
	{Conduit, "CONDUIT"},
	{FNexrad, "FNEXRAD"},
	{Lightning, "LIGHTNING"},
	{WSI, "WSI"},
	{Difax, "DIFAX"},
	{FAA604, "FAA604"},
	{GPS, "GPS"},
	{FNMOC, "FNMOC"},
	{GEM, "GEM"},
	{NImage, "NIMAGE"},
	{NText, "NTEXT"},
	{NGrid, "NGRID"},
	{NPoint, "NPOINT"},
	{NGraph, "NGRAPH"},
	{NOther, "NOTHER"},
	{Nexrad3, "NEXRAD3"},
	{Nexrad2, "NEXRAD2"},
	{NXRDSrc, "NXRDSRC"},
	{Exp, "EXP"},
}

// Contains reports whether every bit of sub is also set in ft.
func (ft FeedType) Contains(sub FeedType) bool {
	return sub&^ft == None
}

// String renders the mask as a "|"-separated list of feed names,
// greedily using composite names first. The zero mask renders as "NONE".
func (ft FeedType) String() string {
	if ft == None {
		return "NONE"
	}
	var (
		parts []string
		left  = ft
	)
	for _, fn := range feedNames {
		if fn.mask != None && left&fn.mask == fn.mask {
			parts = append(parts, fn.name)
			left &^= fn.mask
		}
		if left == None {
			break
		}
	}
	if left != None {
		parts = append(parts, fmt.Sprintf("%#x", uint32(left)))
	}
	return strings.Join(parts, "|")
}

// Parse converts a "|"-separated list of feed names into a mask.
// Names are case-insensitive. "NONE" yields the zero mask.
func Parse(s string) (FeedType, error) {
	var ft FeedType
	for _, tok := range strings.Split(s, "|") {
		tok = strings.TrimSpace(tok)
		if tok == "" || strings.EqualFold(tok, "NONE") {
			continue
		}
		found := false
		for _, fn := range feedNames {
			if strings.EqualFold(fn.name, tok) {
				ft |= fn.mask
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown feedtype %q", tok)
		}
	}
	return ft, nil
}
