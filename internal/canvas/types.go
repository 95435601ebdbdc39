// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package canvas

// NodeType identifies what kind of element a node is
type NodeType string

const (
	NodeFrame     NodeType = "frame"
	NodeRectangle NodeType = "rectangle"
	NodeEllipse   NodeType = "ellipse"
	NodeText      NodeType = "text"
)

// Color is a solid RGBA fill with components in the 0..1 range
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Node is one element in the document tree
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id,omitempty"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Fill     *Color   `json:"fill,omitempty"`
	Text     string   `json:"text,omitempty"`
	Children []string `json:"children,omitempty"`
}

// DocumentInfo is a shallow snapshot of the document
type DocumentInfo struct {
	Name      string   `json:"name"`
	NodeCount int      `json:"node_count"`
	TopLevel  []string `json:"top_level"`
}

// Summary aggregates the document for a quick export
type Summary struct {
	Name   string           `json:"name"`
	Counts map[NodeType]int `json:"counts"`
	Nodes  []*Node          `json:"nodes"`
}
