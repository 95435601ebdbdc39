package canvas

import (
	"fmt"
	"sort"
	"sync"
)

// Document is the in-memory design document the agent mutates on behalf of
// remote issuers. All access goes through its methods; the mutex makes each
// operation atomic with respect to the others.
type Document struct {
	mutex sync.RWMutex
	name  string
	nodes map[string]*Node
	order []string // top-level node ids in creation order
	seq   int
}

// NewDocument creates an empty document
func NewDocument(name string) *Document {
	if name == "" {
		name = "untitled"
	}
	return &Document{
		name:  name,
		nodes: make(map[string]*Node),
	}
}

// CreateNode adds a node to the document, optionally under a parent frame.
// It returns a copy of the stored node.
func (d *Document) CreateNode(nodeType NodeType, name, parentID string, x, y, width, height float64) (*Node, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("node dimensions must be positive, got %gx%g", width, height)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if parentID != "" {
		parent, ok := d.nodes[parentID]
		if !ok {
			return nil, fmt.Errorf("parent node not found: %s", parentID)
		}
		if parent.Type != NodeFrame {
			return nil, fmt.Errorf("parent node %s is a %s, only frames hold children", parentID, parent.Type)
		}
	}

	d.seq++
	node := &Node{
		ID:       fmt.Sprintf("node_%d", d.seq),
		Type:     nodeType,
		Name:     name,
		ParentID: parentID,
		X:        x,
		Y:        y,
		Width:    width,
		Height:   height,
	}
	if node.Name == "" {
		node.Name = fmt.Sprintf("%s %d", nodeType, d.seq)
	}

	d.nodes[node.ID] = node
	if parentID == "" {
		d.order = append(d.order, node.ID)
	} else {
		parent := d.nodes[parentID]
		parent.Children = append(parent.Children, node.ID)
	}

	return node.copy(), nil
}

// GetNode returns a copy of a node
func (d *Document) GetNode(id string) (*Node, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return node.copy(), nil
}

// MoveNode repositions a node
func (d *Document) MoveNode(id string, x, y float64) (*Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	node.X = x
	node.Y = y
	return node.copy(), nil
}

// ResizeNode changes a node's dimensions
func (d *Document) ResizeNode(id string, width, height float64) (*Node, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("node dimensions must be positive, got %gx%g", width, height)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	node.Width = width
	node.Height = height
	return node.copy(), nil
}

// SetFill applies a solid fill color to a node
func (d *Document) SetFill(id string, fill Color) (*Node, error) {
	if err := fill.validate(); err != nil {
		return nil, err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	node.Fill = &fill
	return node.copy(), nil
}

// SetText replaces the content of a text node
func (d *Document) SetText(id, text string) (*Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	if node.Type != NodeText {
		return nil, fmt.Errorf("node %s is a %s, not a text node", id, node.Type)
	}
	node.Text = text
	return node.copy(), nil
}

// DeleteNode removes a node and, recursively, its children
func (d *Document) DeleteNode(id string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("node not found: %s", id)
	}

	d.deleteSubtree(node)

	if node.ParentID == "" {
		d.order = removeID(d.order, id)
	} else if parent, ok := d.nodes[node.ParentID]; ok {
		parent.Children = removeID(parent.Children, id)
	}
	return nil
}

func (d *Document) deleteSubtree(node *Node) {
	for _, childID := range node.Children {
		if child, ok := d.nodes[childID]; ok {
			d.deleteSubtree(child)
		}
	}
	delete(d.nodes, node.ID)
}

// Info returns a shallow snapshot of the document
func (d *Document) Info() DocumentInfo {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	return DocumentInfo{
		Name:      d.name,
		NodeCount: len(d.nodes),
		TopLevel:  append([]string(nil), d.order...),
	}
}

// Export returns the whole document for inspection, nodes sorted by id so the
// output is stable.
func (d *Document) Export() Summary {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	summary := Summary{
		Name:   d.name,
		Counts: make(map[NodeType]int),
		Nodes:  make([]*Node, 0, len(d.nodes)),
	}
	for _, node := range d.nodes {
		summary.Counts[node.Type]++
		summary.Nodes = append(summary.Nodes, node.copy())
	}
	sort.Slice(summary.Nodes, func(i, j int) bool {
		return summary.Nodes[i].ID < summary.Nodes[j].ID
	})
	return summary
}

func (n *Node) copy() *Node {
	clone := *n
	clone.Children = append([]string(nil), n.Children...)
	if n.Fill != nil {
		fill := *n.Fill
		clone.Fill = &fill
	}
	return &clone
}

func (c Color) validate() error {
	for _, v := range []float64{c.R, c.G, c.B, c.A} {
		if v < 0 || v > 1 {
			return fmt.Errorf("color components must be within 0..1, got %+v", c)
		}
	}
	return nil
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
